package iam

import (
	"context"
	"net/url"
)

// Query parameters consumed by the delegated code flow.
const (
	codeParameter  = "code"
	stateParameter = "state"
)

// authenticateCode redeems a delegated authorization code. The provider is told where
// to send the client afterwards: the request URL minus the code and state parameters.
func (s *Resolver) authenticateCode(ctx context.Context, requestURL *url.URL, code string, res *Resolution) *Principal {
	req := ProviderRequest{
		Credentials: Credentials{Code: code},
		State:       requestURL.Query().Get(stateParameter),
		ReturnURL:   returnURL(requestURL),
	}
	return s.verify(ctx, req, res, SourceCode)
}

func returnURL(requestURL *url.URL) string {
	query := requestURL.Query()
	query.Del(codeParameter)
	query.Del(stateParameter)

	target := url.URL{Path: requestURL.Path, RawQuery: query.Encode()}
	return target.String()
}
