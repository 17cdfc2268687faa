package iam

import (
	"context"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// authenticateBasic verifies RFC 7617 credentials. applied is false when the parameter
// could not be decoded, letting the chain fall through to the next strategy.
func (s *Resolver) authenticateBasic(ctx context.Context, parameter string, res *Resolution) (*Principal, bool) {
	username, password, err := auth.DecodeBasic(parameter)
	if err != nil {
		res.Attempted = SourceBasic
		res.Failure = err.Error()
		s.logger.Debug("skipping undecodable basic credentials", "error", err)
		return nil, false
	}

	req := ProviderRequest{Credentials: Credentials{Username: username, Password: password}}
	return s.verify(ctx, req, res, SourceBasic), true
}
