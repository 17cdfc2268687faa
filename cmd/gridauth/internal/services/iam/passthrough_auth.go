package iam

import "context"

// authenticatePassthrough verifies the identity the transport layer already trusts. A
// request without an ambient identity yields no principal.
func (s *Resolver) authenticatePassthrough(ctx context.Context, res *Resolution) *Principal {
	if res.Ambient == nil {
		return nil
	}

	req := ProviderRequest{
		Credentials: Credentials{Username: res.Ambient.Name, Trusted: res.Ambient},
	}
	return s.verify(ctx, req, res, SourcePassthrough)
}
