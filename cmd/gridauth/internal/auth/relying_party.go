package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
)

// DelegatedIdentity is what an identity provider vouched for when a code was redeemed.
type DelegatedIdentity struct {
	Username string
	Roles    []string
}

// RelyingParty redeems delegated authorization codes against an external OIDC
// provider by wrapping the zitadel/oidc RelyingParty implementation.
//
// The state parameter round-trips the encoded path of the resource that triggered the
// login, so no browser cookie is needed between AuthCodeURL and Redeem. PKCE is not
// used for the same reason; confidential clients authenticate with their secret.
type RelyingParty struct {
	rp              rp.RelyingParty
	usernameClaim   string
	groupsClaim     string
	groupsClaimPath string
}

// NewRelyingParty discovers the issuer and creates a RelyingParty.
func NewRelyingParty(ctx context.Context, cfg config.RelyingParty, httpClient *http.Client) (*RelyingParty, error) {
	var options []rp.Option
	if httpClient != nil {
		options = append(options, rp.WithHTTPClient(httpClient))
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &RelyingParty{
		rp:              relyingParty,
		usernameClaim:   cfg.UsernameClaim,
		groupsClaim:     cfg.GroupsClaim,
		groupsClaimPath: cfg.GroupsClaimPath,
	}, nil
}

// AuthCodeURL returns the URL for the authorization endpoint.
func (r *RelyingParty) AuthCodeURL(state string) string {
	return rp.AuthURL(state, r.rp)
}

// Redeem exchanges a code and maps the verified ID token claims to an identity.
func (r *RelyingParty) Redeem(ctx context.Context, code string) (DelegatedIdentity, error) {
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, r.rp)
	if err != nil {
		return DelegatedIdentity{}, fmt.Errorf("code exchange: %w", err)
	}
	if tokens.IDTokenClaims == nil {
		return DelegatedIdentity{}, fmt.Errorf("code exchange returned no id token")
	}
	return identityFromClaims(tokens.IDTokenClaims.Claims, r.usernameClaim, r.groupsClaim, r.groupsClaimPath)
}

func identityFromClaims(claims map[string]any, usernameClaim, groupsClaim, groupsClaimPath string) (DelegatedIdentity, error) {
	username, err := ExtractUsername(claims, usernameClaim)
	if err != nil {
		return DelegatedIdentity{}, err
	}
	var roles []string
	if groupsClaim != "" {
		if roles, err = ExtractGroups(claims, groupsClaim, groupsClaimPath); err != nil {
			return DelegatedIdentity{}, err
		}
	}
	return DelegatedIdentity{Username: username, Roles: roles}, nil
}
