package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	gridmiddleware "github.com/terraconstructs/gridauth/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
)

const (
	redirectParameter  = "redir"
	alternateParameter = "useAlternateSecurityProvider"
)

// LoginRequest represents form-login credentials.
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Alternate bool   `json:"alternate"`
}

// LoginResponse represents the response from POST /auth/login when no return path was given.
type LoginResponse struct {
	Name      string   `json:"name"`
	Roles     []string `json:"roles"`
	Domain    string   `json:"domain"`
	ExpiresAt int64    `json:"expires_at"`
}

// WhoamiResponse describes the principal resolved for the current request.
type WhoamiResponse struct {
	Name    string   `json:"name"`
	Roles   []string `json:"roles"`
	Domain  string   `json:"domain"`
	Source  string   `json:"source"`
	Session string   `json:"session,omitempty"`
}

// HandleLogin verifies a username and password and stores them behind the auth token
// cookie, so later requests resolve through the credential token step without sending
// an Authorization header.
//
// The body is JSON or a URL-encoded form. A "redir" value produced by the login
// redirect sends the browser back to the original page.
func HandleLogin(verifier loginVerifier, issuer credentialIssuer, tokenCookieName string, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "login")
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		req, err := parseLoginRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, ErrMissingCredentials)
			return
		}
		alternate := req.Alternate || r.URL.Query().Get(alternateParameter) == "1"

		creds := iam.Credentials{Username: req.Username, Password: req.Password}
		h, err := verifier.CreateProvider(ctx, iam.ProviderRequest{Credentials: creds, Alternate: alternate})
		if err != nil {
			logger.Info("login rejected", "username", req.Username, "error", err)
			writeError(w, http.StatusUnauthorized, ErrInvalidCredentials)
			return
		}
		result := verifier.Verify(ctx, h, creds.Password)
		verifier.Release(h)
		if !result.Authenticated {
			logger.Info("login rejected", "username", req.Username, "reason", result.FailureDetail)
			writeError(w, http.StatusUnauthorized, ErrInvalidCredentials)
			return
		}

		token, err := issuer.Issue(ctx, req.Username, req.Password)
		if err != nil {
			logger.Error("failed to issue credential token", "username", result.Name, "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("failed to issue credential token"))
			return
		}

		expiresAt := time.Now().Add(issuer.TTL())
		http.SetCookie(w, &http.Cookie{
			Name:     tokenCookieName,
			Value:    token,
			Path:     "/",
			Expires:  expiresAt,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
		logger.Info("login succeeded", "username", result.Name, "domain", iam.TrustDomainOf(alternate).String())

		if target, ok := returnPath(r.URL.Query().Get(redirectParameter)); ok {
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		if target, ok := returnPath(r.FormValue(redirectParameter)); ok {
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{
			Name:      result.Name,
			Roles:     iam.NewRoleSet(result.Roles...).Sorted(),
			Domain:    iam.TrustDomainOf(alternate).String(),
			ExpiresAt: expiresAt.Unix(),
		})
	}
}

func parseLoginRequest(r *http.Request) (LoginRequest, error) {
	var req LoginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid request body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, errors.New("invalid form body")
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		req.Alternate = r.PostFormValue(alternateParameter) == "1"
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, nil
}

// returnPath decodes a login redirect's encoded path and accepts it only when it stays
// on this site.
func returnPath(encoded string) (string, bool) {
	if encoded == "" {
		return "", false
	}
	target, err := gridmiddleware.DecodeRedirectPath(encoded)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return "", false
	}
	return target, true
}

// HandleWhoAmI reports the principal the authentication middleware resolved. It serves
// both the auth-test page and /api/whoami.
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := iam.ResolutionFromContext(r.Context())
		if !ok || !res.Authenticated() {
			writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
			return
		}

		response := WhoamiResponse{
			Name:   res.Principal.Name,
			Roles:  res.Principal.CurrentRoles().Sorted(),
			Domain: res.Principal.Domain.String(),
			Source: string(res.Source),
		}
		if res.SessionID != uuid.Nil {
			response.Session = res.SessionID.String()
		}
		writeJSON(w, http.StatusOK, response)
	}
}
