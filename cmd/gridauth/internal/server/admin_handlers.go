package server

import (
	"errors"
	"log/slog"
	"net/http"

	gridmiddleware "github.com/terraconstructs/gridauth/cmd/gridauth/internal/middleware"
)

// AdminRole is the role required by the admin endpoints.
const AdminRole = "Administrators"

// CacheFlushResponse is returned by POST /admin/cache/flush.
type CacheFlushResponse struct {
	Status           string `json:"status"`
	Revoked          int    `json:"revoked"`
	Refreshing       int    `json:"refreshing"`
	CachedPrincipals int    `json:"cached_principals"`
}

// HandleCacheFlush handles POST /admin/cache/flush.
// Drops every cached directory entry and immediately re-checks the providers that
// auto-refresh, so role changes and disabled accounts take effect without waiting
// for the next refresh tick.
//
// Authorization: requires the Administrators role
func HandleCacheFlush(admin cacheAdmin, svc authService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := gridmiddleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
			return
		}
		if !principal.IsInRole(AdminRole) {
			writeError(w, http.StatusForbidden, errors.New("requires the "+AdminRole+" role"))
			return
		}

		admin.FlushAll()
		revoked := admin.Refresh(r.Context())

		logger.Info("verifier cache flushed", "by", principal.Name, "revoked", revoked)
		writeJSON(w, http.StatusOK, CacheFlushResponse{
			Status:           "success",
			Revoked:          revoked,
			Refreshing:       admin.Refreshing(),
			CachedPrincipals: svc.CachedPrincipals(),
		})
	}
}
