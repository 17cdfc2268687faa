package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/sessions"
)

// SessionTracker is the part of sessions.Manager the session middleware drives.
type SessionTracker interface {
	CookieName() string
	Start() uuid.UUID
	Touch(id uuid.UUID) sessions.State
}

// SessionMiddleware binds every request to a browser session.
//
// An active session from the cookie is touched and recorded on the context. A missing,
// invalid or unknown cookie starts a new session. A cookie naming an ended session also
// gets a new cookie, but the request itself runs without a session (uuid.Nil) so
// nothing is cached under the dead id and a repeated logout finds no session.
func SessionMiddleware(tracker SessionTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.Nil
			if cookie, err := r.Cookie(tracker.CookieName()); err == nil {
				if parsed, err := uuid.Parse(cookie.Value); err == nil {
					id = parsed
				}
			}

			state := sessions.StateUnknown
			if id != uuid.Nil {
				state = tracker.Touch(id)
			}

			switch state {
			case sessions.StateActive:
			case sessions.StateEnded:
				setSessionCookie(w, r, tracker.CookieName(), tracker.Start())
				id = uuid.Nil
			default:
				id = tracker.Start()
				setSessionCookie(w, r, tracker.CookieName(), id)
			}

			next.ServeHTTP(w, r.WithContext(auth.SetSessionID(r.Context(), id)))
		})
	}
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, name string, id uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
