// Package sessions tracks browser sessions and the credential tokens issued to them.
package sessions

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// SweepTicker is the abtime ID of the idle sweeper's ticker.
const SweepTicker = 1

// State is what the manager knows about a session ID.
type State int

const (
	// StateUnknown means the ID was never issued by this node or has been forgotten.
	StateUnknown State = iota
	// StateActive means the session is live; touching it extends its idle deadline.
	StateActive
	// StateEnded means the session was logged out or expired recently.
	StateEnded
)

// ExpiryPublisher fans local expiry events out to other nodes.
type ExpiryPublisher interface {
	PublishExpiry(ctx context.Context, id uuid.UUID) error
}

// Options configures a Manager.
type Options struct {
	CookieName          string
	AuthTokenCookieName string
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	Clock               abtime.AbstractTime
	Logger              *slog.Logger
}

// Manager tracks browser sessions by idle timeout.
//
// It implements iam.SessionStore. Sessions are created by the session middleware, kept
// alive by every request that presents the cookie, and end on logout or after
// IdleTimeout without a request. Ended IDs are remembered for one more IdleTimeout so a
// stale cookie is recognized rather than silently re-registered.
type Manager struct {
	opts Options

	mu          sync.Mutex
	active      map[uuid.UUID]time.Time // last seen
	ended       map[uuid.UUID]time.Time // ended at
	subscribers []func(uuid.UUID)
	publisher   ExpiryPublisher

	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = auth.DefaultSessionCookieName
	}
	if opts.AuthTokenCookieName == "" {
		opts.AuthTokenCookieName = auth.DefaultAuthTokenCookieName
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 20 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = abtime.NewRealTime()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		opts:   opts,
		active: make(map[uuid.UUID]time.Time),
		ended:  make(map[uuid.UUID]time.Time),
		logger: logger.With("component", "sessions"),
	}
}

// SetPublisher installs the cross-node expiry publisher.
func (m *Manager) SetPublisher(p ExpiryPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// CookieName returns the session cookie name.
func (m *Manager) CookieName() string {
	return m.opts.CookieName
}

// AuthTokenCookieName returns the credential token cookie name.
func (m *Manager) AuthTokenCookieName() string {
	return m.opts.AuthTokenCookieName
}

// Start registers a new session and returns its ID.
func (m *Manager) Start() uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.active[id] = m.opts.Clock.Now()
	m.mu.Unlock()
	return id
}

// Touch extends an active session and reports the session's state.
func (m *Manager) Touch(id uuid.UUID) State {
	now := m.opts.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if lastSeen, ok := m.active[id]; ok {
		if now.Sub(lastSeen) > m.opts.IdleTimeout {
			// Expired but not swept yet; the sweeper delivers the notification.
			return StateEnded
		}
		m.active[id] = now
		return StateActive
	}
	if _, ok := m.ended[id]; ok {
		return StateEnded
	}
	return StateUnknown
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// SessionIDFromCookie returns the session the request is bound to. The session
// middleware's decision wins over the raw cookie.
func (m *Manager) SessionIDFromCookie(r *http.Request) uuid.UUID {
	if id, ok := auth.SessionIDFromContext(r.Context()); ok {
		return id
	}
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// TokenFromCookie returns the credential token cookie value, if any.
func (m *Manager) TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(m.opts.AuthTokenCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearSessionCache ends the session without raising expiry notifications.
// Returns false when the session was not active.
func (m *Manager) ClearSessionCache(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	now := m.opts.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[id]; !ok {
		return false
	}
	delete(m.active, id)
	m.ended[id] = now
	return true
}

// OnSessionExpired subscribes fn to expiry notifications. fn runs on the sweeper's
// goroutine (or the relay's for remote expiries) and must not block for long.
func (m *Manager) OnSessionExpired(fn func(id uuid.UUID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Expire ends a session and notifies local subscribers. Used for expiry events that
// originate on another node, so nothing is republished.
func (m *Manager) Expire(id uuid.UUID) {
	now := m.opts.Clock.Now()

	m.mu.Lock()
	delete(m.active, id)
	m.ended[id] = now
	subscribers := append([]func(uuid.UUID){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(id)
	}
}

// Serve runs the idle sweeper until ctx is done.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := m.opts.Clock.NewTicker(m.opts.SweepInterval, SweepTicker)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Channel():
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) String() string {
	return "session-sweeper"
}

// Sweep ends every session idle past the timeout and returns their IDs after notifying
// subscribers and the cross-node publisher.
func (m *Manager) Sweep(ctx context.Context) []uuid.UUID {
	now := m.opts.Clock.Now()

	m.mu.Lock()
	var expired []uuid.UUID
	for id, lastSeen := range m.active {
		if now.Sub(lastSeen) > m.opts.IdleTimeout {
			delete(m.active, id)
			m.ended[id] = now
			expired = append(expired, id)
		}
	}
	for id, endedAt := range m.ended {
		if now.Sub(endedAt) > m.opts.IdleTimeout {
			delete(m.ended, id)
		}
	}
	subscribers := append([]func(uuid.UUID){}, m.subscribers...)
	publisher := m.publisher
	m.mu.Unlock()

	for _, id := range expired {
		for _, fn := range subscribers {
			fn(id)
		}
		if publisher != nil {
			if err := publisher.PublishExpiry(ctx, id); err != nil {
				m.logger.Warn("publish session expiry failed", "session", id, "error", err)
			}
		}
	}
	if len(expired) > 0 {
		m.logger.Debug("swept idle sessions", "count", len(expired))
	}
	return expired
}
