package sessions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

func newTestManager(t *testing.T) (*Manager, *abtime.ManualTime) {
	t.Helper()
	clock := abtime.NewManual()
	return NewManager(Options{
		IdleTimeout:   10 * time.Minute,
		SweepInterval: time.Minute,
		Clock:         clock,
	}), clock
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
	err       error
}

func (p *recordingPublisher) PublishExpiry(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, id)
	return p.err
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Options{})
	assert.Equal(t, auth.DefaultSessionCookieName, m.CookieName())
	assert.Equal(t, auth.DefaultAuthTokenCookieName, m.AuthTokenCookieName())
}

func TestManager_TouchLifecycle(t *testing.T) {
	m, clock := newTestManager(t)

	id := m.Start()
	assert.Equal(t, StateActive, m.Touch(id))
	assert.Equal(t, StateUnknown, m.Touch(uuid.New()))

	// Touching keeps the session alive past the original deadline.
	clock.Advance(8 * time.Minute)
	assert.Equal(t, StateActive, m.Touch(id))
	clock.Advance(8 * time.Minute)
	assert.Equal(t, StateActive, m.Touch(id))

	clock.Advance(11 * time.Minute)
	assert.Equal(t, StateEnded, m.Touch(id))
}

func TestManager_ClearSessionCache(t *testing.T) {
	m, _ := newTestManager(t)

	var notified []uuid.UUID
	m.OnSessionExpired(func(id uuid.UUID) { notified = append(notified, id) })

	id := m.Start()
	assert.True(t, m.ClearSessionCache(id))
	assert.False(t, m.ClearSessionCache(id), "second clear finds nothing")
	assert.False(t, m.ClearSessionCache(uuid.Nil))
	assert.Equal(t, StateEnded, m.Touch(id))
	assert.Empty(t, notified, "logout does not raise expiry")
	assert.Equal(t, 0, m.Len())
}

func TestManager_SweepExpiresIdleSessions(t *testing.T) {
	m, clock := newTestManager(t)
	publisher := &recordingPublisher{err: errors.New("redis down")}
	m.SetPublisher(publisher)

	var notified []uuid.UUID
	m.OnSessionExpired(func(id uuid.UUID) { notified = append(notified, id) })

	idle := m.Start()
	clock.Advance(6 * time.Minute)
	busy := m.Start()
	clock.Advance(6 * time.Minute)

	expired := m.Sweep(context.Background())
	assert.Equal(t, []uuid.UUID{idle}, expired)
	assert.Equal(t, []uuid.UUID{idle}, notified)
	assert.Equal(t, []uuid.UUID{idle}, publisher.published, "publish errors are logged, not fatal")

	assert.Equal(t, StateEnded, m.Touch(idle))
	assert.Equal(t, StateActive, m.Touch(busy))

	// Ended sessions are forgotten after another idle period.
	clock.Advance(9 * time.Minute)
	require.Equal(t, StateActive, m.Touch(busy))
	clock.Advance(2 * time.Minute)
	assert.Empty(t, m.Sweep(context.Background()))
	assert.Equal(t, StateUnknown, m.Touch(idle))
	assert.Equal(t, StateActive, m.Touch(busy))
}

func TestManager_ExpireDoesNotRepublish(t *testing.T) {
	m, _ := newTestManager(t)
	publisher := &recordingPublisher{}
	m.SetPublisher(publisher)

	var notified []uuid.UUID
	m.OnSessionExpired(func(id uuid.UUID) { notified = append(notified, id) })

	id := m.Start()
	m.Expire(id)

	assert.Equal(t, []uuid.UUID{id}, notified)
	assert.Empty(t, publisher.published)
	assert.Equal(t, StateEnded, m.Touch(id))
}

func TestManager_SessionIDFromCookie(t *testing.T) {
	m, _ := newTestManager(t)
	id := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, uuid.Nil, m.SessionIDFromCookie(r))

	r.AddCookie(&http.Cookie{Name: m.CookieName(), Value: id.String()})
	assert.Equal(t, id, m.SessionIDFromCookie(r))

	// The middleware's decision overrides the cookie.
	r = r.WithContext(auth.SetSessionID(r.Context(), uuid.Nil))
	assert.Equal(t, uuid.Nil, m.SessionIDFromCookie(r))

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.AddCookie(&http.Cookie{Name: m.CookieName(), Value: "not-a-uuid"})
	assert.Equal(t, uuid.Nil, m.SessionIDFromCookie(bad))
}

func TestManager_TokenFromCookie(t *testing.T) {
	m, _ := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, m.TokenFromCookie(r))

	r.AddCookie(&http.Cookie{Name: m.AuthTokenCookieName(), Value: "abc"})
	assert.Equal(t, "abc", m.TokenFromCookie(r))
}

func TestManager_ServeStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
