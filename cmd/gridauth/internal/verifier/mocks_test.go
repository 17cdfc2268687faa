package verifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
)

// mockDirectory is an in-memory Directory counting lookups.
type mockDirectory struct {
	mu      sync.Mutex
	users   map[string]*models.User
	lookups int
	logins  []string
	err     error

	// beforeLookup runs ahead of each lookup, letting tests block a refresh mid-flight.
	beforeLookup func(username string)
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{users: make(map[string]*models.User)}
}

func (d *mockDirectory) add(t *testing.T, realm, username, password string, roles ...string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       realm + "/" + username,
		Realm:    realm,
		Username: username,
		Roles:    models.RoleList(roles),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		s := string(hash)
		user.PasswordHash = &s
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[realm+"/"+strings.ToLower(username)] = user
	return user
}

// replace swaps in a copy so cached pointers keep their old state.
func (d *mockDirectory) replace(realm, username string, mutate func(u *models.User)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := realm + "/" + strings.ToLower(username)
	clone := *d.users[key]
	mutate(&clone)
	d.users[key] = &clone
}

func (d *mockDirectory) remove(realm, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, realm+"/"+strings.ToLower(username))
}

func (d *mockDirectory) lookupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

func (d *mockDirectory) GetByUsername(ctx context.Context, realm, username string) (*models.User, error) {
	if d.beforeLookup != nil {
		d.beforeLookup(username)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[realm+"/"+strings.ToLower(username)]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (d *mockDirectory) UpdateLastLogin(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins = append(d.logins, id)
	return nil
}

// mockRedeemer accepts codes listed in identities.
type mockRedeemer struct {
	identities map[string]auth.DelegatedIdentity
}

func (r *mockRedeemer) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (r *mockRedeemer) Redeem(ctx context.Context, code string) (auth.DelegatedIdentity, error) {
	identity, ok := r.identities[code]
	if !ok {
		return auth.DelegatedIdentity{}, errors.New("invalid_grant")
	}
	return identity, nil
}

// mockObserver records verification results.
type mockObserver struct {
	mu      sync.Mutex
	results []bool
}

func (o *mockObserver) RecordVerify(ctx context.Context, success bool, durationMs float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, success)
}
