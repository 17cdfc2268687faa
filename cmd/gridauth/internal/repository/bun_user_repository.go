package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// UsernameKey is the case-folded form usernames are matched on.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Create inserts a new user, filling in ID, realm and timestamps when unset.
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = bunx.NewUUIDv7()
	}
	if user.Realm == "" {
		user.Realm = models.DefaultRealm
	}
	user.UsernameKey = UsernameKey(user.Username)
	if user.UsernameKey == "" {
		return fmt.Errorf("create user: username is required")
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Roles == nil {
		user.Roles = models.RoleList{}
	}

	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("get user by ID: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user of realm by case-insensitive username.
func (r *BunUserRepository) GetByUsername(ctx context.Context, realm, username string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("realm = ?", realm).
		Where("username_key = ?", UsernameKey(username)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrUserNotFound, realm, username)
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

// Update updates an existing user
func (r *BunUserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	user.UsernameKey = UsernameKey(user.Username)
	result, err := r.db.NewUpdate().
		Model(user).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(result, user.ID)
}

// UpdateLastLogin updates the last_login_at timestamp for a user
func (r *BunUserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SetPasswordHash updates the stored bcrypt hash for a user's local credentials.
func (r *BunUserRepository) SetPasswordHash(ctx context.Context, id string, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	return requireRow(result, id)
}

// SetDisabled switches an account off or back on.
func (r *BunUserRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	var disabledAt *time.Time
	now := time.Now()
	if disabled {
		disabledAt = &now
	}
	result, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("disabled_at = ?", disabledAt).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	return requireRow(result, id)
}

// List retrieves the users of realm, or of every realm when realm is empty.
func (r *BunUserRepository) List(ctx context.Context, realm string) ([]models.User, error) {
	var users []models.User
	q := r.db.NewSelect().Model(&users).Order("realm ASC", "username_key ASC")
	if realm != "" {
		q = q.Where("realm = ?", realm)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}
