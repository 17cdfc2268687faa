package repository

import (
	"context"
	"errors"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
)

// ErrUserNotFound is returned when no account matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserRepository exposes persistence operations for directory accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByUsername matches username ignoring case within realm.
	GetByUsername(ctx context.Context, realm, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id string, passwordHash string) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	List(ctx context.Context, realm string) ([]models.User, error)
}
