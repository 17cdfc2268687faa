// Package models holds the user directory schema.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DefaultRealm is the directory realm of primary-domain users.
const DefaultRealm = "primary"

// User is a directory account. Username is unique per realm ignoring case; the
// stored value keeps the casing it was created with.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:uuid"`
	Realm        string     `bun:"realm,notnull"`
	Username     string     `bun:"username,notnull"`
	UsernameKey  string     `bun:"username_key,notnull"`
	DisplayName  string     `bun:"display_name,notnull,default:''"`
	PasswordHash *string    `bun:"password_hash"`
	Roles        RoleList   `bun:"roles,type:text,notnull,default:'[]'"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	DisabledAt   *time.Time `bun:"disabled_at"`
}

// Disabled reports whether the account has been switched off.
func (u *User) Disabled() bool {
	return u.DisabledAt != nil
}

// RoleList is stored as a JSON array so both dialects share one column type.
type RoleList []string

// Scan implements sql.Scanner.
func (r *RoleList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*r = RoleList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan RoleList: expected []byte or string, got %T", value)
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return fmt.Errorf("failed to unmarshal RoleList: %w", err)
	}
	return nil
}

// Value implements driver.Valuer.
func (r RoleList) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
