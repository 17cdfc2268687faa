package bunx

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string for primary keys. It works on both
// dialects without relying on gen_random_uuid().
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
