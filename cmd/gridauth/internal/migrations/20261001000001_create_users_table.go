package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 creates the users table
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")

	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_realm_username_key
		ON users(realm, username_key)
	`)
	if err != nil {
		return fmt.Errorf("failed to create unique index on (realm, username_key): %w", err)
	}

	if partialIndexes(db) {
		// Partial index keeps lookups of active accounts cheap.
		_, err = db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_users_active
			ON users(realm, username_key) WHERE disabled_at IS NULL
		`)
		if err != nil {
			return fmt.Errorf("failed to create index on active users: %w", err)
		}
	}

	fmt.Println(" OK")
	return nil
}

// down_20261001000001 drops the users table
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping users table...")

	_, err := db.NewDropTable().
		Model((*models.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}

// partialIndexes reports whether the active-users index is created. Only PostgreSQL gets it.
func partialIndexes(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}
