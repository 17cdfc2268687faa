package cmdutil

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
)

// Directory bundles the user repository with its underlying DB connection so callers
// can release both together.
type Directory struct {
	Users *repository.BunUserRepository
	DB    *bun.DB
}

// Close releases the underlying database connection.
func (d *Directory) Close() {
	if d == nil || d.DB == nil {
		return
	}
	_ = bunx.Close(d.DB)
}

// OpenDirectory loads configuration and connects to the account directory for CLI commands.
func OpenDirectory(ctx context.Context) (*Directory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := bunx.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Directory{Users: repository.NewBunUserRepository(db), DB: db}, nil
}
