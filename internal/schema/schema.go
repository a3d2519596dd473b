// Package schema brings the persistent store to the expected shape:
// idempotent DDL followed by seed data inserted only into an empty store.
package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"embeddb/internal/platform/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Installer applies DDL and seed data to an open engine handle. Safe to
// run against a store that already carries data from a prior process
// lifetime: every DDL statement uses IF NOT EXISTS semantics and seed
// rows are only inserted when the representative table is empty.
type Installer struct {
	log *slog.Logger
}

// NewInstaller creates a schema installer.
func NewInstaller(log *slog.Logger) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{log: log}
}

// Install runs DDL then conditional seeding. Any statement failure
// aborts and propagates to the caller's current attempt.
func (i *Installer) Install(ctx context.Context, h *engine.Handle) error {
	if err := i.applyDDL(h); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := i.seedIfEmpty(ctx, h); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	return nil
}

// applyDDL replays the embedded migrations against the handle's store.
func (i *Installer) applyDDL(h *engine.Handle) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	drv, err := sqlitemigrate.WithInstance(h.DB(), &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("bind migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// No m.Close() here: closing the instance would close the
	// handle-owned pool out from under the lifecycle manager.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	i.log.Debug("schema installed",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// seedIfEmpty inserts the fixed seed rows in one transaction, only when
// the users table has no rows yet. Re-running initialization against a
// persisted store never duplicates seed data.
func (i *Installer) seedIfEmpty(ctx context.Context, h *engine.Handle) error {
	var count int
	if err := h.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		i.log.Debug("store already seeded", slog.Int("users", count))
		return nil
	}

	return h.WithinTx(ctx, func(ctx context.Context) error {
		for _, stmt := range seedStatements {
			if _, err := h.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
				return fmt.Errorf("seed %s: %w", stmt.table, err)
			}
		}
		i.log.Info("seed data inserted")
		return nil
	})
}

type seedStatement struct {
	table string
	query string
	args  []any
}

var seedStatements = []seedStatement{
	{
		table: "users",
		query: "INSERT INTO users (name, email, role) VALUES (?, ?, ?), (?, ?, ?), (?, ?, ?)",
		args: []any{
			"Alice Johnson", "alice@example.com", "admin",
			"Bob Smith", "bob@example.com", "user",
			"Carol White", "carol@example.com", "user",
		},
	},
	{
		table: "products",
		query: "INSERT INTO products (name, description, price, category) VALUES (?, ?, ?, ?), (?, ?, ?, ?), (?, ?, ?, ?), (?, ?, ?, ?)",
		args: []any{
			"Laptop", "15-inch developer laptop", 1299.99, "electronics",
			"Mechanical Keyboard", "Tenkeyless, tactile switches", 89.50, "electronics",
			"Desk Lamp", "Adjustable LED lamp", 34.00, "furniture",
			"Notebook", "Dotted A5 notebook", 7.95, "stationery",
		},
	},
	{
		table: "orders",
		query: "INSERT INTO orders (user_id, status, total) VALUES (?, ?, ?), (?, ?, ?)",
		args: []any{
			1, "completed", 1389.49,
			2, "pending", 41.95,
		},
	},
	{
		table: "order_items",
		query: "INSERT INTO order_items (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?), (?, ?, ?, ?), (?, ?, ?, ?), (?, ?, ?, ?)",
		args: []any{
			1, 1, 1, 1299.99,
			1, 2, 1, 89.50,
			2, 3, 1, 34.00,
			2, 4, 1, 7.95,
		},
	},
}
