package engine

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // embedded engine driver

	"embeddb/internal/platform/capability"
)

// MemoryStore is the store location for a non-persistent engine.
const MemoryStore = ":memory:"

// Config holds engine construction settings. StoreLocation is an opaque
// identifier the engine resolves to a persistent namespace: a file path,
// or MemoryStore for an ephemeral store.
type Config struct {
	StoreLocation string
	Debug         bool

	// PingTimeout bounds the construction-time connectivity check.
	PingTimeout time.Duration
	// BusyTimeout is how long the engine waits on a locked store.
	BusyTimeout time.Duration
	// WALMode enables write-ahead logging for persistent stores.
	WALMode bool
	// ForeignKeys enables referential integrity enforcement.
	ForeignKeys bool
}

// DefaultConfig returns settings suited to a single in-process engine.
func DefaultConfig(storeLocation string) Config {
	return Config{
		StoreLocation: storeLocation,
		PingTimeout:   5 * time.Second,
		BusyTimeout:   5 * time.Second,
		WALMode:       storeLocation != MemoryStore, // WAL is file-backed
		ForeignKeys:   true,
	}
}

// Handle owns exactly one underlying engine instance. It is created on
// successful initialization, closed on reset or teardown, and shared only
// by reference through the lifecycle manager.
type Handle struct {
	id    string
	store string
	db    *sql.DB
	caps  capability.Provider
	log   *slog.Logger
	debug bool

	stmtBytes atomic.Int64
}

// Open constructs an engine instance bound to cfg.StoreLocation. The
// capability provider must already be completed by the gate; Open uses it
// for the handle identity, and the handle keeps it for debug timing and
// statement accounting.
func Open(ctx context.Context, cfg Config, caps capability.Provider, log *slog.Logger) (*Handle, error) {
	if log == nil {
		log = slog.Default()
	}

	if cfg.StoreLocation == "" {
		return nil, fmt.Errorf("store location is empty")
	}
	if cfg.StoreLocation != MemoryStore {
		if dir := filepath.Dir(cfg.StoreLocation); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.StoreLocation)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.StoreLocation, err)
	}

	// The engine is not safe for concurrent physical access: a single
	// connection serializes all statements at the pool boundary. This
	// also keeps an in-memory store on one schema.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store %s: %w", cfg.StoreLocation, err)
	}

	if err := applyPragmas(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &Handle{
		id:    newHandleID(caps),
		store: cfg.StoreLocation,
		db:    db,
		caps:  caps,
		log:   log,
		debug: cfg.Debug,
	}
	log.Debug("engine handle opened",
		slog.String("handle", h.id),
		slog.String("store", cfg.StoreLocation),
	)
	return h, nil
}

// newHandleID draws eight random bytes from the capability provider.
// Handle identity only needs uniqueness within a process lifetime, so a
// failed draw falls back to a clock-derived value.
func newHandleID(caps capability.Provider) string {
	b := make([]byte, 8)
	if caps.RandomBytes != nil {
		if err := caps.RandomBytes(b); err == nil {
			return hex.EncodeToString(b)
		}
	}
	return fmt.Sprintf("t%d", time.Now().UnixNano())
}

func applyPragmas(ctx context.Context, db *sql.DB, cfg Config) error {
	pragmas := make([]string, 0, 4)
	if cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// ID returns the handle's process-unique identity.
func (h *Handle) ID() string {
	return h.id
}

// Store returns the store location the handle is bound to.
func (h *Handle) Store() string {
	return h.store
}

// DB exposes the underlying pool for collaborators that need to drive
// the engine directly, such as the schema installer.
func (h *Handle) DB() *sql.DB {
	return h.db
}

// StatementBytes returns the cumulative UTF-8 size of statements issued
// through the handle, measured by the capability codec.
func (h *Handle) StatementBytes() int64 {
	return h.stmtBytes.Load()
}

// Probe runs a trivial round-trip query to confirm the engine responds.
func (h *Handle) Probe(ctx context.Context) error {
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("probe store %s: %w", h.store, err)
	}
	if one != 1 {
		return fmt.Errorf("probe store %s: unexpected result %d", h.store, one)
	}
	return nil
}

// Close releases the underlying engine instance. Safe on a nil handle.
func (h *Handle) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	h.log.Debug("engine handle closed", slog.String("handle", h.id))
	return h.db.Close()
}

// QueryContext issues a tabular statement against the active querier
// (transaction if one is carried by ctx, the pool otherwise).
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer h.observe(ctx, query)()
	return h.Querier(ctx).QueryContext(ctx, query, args...)
}

// QueryRowContext issues a single-row statement against the active querier.
func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer h.observe(ctx, query)()
	return h.Querier(ctx).QueryRowContext(ctx, query, args...)
}

// ExecContext issues a non-tabular statement against the active querier.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer h.observe(ctx, query)()
	return h.Querier(ctx).ExecContext(ctx, query, args...)
}

// observe accounts the statement's encoded size and, in debug mode,
// logs the call duration measured on the monotonic clock.
func (h *Handle) observe(ctx context.Context, query string) func() {
	if h.caps.Codec.EncodeInto != nil {
		buf := make([]byte, len(query))
		n, _ := h.caps.Codec.EncodeInto(buf, query)
		h.stmtBytes.Add(int64(n))
	}
	if !h.debug || h.caps.Monotonic == nil {
		return func() {}
	}
	start := h.caps.Monotonic()
	return func() {
		h.log.Debug("statement executed",
			slog.String("handle", h.id),
			slog.Duration("took", h.caps.Monotonic()-start),
			slog.String("statement", query),
		)
	}
}
