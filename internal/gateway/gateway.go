// Package gateway is the only path through which callers issue
// statements against the engine. Every entry point checks readiness
// first: a call made before the lifecycle manager reaches Ready fails
// with shared.ErrNotReady and never touches the engine.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"embeddb/internal/lifecycle"
	"embeddb/internal/shared"
)

// Field describes one column of a query result.
type Field struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declaredType"`
}

// Row maps column names to values for one result row.
type Row map[string]any

// Result is a query's tabular outcome. It is produced per call and
// owned by the caller; the gateway keeps no reference to it.
type Result struct {
	Fields []Field `json:"fields"`
	Rows   []Row   `json:"rows"`
}

// Gateway delegates statements to the engine handle held by the
// lifecycle manager. It holds no mutable state of its own.
type Gateway struct {
	mgr *lifecycle.Manager
	log *slog.Logger
}

// New creates a query gateway over the given lifecycle manager.
func New(mgr *lifecycle.Manager, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{mgr: mgr, log: log.With(slog.String("component", "gateway"))}
}

// Query executes a tabular statement and returns rows and fields
// verbatim, with no transformation or caching.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	h, err := g.mgr.Acquire()
	if err != nil {
		return nil, err
	}

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}

	result := &Result{
		Fields: make([]Field, len(columns)),
		Rows:   []Row{},
	}
	for i, name := range columns {
		result.Fields[i] = Field{Name: name, DeclaredType: columnTypes[i].DatabaseTypeName()}
	}

	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Exec executes a statement without a tabular result.
func (g *Gateway) Exec(ctx context.Context, query string, args ...any) error {
	h, err := g.mgr.Acquire()
	if err != nil {
		return err
	}
	if _, err := h.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Transaction runs fn inside BEGIN/COMMIT. When fn fails at any step the
// transaction is rolled back and fn's error is surfaced to the caller,
// classified as a transaction failure; the original error remains
// matchable through the chain. The gateway never retries transactions.
// Statements issued through the gateway with fn's context join the
// transaction.
func (g *Gateway) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	h, err := g.mgr.Acquire()
	if err != nil {
		return err
	}
	if err := h.WithinTx(ctx, fn); err != nil {
		return shared.Mark(err, shared.KindTransaction)
	}
	return nil
}
