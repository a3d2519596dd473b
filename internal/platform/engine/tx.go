package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// txKey carries the active transaction through a context.
type txKey struct{}

// Querier unifies statement execution over the pool and a transaction,
// so callers work against one interface regardless of transactional
// scope.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// TxFrom extracts the active transaction from the context, if any.
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// Querier returns the active transaction when ctx carries one, the pool
// otherwise.
func (h *Handle) Querier(ctx context.Context) Querier {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return h.db
}

// WithinTx runs fn inside a transaction. The transaction is committed
// when fn returns nil and rolled back otherwise, with fn's error
// returned unchanged. The transaction travels in fn's context and is
// picked up by the handle's statement methods. Nested transactions are
// not supported by the engine.
func (h *Handle) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fmt.Errorf("nested transactions are not supported")
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			h.log.Warn("rollback failed", "handle", h.id, "err", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
