package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"embeddb/internal/platform/capability"
)

func TestOpen_InMemory(t *testing.T) {
	h := NewTestHandle(t)

	assert.NotEmpty(t, h.ID())
	assert.Equal(t, MemoryStore, h.Store())
	require.NoError(t, h.Probe(context.Background()))
}

func TestOpen_FileStore(t *testing.T) {
	ctx := context.Background()
	store := filepath.Join(t.TempDir(), "data", "app.db")

	gate := capability.NewGate(capability.Provider{}, nil)
	h, err := Open(ctx, DefaultConfig(store), gate.Provider(), nil)
	require.NoError(t, err)
	defer h.Close()

	// The store directory is created on demand.
	require.NoError(t, h.Probe(ctx))

	// Foreign keys pragma took effect.
	var fk int
	require.NoError(t, h.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_EmptyStoreLocation(t *testing.T) {
	gate := capability.NewGate(capability.Provider{}, nil)
	_, err := Open(context.Background(), Config{}, gate.Provider(), nil)
	assert.Error(t, err)
}

func TestHandle_IDsAreUnique(t *testing.T) {
	a := NewTestHandle(t)
	b := NewTestHandle(t)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestHandle_StatementAccounting(t *testing.T) {
	ctx := context.Background()
	h := NewTestHandle(t)

	stmt := "CREATE TABLE t (id INTEGER PRIMARY KEY)"
	_, err := h.ExecContext(ctx, stmt)
	require.NoError(t, err)

	assert.Equal(t, int64(len(stmt)), h.StatementBytes())
}

func TestHandle_CloseIsNilSafe(t *testing.T) {
	var h *Handle
	assert.NoError(t, h.Close())
}

func TestWithinTx_Commit(t *testing.T) {
	ctx := context.Background()
	h := NewTestHandle(t)

	_, err := h.ExecContext(ctx, "CREATE TABLE t (v TEXT)")
	require.NoError(t, err)

	err = h.WithinTx(ctx, func(ctx context.Context) error {
		tx, ok := TxFrom(ctx)
		require.True(t, ok)
		require.NotNil(t, tx)

		_, err := h.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "kept")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, h.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	h := NewTestHandle(t)

	_, err := h.ExecContext(ctx, "CREATE TABLE t (v TEXT)")
	require.NoError(t, err)

	boom := assert.AnError
	err = h.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := h.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "discarded"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, h.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithinTx_RejectsNesting(t *testing.T) {
	ctx := context.Background()
	h := NewTestHandle(t)

	err := h.WithinTx(ctx, func(ctx context.Context) error {
		return h.WithinTx(ctx, func(ctx context.Context) error { return nil })
	})
	assert.Error(t, err)
}

func TestQuerier_ResolvesTxOrPool(t *testing.T) {
	ctx := context.Background()
	h := NewTestHandle(t)

	assert.Equal(t, Querier(h.DB()), h.Querier(ctx))

	_ = h.WithinTx(ctx, func(txCtx context.Context) error {
		tx, _ := TxFrom(txCtx)
		assert.Equal(t, Querier(tx), h.Querier(txCtx))
		return nil
	})
}
