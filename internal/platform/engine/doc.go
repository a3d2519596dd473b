// Package engine owns the embedded SQL engine instance.
//
// A Handle wraps a single in-process engine bound to a store location.
// The connection pool is pinned to one connection because the engine is
// not safe for concurrent physical access; all callers funnel through
// the lifecycle manager and query gateway, which hold the only
// reference.
//
// Construction requires a completed capability provider (see
// internal/platform/capability): the handle draws its identity from the
// random source, measures statement sizes with the codec, and times
// debug-mode statements on the monotonic clock.
//
// Transactions follow the callback style:
//
//	err := h.WithinTx(ctx, func(ctx context.Context) error {
//	    _, err := h.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "Ada")
//	    return err
//	})
//
// The transaction travels in the callback's context; statement methods
// on the handle resolve it automatically.
package engine
