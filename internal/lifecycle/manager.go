// Package lifecycle owns the engine handle's state machine: it brings
// the embedded engine from cold state to query-ready, deduplicates
// concurrent initialization requests, retries failed startups with
// capped exponential backoff, and exposes a stable readiness signal.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"embeddb/internal/platform/capability"
	"embeddb/internal/platform/engine"
	"embeddb/internal/shared"
	"embeddb/pkg/retry"
)

// OpenFunc constructs an engine handle. Injectable for tests.
type OpenFunc func(ctx context.Context, cfg engine.Config, caps capability.Provider, log *slog.Logger) (*engine.Handle, error)

// InstallFunc brings the store's schema to the expected shape.
// Injectable for tests.
type InstallFunc func(ctx context.Context, h *engine.Handle) error

// Options configures a Manager. The composition root constructs exactly
// one Manager per process and injects it everywhere a database is
// needed; single-instance is a property of the wiring, not of a global.
type Options struct {
	// Gate verifies host primitives before every initialization attempt.
	Gate *capability.Gate
	// Engine is the handle construction configuration.
	Engine engine.Config
	// Open constructs the engine handle (defaults to engine.Open).
	Open OpenFunc
	// Install runs the schema installer. The composition root wires the
	// real installer; a nil Install is a no-op.
	Install InstallFunc
	// Retry is the attempt budget and backoff policy
	// (defaults to retry.DefaultConfig: 3 attempts, 500ms base, 5s cap).
	Retry retry.Config
	// Logger receives lifecycle events (defaults to slog.Default).
	Logger *slog.Logger
}

// flight is one coalesced startup sequence. All callers that arrive
// while it is in progress await done and share err.
type flight struct {
	done chan struct{}
	err  error
}

// Manager is the sole owner of the engine handle and its state
// transitions.
type Manager struct {
	gate    *capability.Gate
	engCfg  engine.Config
	open    OpenFunc
	install InstallFunc
	retry   retry.Config
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	reason error
	handle *engine.Handle
	flight *flight
}

// NewManager creates a lifecycle manager in the Uninitialized state.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gate := opts.Gate
	if gate == nil {
		gate = capability.NewGate(capability.Provider{}, log)
	}
	open := opts.Open
	if open == nil {
		open = engine.Open
	}
	install := opts.Install
	if install == nil {
		install = func(ctx context.Context, h *engine.Handle) error { return nil }
	}
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return &Manager{
		gate:    gate,
		engCfg:  opts.Engine,
		open:    open,
		install: install,
		retry:   cfg,
		log:     log.With(slog.String("component", "lifecycle")),
		state:   StateUninitialized,
	}
}

// Initialize brings the engine to the Ready state. When already Ready it
// returns immediately; when a startup is in flight the caller attaches
// to it rather than starting a second one, so any number of concurrent
// calls observe exactly one startup sequence and share its outcome. From
// Uninitialized or Failed it begins a fresh retry loop.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		f := m.flight
		m.mu.Unlock()
		return f.wait(ctx)
	}

	f := &flight{done: make(chan struct{})}
	m.flight = f
	m.state = StateInitializing
	m.reason = nil
	m.mu.Unlock()

	// The flight runs detached from any single caller's context so one
	// caller's cancellation cannot fail the shared outcome. Waiters can
	// still stop waiting through their own ctx.
	go m.run(context.WithoutCancel(ctx), f)
	return f.wait(ctx)
}

func (f *flight) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

// run executes the retry loop for one flight and settles the state
// machine with its outcome.
func (m *Manager) run(ctx context.Context, f *flight) {
	var handle *engine.Handle

	cfg := m.retry
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		m.log.Warn("initialization attempt failed",
			slog.Int("attempt", attempt),
			slog.Duration("next_delay", next),
			slog.Any("err", err),
		)
		if m.retry.OnRetry != nil {
			m.retry.OnRetry(attempt, err, next)
		}
	}

	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		if m.abandoned(f) {
			return errAbandoned
		}
		h, err := m.attempt(ctx)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}, shared.Retryable)

	m.settle(f, handle, err)
}

// attempt runs one full startup sequence: capability verification,
// engine construction, round-trip probe, schema installation. Any
// failure discards the partially constructed handle.
func (m *Manager) attempt(ctx context.Context) (*engine.Handle, error) {
	if !m.gate.Verify(ctx) {
		return nil, shared.Mark(errors.New("host runtime verification failed"), shared.KindCapability)
	}

	h, err := m.open(ctx, m.engCfg, m.gate.Provider(), m.log)
	if err != nil {
		return nil, shared.Mark(err, shared.KindConstruction)
	}

	if err := h.Probe(ctx); err != nil {
		m.discard(h)
		return nil, shared.Mark(err, shared.KindConstruction)
	}

	if err := m.install(ctx, h); err != nil {
		m.discard(h)
		return nil, shared.Mark(err, shared.KindSchema)
	}
	return h, nil
}

// settle records the flight's outcome, unless a reset abandoned the
// flight, in which case any constructed handle is discarded and the
// state machine is left where reset put it.
func (m *Manager) settle(f *flight, handle *engine.Handle, err error) {
	m.mu.Lock()
	if m.flight != f {
		m.mu.Unlock()
		m.discard(handle)
		if err == nil {
			err = errAbandoned
		}
		f.err = err
		close(f.done)
		return
	}

	m.flight = nil
	if err != nil {
		m.state = StateFailed
		m.reason = err
		m.handle = nil
		m.mu.Unlock()
		m.discard(handle)
		m.log.Error("initialization failed", slog.Any("err", err))
	} else {
		m.state = StateReady
		m.handle = handle
		m.mu.Unlock()
		m.log.Info("engine ready",
			slog.String("handle", handle.ID()),
			slog.String("store", handle.Store()),
		)
	}

	f.err = err
	close(f.done)
}

var errAbandoned = errors.New("initialization abandoned by reset")

// abandoned reports whether a reset detached the flight.
func (m *Manager) abandoned(f *flight) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flight != f
}

// discard closes a partially constructed handle, swallowing secondary
// close errors but logging them.
func (m *Manager) discard(h *engine.Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.log.Warn("discarding handle failed", slog.Any("err", err))
	}
}

// IsReady reports whether the state is Ready and the handle exists.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady && m.handle != nil
}

// State returns the current lifecycle state and, in the Failed state,
// the retained failure reason.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// Acquire returns the engine handle when Ready, ErrNotReady otherwise.
// Collaborators must not retain the handle beyond a single delegated
// call.
func (m *Manager) Acquire() (*engine.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.handle == nil {
		return nil, shared.Wrapf(shared.ErrNotReady, "state is %s", m.state)
	}
	return m.handle, nil
}

// Reset closes the engine handle if present, clears retry and coalescing
// state, and returns to Uninitialized. Safe to call from any state.
// Callers must not issue queries concurrently with Reset: in-flight
// statements are not drained before the handle closes.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.flight = nil // an in-flight startup is abandoned, not awaited
	m.state = StateUninitialized
	m.reason = nil
	m.mu.Unlock()

	m.discard(h)
	m.log.Info("lifecycle reset")
	return ctx.Err()
}

// RetryConnection is Reset followed by Initialize. No independent logic.
func (m *Manager) RetryConnection(ctx context.Context) error {
	if err := m.Reset(ctx); err != nil {
		return err
	}
	return m.Initialize(ctx)
}
