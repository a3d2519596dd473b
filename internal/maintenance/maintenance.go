// Package maintenance runs periodic engine upkeep: WAL checkpointing and
// planner statistics refresh. Jobs go through the query gateway and skip
// silently while the engine is not ready.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"embeddb/internal/gateway"
	"embeddb/internal/shared"
)

// Config holds the cron schedules (six-field specs, with seconds).
type Config struct {
	// CheckpointSpec schedules PRAGMA wal_checkpoint(TRUNCATE).
	CheckpointSpec string
	// OptimizeSpec schedules PRAGMA optimize.
	OptimizeSpec string
	// JobTimeout bounds each job run (default 30s).
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// Scheduler drives the upkeep jobs.
type Scheduler struct {
	cron       *cron.Cron
	gw         *gateway.Gateway
	jobTimeout time.Duration
	log        *slog.Logger
}

// New creates a scheduler with the given jobs registered but not started.
func New(gw *gateway.Gateway, cfg Config) (*Scheduler, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "maintenance"))

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{log: log}),
		),
		gw:         gw,
		jobTimeout: jobTimeout,
		log:        log,
	}

	if cfg.CheckpointSpec != "" {
		if _, err := s.cron.AddFunc(cfg.CheckpointSpec, s.runJob("wal_checkpoint", s.checkpoint)); err != nil {
			return nil, shared.Wrap(err, "schedule checkpoint")
		}
	}
	if cfg.OptimizeSpec != "" {
		if _, err := s.cron.AddFunc(cfg.OptimizeSpec, s.runJob("optimize", s.optimize)); err != nil {
			return nil, shared.Wrap(err, "schedule optimize")
		}
	}
	return s, nil
}

// Start begins scheduling. Jobs run on the cron goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runJob(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		start := time.Now()
		err := job(ctx)
		switch {
		case err == nil:
			s.log.Debug("job finished",
				slog.String("job", name),
				slog.Duration("took", time.Since(start)),
			)
		case shared.IsNotReady(err):
			s.log.Debug("job skipped, engine not ready", slog.String("job", name))
		default:
			s.log.Warn("job failed", slog.String("job", name), slog.Any("err", err))
		}
	}
}

func (s *Scheduler) checkpoint(ctx context.Context) error {
	return s.gw.Exec(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
}

func (s *Scheduler) optimize(ctx context.Context) error {
	return s.gw.Exec(ctx, "PRAGMA optimize")
}

// cronLogger bridges the cron library's logger into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.LogAttrs(context.Background(), slog.LevelDebug, msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := append([]slog.Attr{slog.Any("err", err)}, pairs(keysAndValues)...)
	l.log.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func pairs(keysAndValues []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
	}
	return attrs
}
