// Package app wires the application components: exactly one lifecycle
// manager per process, the query gateway over it, the maintenance
// scheduler, and the diagnostics HTTP surface.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"embeddb/internal/config"
	"embeddb/internal/gateway"
	"embeddb/internal/lifecycle"
	"embeddb/internal/maintenance"
	"embeddb/internal/platform/capability"
	"embeddb/internal/platform/engine"
	"embeddb/internal/platform/logger"
	"embeddb/internal/schema"
	"embeddb/pkg/retry"
)

// App wires application components.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	manager *lifecycle.Manager
	gateway *gateway.Gateway
	maint   *maintenance.Scheduler
}

// New creates the application: loads configuration and constructs the
// single lifecycle manager instance everything else depends on.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "embeddb",
	})

	engCfg := engine.DefaultConfig(cfg.Store.Location)
	engCfg.Debug = cfg.Store.Debug

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.DB.MaxAttempts
	retryCfg.InitialDelay = cfg.DB.RetryBaseDelay
	retryCfg.MaxDelay = cfg.DB.RetryMaxDelay

	manager := lifecycle.NewManager(lifecycle.Options{
		Gate:    capability.NewGate(capability.Provider{}, log),
		Engine:  engCfg,
		Install: schema.NewInstaller(log).Install,
		Retry:   retryCfg,
		Logger:  log,
	})
	gw := gateway.New(manager, log)

	maint, err := maintenance.New(gw, maintenance.Config{
		CheckpointSpec: cfg.Maintenance.CheckpointSpec,
		OptimizeSpec:   cfg.Maintenance.OptimizeSpec,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, log: log, manager: manager, gateway: gw, maint: maint}, nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.log.Info("starting", slog.String("store", a.cfg.Store.Location))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring the engine up eagerly. A failed startup is not fatal for the
	// process: the diagnostics surface stays available and POST /v1/retry
	// can recover once the cause is gone.
	if err := a.manager.Initialize(ctx); err != nil {
		a.log.Error("initial engine startup failed", slog.Any("err", err))
	}

	a.maint.Start()
	defer a.maint.Stop()

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server", slog.Any("err", err))
		}
	}()
	a.log.Info("listening", slog.String("addr", a.cfg.HTTP.Addr))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.manager.Reset(context.Background()); err != nil {
		a.log.Warn("engine shutdown", slog.Any("err", err))
	}
	return logger.Close(a.log)
}
