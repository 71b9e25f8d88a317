// Package server wires configuration, storage, the progress tracker and the
// HTTP API into a runnable application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/api"
	"github.com/JakeFAU/gestionale/internal/config"
	"github.com/JakeFAU/gestionale/internal/logging"
	"github.com/JakeFAU/gestionale/internal/metrics"
	"github.com/JakeFAU/gestionale/internal/storage/memory"
	pgstore "github.com/JakeFAU/gestionale/internal/storage/postgres"
	redisstore "github.com/JakeFAU/gestionale/internal/storage/redis"
	"github.com/JakeFAU/gestionale/internal/storage/sqlite"
	"github.com/JakeFAU/gestionale/internal/store"
)

// database is what the application needs from either SQL backend.
type database interface {
	store.EmployeeRepository
	store.DeliveryRepository
	store.TripRepository
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	db        database
	tracker   store.ProgressTracker
	sweeper   *memory.ProgressTracker
	closers   []func() error
	closeOnce sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return buildWithLogger(ctx, cfg, logger)
}

func buildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("progress_backend", cfg.Progress.Backend),
	)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	if err := app.setupDatabase(ctx); err != nil {
		_ = app.closeResources()
		return nil, err
	}
	if err := app.setupTracker(ctx); err != nil {
		_ = app.closeResources()
		return nil, err
	}

	app.apiServer = api.NewServer(api.Dependencies{
		Repositories: store.Repositories{
			Employees:  app.db,
			Deliveries: app.db,
			Trips:      app.db,
		},
		Tracker:  app.tracker,
		Database: app.db,
	}, *cfg, logger.Named("api"))

	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		repo, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.MaxConnLifetime(),
			PageSize:        a.cfg.Database.PageSize,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.db = repo
		a.closers = append(a.closers, func() error {
			repo.Close()
			return nil
		})
		a.logger.Info("using postgres repositories")
	default:
		repo, err := sqlite.Open(ctx, a.cfg.Database.DSN, a.cfg.Database.PageSize)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		a.db = repo
		a.closers = append(a.closers, repo.Close)
		a.logger.Info("using sqlite repositories", zap.String("dsn", a.cfg.Database.DSN))
	}
	return nil
}

func (a *App) setupTracker(ctx context.Context) error {
	trackerLogger := a.logger.Named("tracker")
	switch a.cfg.Progress.Backend {
	case config.BackendRedis:
		tracker, err := redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.Progress.Redis.Addr,
			Password: a.cfg.Progress.Redis.Password,
			DB:       a.cfg.Progress.Redis.DB,
		},
			redisstore.WithPrefix(a.cfg.Progress.Redis.Prefix),
			redisstore.WithRetention(a.cfg.Retention()),
			redisstore.WithLogger(trackerLogger),
		)
		if err != nil {
			return fmt.Errorf("redis tracker init failed: %w", err)
		}
		a.tracker = tracker
		a.closers = append(a.closers, tracker.Close)
		a.logger.Info("using redis progress tracker", zap.String("addr", a.cfg.Progress.Redis.Addr))
	default:
		tracker := memory.NewProgressTracker(
			memory.WithRetention(a.cfg.Retention()),
			memory.WithLogger(trackerLogger),
			memory.WithSizeObserver(metrics.SetTrackedSessions),
		)
		a.tracker = tracker
		a.sweeper = tracker
		a.logger.Info("using in-memory progress tracker", zap.Duration("retention", a.cfg.Retention()))
	}
	return nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Tracker returns the progress tracker shared with import producers.
func (a *App) Tracker() store.ProgressTracker {
	return a.tracker
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	if a.sweeper != nil && a.cfg.Retention() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepLogger := a.logger.Named("sweeper")
			sweepLogger.Info("sweeper started", zap.Duration("interval", a.cfg.SweepInterval()))
			a.sweeper.Run(ctx, a.cfg.SweepInterval(), metrics.ObserveSweep)
			sweepLogger.Info("sweeper stopped")
		}()
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	closeErr := a.Close()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases database and tracker resources. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.closeResources()
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete")
	})
	return err
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
