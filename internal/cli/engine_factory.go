package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/journeys"
	"github.com/aretw0/journeys/internal/config"
	"github.com/aretw0/journeys/internal/runtime"
	"github.com/aretw0/journeys/pkg/adapters/file"
	journeyshttp "github.com/aretw0/journeys/pkg/adapters/http"
	"github.com/aretw0/journeys/pkg/adapters/memory"
	"github.com/aretw0/journeys/pkg/adapters/redis"
	"github.com/aretw0/journeys/pkg/adapters/sqlite"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/observability"
	"github.com/aretw0/journeys/pkg/persistence/middleware"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/aretw0/journeys/pkg/runner"
	"github.com/aretw0/journeys/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backend "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is a fully wired engine built from a Config.
type App struct {
	Config   *config.Config
	Engine   *journeys.Engine
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	redisQueue *redis.Queue
	closers    []func() error
}

// NewApp builds the stores, the queue, the messenger and the engine selected by cfg.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger}
	if err := app.wire(); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	cfg := a.Config

	var client *backend.Client
	if cfg.UsesRedis() {
		client = backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
	}
	redisOpts := []redis.Option{redis.WithPrefix(cfg.Redis.Prefix)}

	var db *sqlite.DB
	if cfg.UsesSQLite() {
		var err error
		if db, err = sqlite.Open(cfg.Store.SQLitePath); err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
	}

	var journeyStore ports.JourneyStore
	switch cfg.Store.Journeys {
	case config.BackendRedis:
		journeyStore = redis.NewJourneyStore(client, redisOpts...)
	case config.BackendSQLite:
		journeyStore = db.Journeys()
	case config.BackendFile:
		journeyStore = file.NewJourneyStore(cfg.Store.JourneysDir)
	default:
		journeyStore = memory.NewJourneyStore()
	}

	var traceStore ports.TraceStore
	switch cfg.Store.Traces {
	case config.BackendRedis:
		traceStore = redis.NewTraceStore(client, redisOpts...)
	case config.BackendSQLite:
		traceStore = db.Traces()
	default:
		traceStore = memory.NewTraceStore()
	}
	if key := cfg.Store.PatientIDKey; key != "" {
		mw, err := middleware.NewPseudonymizer([]byte(key))
		if err != nil {
			return err
		}
		traceStore = middleware.Chain(traceStore, mw)
	}

	backoff := ports.ExponentialBackoff(time.Second, time.Minute)
	var queue ports.Queue
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		a.redisQueue = redis.NewQueue(client, cfg.Queue.Name,
			redis.WithQueuePrefix(cfg.Redis.Prefix),
			redis.WithPollInterval(cfg.Queue.PollInterval),
			redis.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
			redis.WithMaxAttempts(cfg.Queue.MaxAttempts),
			redis.WithBackoff(backoff),
			redis.WithQueueLogger(a.Logger),
		)
		queue = a.redisQueue
	default:
		queue = memory.NewQueue(
			memory.WithMaxAttempts(cfg.Queue.MaxAttempts),
			memory.WithBackoff(backoff),
			memory.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		)
	}

	var messenger ports.Messenger = runtime.NewLogMessenger(a.Logger)
	if client != nil {
		messenger = redis.NewDedupeMessenger(client, messenger, redisOpts...)
	}

	hooks := observability.LoggingHooks(a.Logger)
	var deliveryHooks []runner.Option
	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := observability.NewMetrics(a.Registry)
		if err != nil {
			return err
		}
		a.Metrics = m
		hooks = domain.ChainHooks(hooks, m.Hooks())
		deliveryHooks = append(deliveryHooks, runner.WithDeliveryHook(m.ObserveDelivery))
	}

	// Deliveries of one run are serialized within the process, and across
	// processes when the queue is shared through Redis.
	lockOpts := []session.Option{session.WithLogger(a.Logger)}
	if client != nil && a.redisQueue != nil {
		lockOpts = append(lockOpts,
			session.WithLocker(redis.NewLocker(client, cfg.Redis.Prefix)),
			session.WithLockTTL(cfg.Queue.StepTimeout+5*time.Second),
		)
	}
	locks := session.NewManager(lockOpts...)

	workerOpts := append([]runner.Option{
		runner.WithConcurrency(cfg.Queue.Concurrency),
		runner.WithMiddleware(runner.RunLock(locks), runner.Timeout(cfg.Queue.StepTimeout)),
	}, deliveryHooks...)

	eng, err := journeys.New(
		journeys.WithLogger(a.Logger),
		journeys.WithJourneyStore(journeyStore),
		journeys.WithTraceStore(traceStore),
		journeys.WithQueue(queue),
		journeys.WithMessenger(messenger),
		journeys.WithLifecycleHooks(hooks),
		journeys.WithWorkerOptions(workerOpts...),
	)
	if err != nil {
		return err
	}
	a.Engine = eng
	return nil
}

// Close releases the connections opened by NewApp.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// HTTPHandler returns the API handler, with /metrics when metrics are enabled.
func (a *App) HTTPHandler() (http.Handler, error) {
	opts := []journeyshttp.Option{journeyshttp.WithLogger(a.Logger)}
	if a.Registry != nil {
		opts = append(opts, journeyshttp.WithMetricsHandler(
			promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})))
	}
	return journeyshttp.NewHandler(a.Engine, opts...)
}

// RunWorkers runs the worker pool, and the Redis reaper when the queue is Redis, until ctx is done.
func (a *App) RunWorkers(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Engine.Run(gCtx)
	})
	if a.redisQueue != nil {
		g.Go(func() error {
			a.reap(gCtx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) reap(ctx context.Context) {
	interval := a.Config.Queue.VisibilityTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := a.redisQueue.Reap(ctx, now); err != nil && ctx.Err() == nil {
				a.Logger.Warn("reap failed", "err", err)
			}
		}
	}
}

// Serve runs the HTTP API on addr next to the workers until ctx is done.
func (a *App) Serve(ctx context.Context, addr string, withWorkers bool) error {
	handler, err := a.HTTPHandler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("graceful shutdown did not complete", "err", err)
			return srv.Close()
		}
		a.Logger.Info("http server stopped")
		return nil
	})
	if withWorkers {
		g.Go(func() error {
			return a.RunWorkers(gCtx)
		})
	}
	return g.Wait()
}
