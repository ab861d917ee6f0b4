// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/api"
	"github.com/JakeFAU/tickercrawl/internal/bootstrap"
	"github.com/JakeFAU/tickercrawl/internal/clock/system"
	"github.com/JakeFAU/tickercrawl/internal/config"
	"github.com/JakeFAU/tickercrawl/internal/coordinator"
	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/dispatcher"
	"github.com/JakeFAU/tickercrawl/internal/estimate"
	collyfetcher "github.com/JakeFAU/tickercrawl/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/tickercrawl/internal/fetcher/headless"
	"github.com/JakeFAU/tickercrawl/internal/harvest"
	idgen "github.com/JakeFAU/tickercrawl/internal/id/uuid"
	"github.com/JakeFAU/tickercrawl/internal/metrics"
	"github.com/JakeFAU/tickercrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/tickercrawl/internal/progress"
	progresssinks "github.com/JakeFAU/tickercrawl/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/tickercrawl/internal/publisher/pubsub"
	pgstore "github.com/JakeFAU/tickercrawl/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/tickercrawl/internal/storage/sqlite"
	"github.com/JakeFAU/tickercrawl/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App holds the shared, long-lived services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      crawler.Store
	fetcher    crawler.Fetcher
	publisher  crawler.Publisher
	registerer prometheus.Registerer
	hub        *progress.Hub
	estimator  *estimate.Estimator
	dispatch   *dispatcher.Dispatcher
	loader     *bootstrap.Loader

	closers []func(context.Context) error
}

// Option overrides a dependency Build would otherwise construct from config.
type Option func(*App)

// WithStore injects the entity/record store.
func WithStore(store crawler.Store) Option {
	return func(a *App) { a.store = store }
}

// WithFetcher injects the fetcher. It is still wrapped by the rate limiter.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithPublisher injects the completion publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRegisterer selects the registry the progress collectors are registered on.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. Resources opened before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(app)
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	metrics.Init()
	app.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("fetcher", cfg.Fetcher.Kind),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err = app.setupTracing(ctx); err != nil {
		return app, err
	}
	if err = app.setupStore(ctx); err != nil {
		return app, err
	}
	if err = app.setupFetcher(); err != nil {
		return app, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return app, err
	}
	if err = app.setupProgress(ctx); err != nil {
		return app, err
	}
	if app.loader, err = bootstrap.New(cfg.Bootstrap.LocatorTemplate, app.logger); err != nil {
		return app, fmt.Errorf("bootstrap loader init failed: %w", err)
	}

	app.estimator = estimate.New(app.store)
	clock := system.New()
	coord := coordinator.New(
		app.store,
		app.store,
		app.fetcher,
		app.publisher,
		app.hub,
		clock,
		coordinator.Config{Topic: cfg.PubSub.TopicName},
		app.logger,
	)
	app.dispatch = dispatcher.New(
		coord,
		app.hub,
		idgen.New(),
		clock,
		dispatcher.Config{QueueSize: cfg.Crawler.QueueSize},
		app.logger,
	)
	return app, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("tracer provider init failed: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Store.DSN,
			MaxConns: a.cfg.Store.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
	case config.DriverSQLite, "":
		store, err := sqlitestore.New(sqlitestore.Config{DSN: a.cfg.Store.DSN})
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown store driver: %s", a.cfg.Store.Driver)
	}
	store := a.store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.logger.Info("store initialized", zap.String("driver", a.cfg.Store.Driver))
	return nil
}

func (a *App) setupFetcher() error {
	if a.fetcher == nil {
		switch a.cfg.Fetcher.Kind {
		case config.FetcherHeadless:
			f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       a.cfg.Fetcher.Headless.MaxParallel,
				UserAgent:         a.cfg.Fetcher.UserAgent,
				NavigationTimeout: a.cfg.FetchTimeout(),
				ScrollPasses:      a.cfg.Fetcher.Headless.ScrollPasses,
				ScrollPause:       a.cfg.ScrollPause(),
				TableSelector:     a.cfg.Fetcher.TableSelector,
				RowSelector:       a.cfg.Fetcher.RowSelector,
				Headers:           a.cfg.HTTPHeaders(),
			})
			if err != nil {
				return fmt.Errorf("headless fetcher init failed: %w", err)
			}
			a.closers = append(a.closers, func(context.Context) error {
				f.Close()
				return nil
			})
			a.fetcher = f
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Fetcher.Headless.MaxParallel))
		default:
			a.fetcher = collyfetcher.New(collyfetcher.Config{
				UserAgent:     a.cfg.Fetcher.UserAgent,
				RespectRobots: a.cfg.Fetcher.RespectRobots,
				Timeout:       a.cfg.FetchTimeout(),
				TableSelector: a.cfg.Fetcher.TableSelector,
				RowSelector:   a.cfg.Fetcher.RowSelector,
				Headers:       a.cfg.HTTPHeaders(),
			})
			a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Fetcher.UserAgent))
		}
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.RPS,
		DefaultBurst: a.cfg.RateLimit.Burst,
	})
	a.fetcher = limiter.Wrap(a.fetcher)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.publisher != nil || !a.cfg.PubSub.Enabled {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub := gcppublisher.New(client)
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress sink init failed: %w", err)
	}
	batchWait, sinkTimeout := a.cfg.HubWaits()
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   batchWait,
		SinkTimeout:    sinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.closers = append(a.closers, a.hub.Close)
	return nil
}

// Bootstrap seeds the entity store from every CSV file matching pattern.
func (a *App) Bootstrap(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = a.cfg.Bootstrap.Files
	}
	if pattern == "" {
		return 0, errors.New("no bootstrap files given")
	}
	n, err := a.loader.LoadFiles(ctx, pattern, a.store)
	if err != nil {
		return n, fmt.Errorf("bootstrap: %w", err)
	}
	return n, nil
}

// Harvest registers every ticker found by walking the paginated listing at
// startURL (or harvest.start_url). A non-positive maxPages selects the
// configured limit.
func (a *App) Harvest(ctx context.Context, startURL string, maxPages int) (harvest.Result, error) {
	if startURL == "" {
		startURL = a.cfg.Harvest.StartURL
	}
	if maxPages <= 0 {
		maxPages = a.cfg.Harvest.MaxPages
	}
	h, err := harvest.New(harvest.Config{
		StartURL:      startURL,
		TableSelector: a.cfg.Harvest.TableSelector,
		RowSelector:   a.cfg.Harvest.RowSelector,
		NextSelector:  a.cfg.Harvest.NextSelector,
		MaxPages:      maxPages,
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		Headers:       a.cfg.HTTPHeaders(),
	}, a.loader, a.logger)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("harvest init failed: %w", err)
	}
	res, err := h.Run(ctx, a.store)
	if err != nil {
		return res, fmt.Errorf("harvest: %w", err)
	}
	return res, nil
}

// RunCrawl processes every pending entity with concurrency workers. A
// non-positive concurrency selects the configured value.
func (a *App) RunCrawl(ctx context.Context, concurrency int) (crawler.RunSummary, error) {
	if concurrency <= 0 {
		concurrency = a.cfg.Crawler.Concurrency
	}
	pending, err := a.store.Pending(ctx)
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("load pending entities: %w", err)
	}
	a.logger.Info("starting crawl run",
		zap.Int("pending", len(pending)),
		zap.Int("concurrency", concurrency),
	)
	return a.dispatch.Run(ctx, pending, concurrency)
}

// ReportProgress computes a fresh progress estimate from the store.
func (a *App) ReportProgress(ctx context.Context) (estimate.Report, error) {
	return a.estimator.Report(ctx)
}

// Handler returns the operator HTTP surface.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.store, a.store, a.estimator, a.logger).Handler()
}

// Serve runs the operator HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition. The progress hub
// is flushed before the store closes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
