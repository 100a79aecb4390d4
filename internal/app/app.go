package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/alerting"
	"deal-scout/internal/cache"
	"deal-scout/internal/config"
	"deal-scout/internal/metrics"
	"deal-scout/internal/models"
	"deal-scout/internal/proxy"
	"deal-scout/internal/ratelimit"
	"deal-scout/internal/retry"
	"deal-scout/internal/scheduler"
	"deal-scout/internal/scoring"
	"deal-scout/internal/service"
	"deal-scout/internal/source"
	"deal-scout/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSourceStack builds the adapter registry with its shared
// infrastructure: rate limiter, proxy pool, retry policy and the
// optional listing cache. The returned closer releases the cache.
func (a *App) newSourceStack(m *metrics.Metrics) (*source.Registry, *proxy.Pool, func(), error) {
	limiter := ratelimit.New(ratelimit.Rate{
		PerMinute: float64(a.Config.RateLimit.PerMinute),
		Burst:     a.Config.RateLimit.Burst,
	})

	var pool *proxy.Pool
	var selector proxy.Selector = proxy.NoPool{}
	if len(a.Config.Proxy.Addresses) > 0 {
		pool = proxy.NewPool(proxy.Options{
			Addresses:   a.Config.Proxy.Addresses,
			MaxFailures: a.Config.Proxy.MaxFailures,
			Cooldown:    a.Config.Proxy.Cooldown,
		}, a.Logger)
		selector = pool
	}

	var listings *cache.Listings
	if a.Config.Cache.Enabled {
		var err error
		listings, err = cache.OpenListings(a.Config.Cache.Path, a.Config.Cache.TTL, a.Logger)
		if err != nil {
			// A broken cache never blocks ingestion; run without it.
			a.Logger.Warn().Err(err).Str("path", a.Config.Cache.Path).Msg("listing cache unavailable, continuing without")
			listings = nil
		}
	}

	policy := retry.DefaultPolicy()
	policy.OnRetry = m.IncRetries

	deps := source.Deps{
		Limiter: limiter,
		Proxies: selector,
		Retry:   policy,
		Cache:   listings,
		Logger:  a.Logger,
	}

	closer := func() {
		if listings != nil {
			if err := listings.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("closing listing cache failed")
			}
		}
	}

	// Disabled sources register too so explicit invocations and health
	// checks can still reach them; the service skips them per cycle.
	registry := source.NewRegistry()
	for _, sc := range a.Config.Sources {
		adapter, err := source.Build(source.Spec{
			ID:          sc.ID,
			DisplayName: sc.DisplayName,
			Kind:        source.Kind(sc.Kind),
			BaseURL:     sc.BaseURL,
			APIKey:      sc.APIKey,
			UserAgent:   sc.UserAgent,
			Timeout:     sc.Timeout,
			MaxResults:  sc.MaxResults,
		}, deps)
		if err != nil {
			closer()
			return nil, nil, nil, err
		}
		if err := registry.Register(adapter); err != nil {
			closer()
			return nil, nil, nil, err
		}
	}

	return registry, pool, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		tg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured; alerts disabled")
		return nil
	}

	return alerting.NewDispatcher(
		notifier,
		models.Tier(a.Config.Alerting.MinTier),
		a.Config.Alerting.Cooldown,
		a.Config.Alerting.Channels,
		a.Logger,
	)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.dedupPolicy(), a.Logger)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) dedupPolicy() storage.DedupPolicy {
	return storage.DedupPolicy{
		Window:       a.Config.Dedup.Window,
		MinChangePct: decimal.NewFromFloat(a.Config.Dedup.MinChangePct),
		CacheSize:    a.Config.Dedup.CacheSize,
	}
}

// scoringParams starts from the stock policy and applies overrides
// from configuration. Zero values keep the defaults.
func (a *App) scoringParams() scoring.Params {
	p := scoring.DefaultParams()
	sc := a.Config.Scoring

	if sc.HistoryDays > 0 {
		p.HistoryDays = sc.HistoryDays
	}
	if sc.RecentWindowDays > 0 {
		p.RecentWindowDays = sc.RecentWindowDays
	}
	if sc.MinObservations > 0 {
		p.MinObservations = sc.MinObservations
	}
	if sc.ColdStartPenalty > 0 {
		p.ColdStartPenalty = sc.ColdStartPenalty
	}
	if sc.DealThreshold > 0 {
		p.DealThreshold = sc.DealThreshold
	}
	if sc.HotDealThreshold > 0 {
		p.HotDealThreshold = sc.HotDealThreshold
	}
	if sc.SuperDealThreshold > 0 {
		p.SuperDealThreshold = sc.SuperDealThreshold
	}
	if len(sc.CategoryDealThresholds) > 0 {
		p.CategoryDealThresholds = sc.CategoryDealThresholds
	}
	return p
}

func (a *App) newScorer(store *storage.Store) *scoring.Engine {
	if store == nil {
		return nil
	}
	return scoring.NewEngine(store, a.scoringParams(), a.Logger)
}

// serveMetrics exposes the Prometheus registry until ctx ends. A no-op
// when no listen address is configured.
func (a *App) serveMetrics(ctx context.Context, m *metrics.Metrics) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}

// Run executes the long-running ingestion daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	m := metrics.New()
	registry, pool, closeSources, err := a.newSourceStack(m)
	if err != nil {
		return err
	}
	defer closeSources()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		MaxJitter:    a.Config.Scheduler.MaxJitter,
	}, a.Logger)

	dispatcher := a.newDispatcher()
	svc := service.New(a.Config, sched, registry, store, a.newScorer(store), dispatcher, pool, m, a.Logger)

	a.serveMetrics(ctx, m)

	a.Logger.Info().Int("sources", len(a.Config.EnabledSources())).Int("categories", len(a.Config.Categories)).Msg("starting ingestion daemon")
	err = svc.Run(ctx)
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingestion daemon stopped")
	return nil
}

// IngestOptions select what a one-shot ingestion run covers.
type IngestOptions struct {
	SourceID string
	Category string
}

// ScoreOptions identify the product to score ad hoc. Either ProductID
// or the SourceID and ExternalID pair must be set.
type ScoreOptions struct {
	ProductID  int64
	SourceID   string
	ExternalID string
}

// ExportOptions hold parameters for exporting a product's price history.
type ExportOptions struct {
	ProductID  int64
	SourceID   string
	ExternalID string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
