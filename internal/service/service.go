package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deal-scout/internal/alerting"
	"deal-scout/internal/config"
	"deal-scout/internal/ingest"
	"deal-scout/internal/metrics"
	"deal-scout/internal/models"
	"deal-scout/internal/proxy"
	"deal-scout/internal/scheduler"
	"deal-scout/internal/scoring"
	"deal-scout/internal/source"
	"deal-scout/internal/storage"
)

// Service orchestrates ingestion cycles across the source fleet and
// routes scored deals to persistence and alerting.
type Service struct {
	cfg        *config.Config
	scheduler  *scheduler.Scheduler
	registry   *source.Registry
	store      *storage.Store
	scorer     *scoring.Engine
	dispatcher *alerting.Dispatcher
	pool       *proxy.Pool
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	matrix  ingest.Matrix
	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the ingestion service.
func New(cfg *config.Config, sched *scheduler.Scheduler, registry *source.Registry, store *storage.Store, scorer *scoring.Engine, dispatcher *alerting.Dispatcher, pool *proxy.Pool, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if store != nil {
		locker = store
	}

	return &Service{
		cfg:        cfg,
		scheduler:  sched,
		registry:   registry,
		store:      store,
		scorer:     scorer,
		dispatcher: dispatcher,
		pool:       pool,
		metrics:    m,
		logger:     logger.With().Str("component", "service").Logger(),
		matrix:     ingest.NewMatrix(cfg.CategoryMatrix()),
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled ingestion loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle ingests every enabled source once, under the daemon
// advisory lock so parallel deployments don't double-ingest.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.runAll(ctx)
}

// RunIngestion ingests one source on demand. A non-empty category
// restricts the run to that slug. Disabled sources run too: an
// explicit invocation is operator intent.
func (s *Service) RunIngestion(ctx context.Context, sourceID, category string) (ingest.Summary, error) {
	sc, ok := s.cfg.Source(sourceID)
	if !ok {
		return ingest.Summary{}, fmt.Errorf("source %q not configured", sourceID)
	}

	matrix := s.matrix
	if category != "" {
		kws := matrix.Keywords(category)
		if len(kws) == 0 {
			return ingest.Summary{}, fmt.Errorf("category %q not configured", category)
		}
		matrix = ingest.NewMatrix(map[string][]string{category: kws})
	}

	return s.ingestSource(ctx, sc, matrix)
}

// CheckSources runs every configured adapter's health check, disabled
// entries included. The map value is nil for healthy sources.
func (s *Service) CheckSources(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.cfg.Sources))
	for _, sc := range s.cfg.Sources {
		adapter, err := s.registry.Resolve(sc.ID)
		if err != nil {
			results[sc.ID] = err
			continue
		}
		results[sc.ID] = adapter.HealthCheck(ctx)
	}
	return results
}

func (s *Service) runAll(ctx context.Context) error {
	sources := s.cfg.EnabledSources()
	if len(sources) == 0 {
		s.logger.Warn().Msg("no enabled sources configured")
		return nil
	}

	concurrency := s.cfg.Ingest.SourceConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		total ingest.Summary
	)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, sc := range sources {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(sc config.SourceConfig) {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := s.ingestSource(ctx, sc, s.matrix)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error().Err(err).Str("source", sc.ID).Msg("source ingestion failed")
				}
				return
			}
			mu.Lock()
			total.Fetched += summary.Fetched
			total.Created += summary.Created
			total.Updated += summary.Updated
			total.Skipped += summary.Skipped
			total.Errors += summary.Errors
			mu.Unlock()
		}(sc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	if s.pool != nil {
		s.metrics.SetProxyHealthy(s.pool.Stats().Healthy)
	}

	s.logger.Info().
		Int("sources", len(sources)).
		Int("fetched", total.Fetched).
		Int("created", total.Created).
		Int("updated", total.Updated).
		Int("errors", total.Errors).
		Msg("cycle complete")
	return nil
}

func (s *Service) ingestSource(ctx context.Context, sc config.SourceConfig, matrix ingest.Matrix) (ingest.Summary, error) {
	adapter, err := s.registry.Resolve(sc.ID)
	if err != nil {
		return ingest.Summary{}, err
	}

	var (
		recorder ingest.Recorder
		scorer   ingest.Scorer
	)
	if s.store != nil {
		recorder = s.store
		scorer = s.scorer
	}

	orch, err := ingest.New(ingest.Options{
		Source:      adapter,
		Matrix:      matrix,
		Recorder:    recorder,
		Scorer:      scorer,
		Notifier:    s.notifier(),
		Metrics:     s.metrics,
		Concurrency: s.cfg.Ingest.Concurrency,
		MaxResults:  sc.MaxResults,
		Logger:      s.logger,
	})
	if err != nil {
		return ingest.Summary{}, err
	}

	return orch.Run(ctx)
}

func (s *Service) notifier() ingest.Notifier {
	if s.dispatcher == nil {
		return nil
	}
	return alertBridge{dispatcher: s.dispatcher}
}

// alertBridge adapts the alerting dispatcher to the orchestrator's
// notifier interface.
type alertBridge struct {
	dispatcher *alerting.Dispatcher
}

func (b alertBridge) DealScored(ctx context.Context, deal models.CanonicalDeal, score models.DealScore) {
	b.dispatcher.DealScored(ctx, deal, score)
}

func (b alertBridge) SourceOutage(ctx context.Context, summary ingest.Summary) {
	b.dispatcher.Outage(ctx, summary.SourceID, summary.FailedCategories, summary.Errors)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
