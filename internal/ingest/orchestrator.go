package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/metrics"
	"deal-scout/internal/models"
	"deal-scout/internal/retry"
	"deal-scout/internal/scoring"
	"deal-scout/internal/source"
)

// Recorder persists products, price observations and scored deals.
// *storage.Store satisfies it; tests substitute an in-memory fake.
type Recorder interface {
	UpsertProduct(ctx context.Context, listing models.CanonicalListing) (id int64, created bool, err error)
	AppendObservation(ctx context.Context, productID int64, price decimal.Decimal, at time.Time, source string) (bool, error)
	RecordDeal(ctx context.Context, productID int64, deal models.CanonicalDeal, score models.DealScore) (int64, error)
}

// Scorer grades a deal against its product's price history.
type Scorer interface {
	Score(ctx context.Context, in scoring.Input) (models.DealScore, error)
}

// Notifier receives run outcomes. Implementations must not block;
// delivery failures are theirs to log.
type Notifier interface {
	DealScored(ctx context.Context, deal models.CanonicalDeal, score models.DealScore)
	SourceOutage(ctx context.Context, summary Summary)
}

// Summary aggregates one ingestion run over a single source.
type Summary struct {
	SourceID         string
	Fetched          int
	Created          int
	Updated          int
	Skipped          int
	Errors           int
	FailedCategories []string
	Outage           bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Options configures an Orchestrator.
type Options struct {
	Source   source.Adapter
	Matrix   Matrix
	Recorder Recorder // nil disables persistence and scoring
	Scorer   Scorer
	Notifier Notifier
	Metrics  *metrics.Metrics

	// Concurrency bounds parallel keyword fetches within a category.
	Concurrency int
	// MaxResults caps listings per keyword; zero keeps the adapter default.
	MaxResults int

	Logger zerolog.Logger
}

// Orchestrator walks one source across the category matrix, recording
// and scoring every listing the source yields.
type Orchestrator struct {
	src         source.Adapter
	matrix      Matrix
	recorder    Recorder
	scorer      Scorer
	notifier    Notifier
	metrics     *metrics.Metrics
	concurrency int
	maxResults  int
	logger      zerolog.Logger

	now func() time.Time
}

// New validates opts and constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("ingest: source adapter required")
	}
	if opts.Recorder != nil && opts.Scorer == nil {
		return nil, fmt.Errorf("ingest: scorer required when a recorder is set")
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		src:         opts.Source,
		matrix:      opts.Matrix,
		recorder:    opts.Recorder,
		scorer:      opts.Scorer,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		concurrency: concurrency,
		maxResults:  opts.MaxResults,
		logger: opts.Logger.With().
			Str("component", "ingest").
			Str("source", opts.Source.ShopIdentifier()).
			Logger(),
		now: time.Now,
	}, nil
}

type categoryResult struct {
	fetched int
	created int
	updated int
	skipped int
	errors  int
	failed  bool
}

type kwResult struct {
	fetched int
	created int
	updated int
	skipped int
	errors  int
}

// Run walks every category in the matrix. Keyword and item failures are
// absorbed into the summary; the returned error is non-nil only when
// ctx ends the run early.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{SourceID: o.src.ShopIdentifier(), StartedAt: o.now().UTC()}
	seen := newSeenSet()

	for _, slug := range o.matrix.Categories() {
		if ctx.Err() != nil {
			break
		}
		res := o.runCategory(ctx, slug, seen)
		summary.Fetched += res.fetched
		summary.Created += res.created
		summary.Updated += res.updated
		summary.Skipped += res.skipped
		summary.Errors += res.errors
		if res.failed {
			summary.FailedCategories = append(summary.FailedCategories, slug)
		}
	}

	summary.FinishedAt = o.now().UTC()
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if !o.matrix.Empty() && len(summary.FailedCategories) == len(o.matrix.Categories()) && summary.Fetched == 0 {
		// Every category down with nothing fetched means the source is
		// unreachable, not that the categories are empty.
		summary.Outage = true
		o.logger.Warn().
			Int("categories", len(summary.FailedCategories)).
			Int("errors", summary.Errors).
			Msg("source unreachable across every category")
		if o.notifier != nil {
			o.notifier.SourceOutage(ctx, summary)
		}
		o.metrics.IncRun("outage")
		return summary, nil
	}

	outcome := "ok"
	if len(summary.FailedCategories) > 0 || summary.Errors > 0 {
		outcome = "partial"
	}
	o.metrics.IncRun(outcome)
	o.logger.Info().
		Int("fetched", summary.Fetched).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Strs("failed_categories", summary.FailedCategories).
		Msg("ingestion run finished")
	return summary, nil
}

// runCategory fetches every keyword of one category, at most
// o.concurrency keywords in flight. The category counts as failed only
// when no keyword succeeded.
func (o *Orchestrator) runCategory(ctx context.Context, slug string, seen *seenSet) categoryResult {
	keywords := o.matrix.Keywords(slug)
	logger := o.logger.With().Str("category", slug).Logger()

	var (
		mu        sync.Mutex
		res       categoryResult
		succeeded int
	)

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for _, kw := range keywords {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(kw string) {
			defer wg.Done()
			defer func() { <-sem }()

			kr, ok := o.runKeyword(ctx, slug, kw, seen, logger)

			mu.Lock()
			res.fetched += kr.fetched
			res.created += kr.created
			res.updated += kr.updated
			res.skipped += kr.skipped
			res.errors += kr.errors
			if ok {
				succeeded++
			}
			mu.Unlock()
		}(kw)
	}
	wg.Wait()

	res.failed = succeeded == 0
	if res.failed && ctx.Err() == nil {
		logger.Warn().Int("keywords", len(keywords)).Msg("every keyword failed for category")
	}
	return res
}

// runKeyword fetches one keyword's listings and processes each deal.
// The bool result reports whether the fetch itself succeeded; item
// failures only bump the error count.
func (o *Orchestrator) runKeyword(ctx context.Context, slug, keyword string, seen *seenSet, logger zerolog.Logger) (kwResult, bool) {
	start := time.Now()
	deals, err := o.src.FetchListings(ctx, source.Query{
		Keyword:      keyword,
		CategoryHint: slug,
		MaxResults:   o.maxResults,
	})
	o.metrics.ObserveFetch(o.src.ShopIdentifier(), time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).
				Str("keyword", keyword).
				Str("error_type", retry.TypeLabel(err)).
				Msg("keyword fetch failed")
			o.metrics.IncError(retry.TypeLabel(err))
		}
		return kwResult{errors: 1}, false
	}
	o.metrics.IncListings(o.src.ShopIdentifier(), len(deals))

	res := kwResult{fetched: len(deals)}
	for _, deal := range deals {
		if ctx.Err() != nil {
			return res, true
		}
		if !seen.add(deal.Listing.ExternalID) {
			// Another keyword already delivered this product this run.
			res.skipped++
			continue
		}
		created, err := o.processDeal(ctx, slug, deal)
		if err != nil {
			if ctx.Err() != nil {
				return res, true
			}
			res.errors++
			logger.Warn().Err(err).
				Str("keyword", keyword).
				Str("external_id", deal.Listing.ExternalID).
				Msg("deal processing failed")
			o.metrics.IncError("storage")
			continue
		}
		if o.recorder != nil {
			if created {
				res.created++
			} else {
				res.updated++
			}
		}
	}
	return res, true
}

// processDeal records the listing, appends the price observation, and
// scores the deal against the now-updated history.
func (o *Orchestrator) processDeal(ctx context.Context, slug string, deal models.CanonicalDeal) (bool, error) {
	if o.recorder == nil {
		return false, nil
	}

	listing := deal.Listing
	// The matrix slug wins over whatever the adapter guessed.
	listing.CategoryHint = slug

	productID, created, err := o.recorder.UpsertProduct(ctx, listing)
	if err != nil {
		return false, fmt.Errorf("upsert product: %w", err)
	}

	recorded, err := o.recorder.AppendObservation(ctx, productID, deal.DealPrice, o.now().UTC(), listing.SourceID)
	if err != nil {
		return false, fmt.Errorf("append observation: %w", err)
	}
	o.metrics.IncObservation(recorded)

	score, err := o.scorer.Score(ctx, scoring.Input{
		ProductID:       productID,
		CurrentPrice:    deal.DealPrice,
		OriginalPrice:   listing.OriginalPrice,
		DiscountPercent: deal.DiscountPercent,
		CategorySlug:    slug,
	})
	if err != nil {
		return false, fmt.Errorf("score deal: %w", err)
	}
	o.metrics.IncDealScored(score.Tier)

	if _, err := o.recorder.RecordDeal(ctx, productID, deal, score); err != nil {
		return false, fmt.Errorf("record deal: %w", err)
	}

	if o.notifier != nil {
		o.notifier.DealScored(ctx, deal, score)
	}
	return created, nil
}

// seenSet tracks external IDs already handled in this run so a product
// surfacing under several keywords is processed once.
type seenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{keys: make(map[string]struct{})}
}

// add reports whether key is new.
func (s *seenSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}
