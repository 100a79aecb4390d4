package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"deal-scout/internal/models"
	"deal-scout/internal/normalize"
	"deal-scout/internal/ratelimit"
	"deal-scout/internal/retry"
)

// BrowserAdapter drives a headless browser for storefronts that render
// listings client-side. Every operation runs inside a scoped session:
// allocator, tab, and timeout contexts are created per call with their
// cancels deferred, so the browser is released on every exit path,
// including caller cancellation. Long-running processes must never
// accumulate tabs.
type BrowserAdapter struct {
	spec    Spec
	deps    Deps
	domain  string
	timeout time.Duration
	logger  zerolog.Logger
}

var _ Adapter = (*BrowserAdapter)(nil)

// NewBrowserAdapter validates the spec and builds the adapter.
func NewBrowserAdapter(spec Spec, deps Deps) (*BrowserAdapter, error) {
	base := strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("source %q: base URL required", spec.ID)
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("source %q: invalid base URL %q", spec.ID, spec.BaseURL)
	}
	spec.BaseURL = base

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &BrowserAdapter{
		spec:    spec,
		deps:    deps.normalized(),
		domain:  ratelimit.Domain(base),
		timeout: timeout,
		logger:  deps.Logger.With().Str("component", "browser_source").Str("source", spec.ID).Logger(),
	}, nil
}

func (a *BrowserAdapter) ShopIdentifier() string { return a.spec.ID }

func (a *BrowserAdapter) ShopDisplayName() string { return a.spec.displayName() }

// FetchListings renders the search page and extracts product cards.
func (a *BrowserAdapter) FetchListings(ctx context.Context, q Query) ([]models.CanonicalDeal, error) {
	searchURL := a.searchURL(q)

	var deals []models.CanonicalDeal
	err := retry.Do(ctx, a.deps.Retry, a.logger, "browse "+q.Keyword, func(ctx context.Context) error {
		if err := a.deps.Limiter.Acquire(ctx, a.domain); err != nil {
			return err
		}
		deals = deals[:0]
		return a.withSession(ctx, func(ctx context.Context) error {
			var items []browserItem
			err := chromedp.Run(ctx,
				chromedp.Navigate(searchURL),
				chromedp.WaitReady("div.product-card, p.no-results", chromedp.ByQuery),
				chromedp.Evaluate(extractCardsJS, &items),
			)
			if err != nil {
				return retry.Classify(err, 0)
			}
			for _, item := range items {
				deal, err := item.toDeal(a.spec.ID)
				if err != nil {
					a.logger.Warn().
						Str("external_id", item.ID).
						Err(err).
						Msg("skipping malformed card")
					continue
				}
				deals = append(deals, deal)
				if q.MaxResults > 0 && len(deals) >= q.MaxResults {
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deals, nil
}

// FetchListingDetail renders one product page, serving from the local
// cache when fresh. A page without product markup reports (nil, nil).
func (a *BrowserAdapter) FetchListingDetail(ctx context.Context, externalID string) (*models.CanonicalListing, error) {
	if listing, ok := a.deps.Cache.Get(ctx, a.spec.ID, externalID); ok {
		return listing, nil
	}

	pageURL := a.spec.BaseURL + "/p/" + url.PathEscape(externalID)
	var item browserDetail
	err := retry.Do(ctx, a.deps.Retry, a.logger, "detail "+externalID, func(ctx context.Context) error {
		if err := a.deps.Limiter.Acquire(ctx, a.domain); err != nil {
			return err
		}
		return a.withSession(ctx, func(ctx context.Context) error {
			err := chromedp.Run(ctx,
				chromedp.Navigate(pageURL),
				chromedp.WaitReady("body", chromedp.ByQuery),
				chromedp.Evaluate(extractDetailJS, &item),
			)
			return retry.Classify(err, 0)
		})
	})
	if err != nil {
		return nil, err
	}
	if !item.Found {
		return nil, nil
	}

	listing, convErr := item.toListing(a.spec.ID, externalID, pageURL)
	if convErr != nil {
		return nil, retry.ErrSemantic{Err: convErr}
	}
	a.deps.Cache.Set(ctx, *listing)
	return listing, nil
}

// HealthCheck renders the landing page with the patient retry profile.
func (a *BrowserAdapter) HealthCheck(ctx context.Context) error {
	return retry.Do(ctx, retry.CriticalPolicy(), a.logger, "health "+a.spec.ID, func(ctx context.Context) error {
		if err := a.deps.Limiter.Acquire(ctx, a.domain); err != nil {
			return err
		}
		return a.withSession(ctx, func(ctx context.Context) error {
			err := chromedp.Run(ctx,
				chromedp.Navigate(a.spec.BaseURL+"/"),
				chromedp.WaitReady("body", chromedp.ByQuery),
			)
			return retry.Classify(err, 0)
		})
	})
}

// withSession runs fn inside a fresh allocator and tab bound to ctx.
// All cancels are deferred; there is no manual cleanup to forget.
func (a *BrowserAdapter) withSession(ctx context.Context, fn func(ctx context.Context) error) error {
	proxyAddr := a.deps.Proxies.Next()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(a.spec.userAgent()),
	)
	if proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(proxyAddr))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	runCtx, cancelRun := context.WithTimeout(tabCtx, a.timeout)
	defer cancelRun()

	err := fn(runCtx)
	if proxyAddr != "" && ctx.Err() == nil {
		if err != nil {
			a.deps.Proxies.MarkFailed(proxyAddr)
		} else {
			a.deps.Proxies.MarkSuccess(proxyAddr)
		}
	}
	return err
}

func (a *BrowserAdapter) searchURL(q Query) string {
	u, _ := url.Parse(a.spec.BaseURL + "/search")
	vals := u.Query()
	vals.Set("q", strings.TrimSpace(q.Keyword))
	if q.CategoryHint != "" {
		vals.Set("category", q.CategoryHint)
	}
	u.RawQuery = vals.Encode()
	return u.String()
}

const extractCardsJS = `Array.from(document.querySelectorAll('div.product-card')).map(card => ({
	id: card.dataset.id || '',
	title: card.querySelector('h3.product-title')?.innerText || '',
	price: card.querySelector('span.price')?.innerText || '',
	old_price: card.querySelector('span.price-old')?.innerText || '',
	url: card.querySelector('a.product-link')?.href || '',
	image_url: card.querySelector('img.product-image')?.src || '',
	discount: card.querySelector('span.badge-discount')?.innerText || ''
}))`

const extractDetailJS = `(() => {
	const root = document.querySelector('div#product');
	if (!root) {
		return {found: false, title: '', price: '', old_price: '', image_url: '', brand: ''};
	}
	return {
		found: true,
		title: root.querySelector('h1.product-title')?.innerText || '',
		price: root.querySelector('span.price')?.innerText || '',
		old_price: root.querySelector('span.price-old')?.innerText || '',
		image_url: root.querySelector('img#main-image')?.src || '',
		brand: root.querySelector('span.brand')?.innerText || ''
	};
})()`

type browserItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	OldPrice string `json:"old_price"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
	Discount string `json:"discount"`
}

func (b browserItem) toDeal(sourceID string) (models.CanonicalDeal, error) {
	title := strings.TrimSpace(b.Title)
	if b.ID == "" || title == "" {
		return models.CanonicalDeal{}, errors.New("card missing id or title")
	}
	price, err := normalize.ParsePrice(b.Price)
	if err != nil {
		return models.CanonicalDeal{}, fmt.Errorf("card %s: %w", b.ID, err)
	}

	listing := models.CanonicalListing{
		SourceID:     sourceID,
		ExternalID:   b.ID,
		Title:        title,
		CurrentPrice: price,
		Currency:     "EUR",
		URL:          normalize.CleanURL(b.URL),
		ImageURL:     b.ImageURL,
	}
	if old, err := normalize.ParsePrice(b.OldPrice); err == nil && old.IsPositive() {
		listing.OriginalPrice = &old
	}

	return models.CanonicalDeal{
		Listing:         listing,
		DealPrice:       price,
		DealURL:         listing.URL,
		Kind:            models.DealPriceDrop,
		DiscountPercent: parseDiscountBadge(b.Discount),
	}, nil
}

type browserDetail struct {
	Found    bool   `json:"found"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	OldPrice string `json:"old_price"`
	ImageURL string `json:"image_url"`
	Brand    string `json:"brand"`
}

func (b browserDetail) toListing(sourceID, externalID, pageURL string) (*models.CanonicalListing, error) {
	title := strings.TrimSpace(b.Title)
	if title == "" {
		return nil, errors.New("page missing title")
	}
	price, err := normalize.ParsePrice(b.Price)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", externalID, err)
	}

	listing := &models.CanonicalListing{
		SourceID:     sourceID,
		ExternalID:   externalID,
		Title:        title,
		CurrentPrice: price,
		Currency:     "EUR",
		URL:          normalize.CleanURL(pageURL),
		ImageURL:     b.ImageURL,
		Brand:        strings.TrimSpace(b.Brand),
	}
	if old, err := normalize.ParsePrice(b.OldPrice); err == nil && old.IsPositive() {
		listing.OriginalPrice = &old
	}
	return listing, nil
}
