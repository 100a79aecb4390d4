package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
	"deal-scout/internal/normalize"
	"deal-scout/internal/proxy"
	"deal-scout/internal/ratelimit"
	"deal-scout/internal/retry"
)

// HTMLAdapter scrapes a storefront's rendered HTML with colly. The
// selectors target the demo storefront markup; per-shop layouts get
// their own adapter kinds in a private deployment.
type HTMLAdapter struct {
	spec   Spec
	deps   Deps
	domain string
	host   string
	logger zerolog.Logger

	// transport overrides the collector transport; tests inject a mock here.
	transport http.RoundTripper
}

var _ Adapter = (*HTMLAdapter)(nil)

// NewHTMLAdapter validates the spec and builds the adapter.
func NewHTMLAdapter(spec Spec, deps Deps) (*HTMLAdapter, error) {
	base := strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("source %q: base URL required", spec.ID)
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("source %q: invalid base URL %q", spec.ID, spec.BaseURL)
	}
	spec.BaseURL = base

	return &HTMLAdapter{
		spec:   spec,
		deps:   deps.normalized(),
		domain: ratelimit.Domain(base),
		host:   parsed.Host,
		logger: deps.Logger.With().Str("component", "html_source").Str("source", spec.ID).Logger(),
	}, nil
}

func (a *HTMLAdapter) ShopIdentifier() string { return a.spec.ID }

func (a *HTMLAdapter) ShopDisplayName() string { return a.spec.displayName() }

// FetchListings scrapes the search results page. Malformed cards are
// logged and skipped without aborting the page.
func (a *HTMLAdapter) FetchListings(ctx context.Context, q Query) ([]models.CanonicalDeal, error) {
	searchURL := a.searchURL(q)

	var deals []models.CanonicalDeal
	err := retry.Do(ctx, a.deps.Retry, a.logger, "scrape "+q.Keyword, func(ctx context.Context) error {
		deals = deals[:0]
		return a.visit(ctx, searchURL, func(c *colly.Collector) {
			c.OnHTML("div.product-card", func(e *colly.HTMLElement) {
				if q.MaxResults > 0 && len(deals) >= q.MaxResults {
					return
				}
				deal, err := a.parseCard(e)
				if err != nil {
					a.logger.Warn().
						Str("url", e.Request.URL.String()).
						Err(err).
						Msg("skipping malformed product card")
					return
				}
				deals = append(deals, deal)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return deals, nil
}

// FetchListingDetail scrapes one product page, serving from the local
// cache when fresh. A 404/410 reports (nil, nil).
func (a *HTMLAdapter) FetchListingDetail(ctx context.Context, externalID string) (*models.CanonicalListing, error) {
	if listing, ok := a.deps.Cache.Get(ctx, a.spec.ID, externalID); ok {
		return listing, nil
	}

	pageURL := a.spec.BaseURL + "/p/" + url.PathEscape(externalID)
	var found *models.CanonicalListing
	err := retry.Do(ctx, a.deps.Retry, a.logger, "detail "+externalID, func(ctx context.Context) error {
		found = nil
		return a.visit(ctx, pageURL, func(c *colly.Collector) {
			c.OnHTML("div#product", func(e *colly.HTMLElement) {
				listing, err := a.parseProductPage(e, externalID)
				if err != nil {
					a.logger.Warn().
						Str("external_id", externalID).
						Err(err).
						Msg("unusable product page")
					return
				}
				found = listing
			})
		})
	})
	var notFound retry.ErrNotFound
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if found != nil {
		a.deps.Cache.Set(ctx, *found)
	}
	return found, nil
}

// HealthCheck loads the storefront's landing page with the patient
// retry profile.
func (a *HTMLAdapter) HealthCheck(ctx context.Context) error {
	return retry.Do(ctx, retry.CriticalPolicy(), a.logger, "health "+a.spec.ID, func(ctx context.Context) error {
		return a.visit(ctx, a.spec.BaseURL+"/", nil)
	})
}

func (a *HTMLAdapter) searchURL(q Query) string {
	u, _ := url.Parse(a.spec.BaseURL + "/search")
	vals := u.Query()
	vals.Set("q", strings.TrimSpace(q.Keyword))
	if q.CategoryHint != "" {
		vals.Set("category", q.CategoryHint)
	}
	u.RawQuery = vals.Encode()
	return u.String()
}

// visit performs one rate-limited page load on a fresh collector and
// classifies failures.
func (a *HTMLAdapter) visit(ctx context.Context, pageURL string, configure func(*colly.Collector)) error {
	if err := a.deps.Limiter.Acquire(ctx, a.domain); err != nil {
		return err
	}

	c := a.newCollector()
	var fetchErr error
	var statusCode int
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			statusCode = r.StatusCode
			a.markProxyURL(r.Request.ProxyURL, false)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		a.markProxyURL(r.Request.ProxyURL, !proxySuspectStatus(r.StatusCode))
	})
	if configure != nil {
		configure(c)
	}

	visitErr := c.Visit(pageURL)
	c.Wait()

	switch {
	case fetchErr != nil || statusCode >= 400:
		return retry.Classify(fetchErr, statusCode)
	case visitErr != nil:
		return retry.Classify(visitErr, 0)
	}
	return nil
}

func (a *HTMLAdapter) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.AllowedDomains(a.host),
		colly.UserAgent(a.spec.userAgent()),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(a.spec.timeout())
	if a.transport != nil {
		c.WithTransport(a.transport)
	}
	if _, direct := a.deps.Proxies.(proxy.NoPool); !direct {
		c.SetProxyFunc(proxy.ProxyFunc(a.deps.Proxies))
	}
	return c
}

func (a *HTMLAdapter) markProxyURL(proxyURL string, ok bool) {
	if proxyURL == "" {
		return
	}
	if ok {
		a.deps.Proxies.MarkSuccess(proxyURL)
	} else {
		a.deps.Proxies.MarkFailed(proxyURL)
	}
}

func (a *HTMLAdapter) parseCard(e *colly.HTMLElement) (models.CanonicalDeal, error) {
	externalID := e.Attr("data-id")
	title := strings.TrimSpace(e.ChildText("h3.product-title"))
	if externalID == "" || title == "" {
		return models.CanonicalDeal{}, errors.New("card missing id or title")
	}
	price, err := normalize.ParsePrice(e.ChildText("span.price"))
	if err != nil {
		return models.CanonicalDeal{}, fmt.Errorf("card %s: %w", externalID, err)
	}

	listing := models.CanonicalListing{
		SourceID:     a.spec.ID,
		ExternalID:   externalID,
		Title:        title,
		CurrentPrice: price,
		Currency:     "EUR",
		URL:          normalize.CleanURL(e.Request.AbsoluteURL(e.ChildAttr("a.product-link", "href"))),
		ImageURL:     e.Request.AbsoluteURL(e.ChildAttr("img.product-image", "src")),
	}
	if old, err := normalize.ParsePrice(e.ChildText("span.price-old")); err == nil && old.IsPositive() {
		listing.OriginalPrice = &old
	}

	deal := models.CanonicalDeal{
		Listing:   listing,
		DealPrice: price,
		DealURL:   listing.URL,
		Kind:      models.DealPriceDrop,
	}
	deal.DiscountPercent = parseDiscountBadge(e.ChildText("span.badge-discount"))
	return deal, nil
}

func (a *HTMLAdapter) parseProductPage(e *colly.HTMLElement, externalID string) (*models.CanonicalListing, error) {
	title := strings.TrimSpace(e.ChildText("h1.product-title"))
	if title == "" {
		return nil, errors.New("page missing title")
	}
	price, err := normalize.ParsePrice(e.ChildText("span.price"))
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", externalID, err)
	}

	listing := &models.CanonicalListing{
		SourceID:     a.spec.ID,
		ExternalID:   externalID,
		Title:        title,
		CurrentPrice: price,
		Currency:     "EUR",
		URL:          normalize.CleanURL(e.Request.URL.String()),
		ImageURL:     e.Request.AbsoluteURL(e.ChildAttr("img#main-image", "src")),
		Brand:        strings.TrimSpace(e.ChildText("span.brand")),
	}
	if old, err := normalize.ParsePrice(e.ChildText("span.price-old")); err == nil && old.IsPositive() {
		listing.OriginalPrice = &old
	}
	return listing, nil
}

// parseDiscountBadge reads badges like "-25%" or "25 % off".
func parseDiscountBadge(raw string) *decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, raw)
	if cleaned == "" {
		return nil
	}
	pct, err := decimal.NewFromString(strings.ReplaceAll(cleaned, ",", "."))
	if err != nil || !pct.IsPositive() {
		return nil
	}
	return &pct
}
