package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
	"deal-scout/internal/normalize"
	"deal-scout/internal/ratelimit"
	"deal-scout/internal/retry"
)

const maxBodyBytes = 4 << 20

// APIAdapter integrates a shop's authenticated JSON API. Expected
// endpoints:
//
//	GET {base}/api/deals?q=...&category=...&limit=...  -> {"deals":[...]} or [...]
//	GET {base}/api/listings/{external_id}              -> {"listing":{...}} or {...}
//	GET {base}/api/health                              -> 200 on healthy
type APIAdapter struct {
	spec   Spec
	deps   Deps
	domain string
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

var _ Adapter = (*APIAdapter)(nil)

// NewAPIAdapter validates the spec and builds the adapter. A missing
// API key or unusable base URL is construction-fatal.
func NewAPIAdapter(spec Spec, deps Deps) (*APIAdapter, error) {
	base := strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("source %q: base URL required", spec.ID)
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("source %q: invalid base URL %q", spec.ID, spec.BaseURL)
	}
	if strings.TrimSpace(spec.APIKey) == "" {
		return nil, fmt.Errorf("source %q: api key required", spec.ID)
	}
	spec.BaseURL = base

	return &APIAdapter{
		spec:    spec,
		deps:    deps.normalized(),
		domain:  ratelimit.Domain(base),
		logger:  deps.Logger.With().Str("component", "api_source").Str("source", spec.ID).Logger(),
		clients: make(map[string]*http.Client),
	}, nil
}

func (a *APIAdapter) ShopIdentifier() string { return a.spec.ID }

func (a *APIAdapter) ShopDisplayName() string { return a.spec.displayName() }

// FetchListings queries the search endpoint and maps each item to a
// canonical deal. Malformed items are logged and skipped; they never
// abort the batch.
func (a *APIAdapter) FetchListings(ctx context.Context, q Query) ([]models.CanonicalDeal, error) {
	endpoint := a.searchURL(q)

	var raw json.RawMessage
	err := retry.Do(ctx, a.deps.Retry, a.logger, "search "+q.Keyword, func(ctx context.Context) error {
		return a.getJSON(ctx, endpoint, &raw)
	})
	if err != nil {
		return nil, err
	}

	// Accept both object-wrapped and bare-array payloads.
	var wrapped struct {
		Deals []apiDeal `json:"deals"`
	}
	var items []apiDeal
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Deals != nil {
		items = wrapped.Deals
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, retry.ErrSemantic{Err: fmt.Errorf("unexpected search payload: %w", err)}
	}

	deals := make([]models.CanonicalDeal, 0, len(items))
	for _, item := range items {
		deal, err := item.toDeal(a.spec.ID)
		if err != nil {
			a.logger.Warn().
				Str("external_id", item.ID).
				Err(err).
				Msg("skipping malformed item")
			continue
		}
		deals = append(deals, deal)
		if q.MaxResults > 0 && len(deals) >= q.MaxResults {
			break
		}
	}
	return deals, nil
}

// FetchListingDetail loads one listing, serving from the local cache
// when fresh. A 404/410 from the source means the listing is gone and
// reports (nil, nil).
func (a *APIAdapter) FetchListingDetail(ctx context.Context, externalID string) (*models.CanonicalListing, error) {
	if listing, ok := a.deps.Cache.Get(ctx, a.spec.ID, externalID); ok {
		return listing, nil
	}

	endpoint := a.spec.BaseURL + "/api/listings/" + url.PathEscape(externalID)
	var raw json.RawMessage
	err := retry.Do(ctx, a.deps.Retry, a.logger, "detail "+externalID, func(ctx context.Context) error {
		return a.getJSON(ctx, endpoint, &raw)
	})
	var notFound retry.ErrNotFound
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Listing *apiDeal `json:"listing"`
	}
	var item apiDeal
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Listing != nil {
		item = *wrapped.Listing
	} else if err := json.Unmarshal(raw, &item); err != nil {
		return nil, retry.ErrSemantic{Err: fmt.Errorf("unexpected detail payload: %w", err)}
	}

	deal, err := item.toDeal(a.spec.ID)
	if err != nil {
		return nil, retry.ErrSemantic{Err: err}
	}
	listing := deal.Listing
	a.deps.Cache.Set(ctx, listing)
	return &listing, nil
}

// HealthCheck validates reachability and credentials with the patient
// retry profile.
func (a *APIAdapter) HealthCheck(ctx context.Context) error {
	endpoint := a.spec.BaseURL + "/api/health"
	return retry.Do(ctx, retry.CriticalPolicy(), a.logger, "health "+a.spec.ID, func(ctx context.Context) error {
		var raw json.RawMessage
		return a.getJSON(ctx, endpoint, &raw)
	})
}

func (a *APIAdapter) searchURL(q Query) string {
	u, _ := url.Parse(a.spec.BaseURL + "/api/deals")
	vals := u.Query()
	vals.Set("q", strings.TrimSpace(q.Keyword))
	if q.CategoryHint != "" {
		vals.Set("category", q.CategoryHint)
	}
	if q.MaxResults > 0 {
		vals.Set("limit", strconv.Itoa(q.MaxResults))
	}
	u.RawQuery = vals.Encode()
	return u.String()
}

// getJSON performs one rate-limited request and classifies failures.
func (a *APIAdapter) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := a.deps.Limiter.Acquire(ctx, a.domain); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.spec.userAgent())
	req.Header.Set("Authorization", "Bearer "+a.spec.APIKey)

	proxyAddr := a.deps.Proxies.Next()
	resp, err := a.clientFor(proxyAddr).Do(req)
	if err != nil {
		a.markProxy(proxyAddr, false)
		return retry.Classify(err, 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		a.markProxy(proxyAddr, false)
		return retry.Classify(err, 0)
	}

	if resp.StatusCode != http.StatusOK {
		a.markProxy(proxyAddr, !proxySuspectStatus(resp.StatusCode))
		return retry.Classify(nil, resp.StatusCode)
	}
	a.markProxy(proxyAddr, true)

	if err := json.Unmarshal(body, out); err != nil {
		return retry.ErrSemantic{Err: fmt.Errorf("decode %s: %w", endpoint, err)}
	}
	return nil
}

// clientFor returns the cached client bound to one proxy address; the
// empty address is the direct-connection client.
func (a *APIAdapter) clientFor(proxyAddr string) *http.Client {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[proxyAddr]; ok {
		return c
	}

	transport := &http.Transport{
		MaxIdleConns:    20,
		IdleConnTimeout: 90 * time.Second,
	}
	if proxyAddr != "" {
		if u, err := url.Parse(proxyAddr); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	c := &http.Client{Timeout: a.spec.timeout(), Transport: transport}
	a.clients[proxyAddr] = c
	return c
}

func (a *APIAdapter) markProxy(addr string, ok bool) {
	if addr == "" {
		return
	}
	if ok {
		a.deps.Proxies.MarkSuccess(addr)
	} else {
		a.deps.Proxies.MarkFailed(addr)
	}
}

// proxySuspectStatus reports status codes that implicate the exit IP
// rather than the request itself.
func proxySuspectStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// apiDeal is the wire shape of one search/detail item.
type apiDeal struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Price           json.Number `json:"price"`
	OriginalPrice   json.Number `json:"original_price"`
	DiscountPercent json.Number `json:"discount_percent"`
	Currency        string      `json:"currency"`
	URL             string      `json:"url"`
	ImageURL        string      `json:"image_url"`
	Brand           string      `json:"brand"`
	Category        string      `json:"category"`
	Kind            string      `json:"kind"`
	StartsAt        *time.Time  `json:"starts_at"`
	ExpiresAt       *time.Time  `json:"expires_at"`
}

func (d apiDeal) toDeal(sourceID string) (models.CanonicalDeal, error) {
	if d.ID == "" || d.Title == "" {
		return models.CanonicalDeal{}, errors.New("missing id or title")
	}
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil || price.IsNegative() {
		return models.CanonicalDeal{}, fmt.Errorf("bad price %q", d.Price)
	}

	currency := d.Currency
	if currency == "" {
		currency = "EUR"
	}
	listing := models.CanonicalListing{
		SourceID:     sourceID,
		ExternalID:   d.ID,
		Title:        d.Title,
		CurrentPrice: price,
		Currency:     currency,
		URL:          normalize.CleanURL(d.URL),
		ImageURL:     d.ImageURL,
		Brand:        d.Brand,
		CategoryHint: d.Category,
	}
	if orig, err := decimal.NewFromString(d.OriginalPrice.String()); err == nil && orig.IsPositive() {
		listing.OriginalPrice = &orig
	}

	deal := models.CanonicalDeal{
		Listing:   listing,
		DealPrice: price,
		DealURL:   listing.URL,
		Kind:      dealKind(d.Kind),
		StartsAt:  d.StartsAt,
		ExpiresAt: d.ExpiresAt,
	}
	if pct, err := decimal.NewFromString(d.DiscountPercent.String()); err == nil && pct.IsPositive() {
		deal.DiscountPercent = &pct
	}
	return deal, nil
}

func dealKind(raw string) models.DealKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "flashsale", "flash_sale":
		return models.DealFlashSale
	case "coupon":
		return models.DealCoupon
	case "clearance":
		return models.DealClearance
	case "bundle":
		return models.DealBundle
	default:
		return models.DealPriceDrop
	}
}
