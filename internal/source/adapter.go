// Package source defines the contract shop integrations implement and
// the registry that wires them in. Four adapter kinds exist: api, html,
// browser, and mock. All share the same injected infrastructure.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"deal-scout/internal/cache"
	"deal-scout/internal/models"
	"deal-scout/internal/proxy"
	"deal-scout/internal/ratelimit"
	"deal-scout/internal/retry"
)

// Adapter is the contract every shop integration satisfies. HealthCheck
// returns nil when the source is reachable and credentials hold.
type Adapter interface {
	ShopIdentifier() string
	ShopDisplayName() string
	FetchListings(ctx context.Context, q Query) ([]models.CanonicalDeal, error)
	FetchListingDetail(ctx context.Context, externalID string) (*models.CanonicalListing, error)
	HealthCheck(ctx context.Context) error
}

// Query narrows one listings fetch.
type Query struct {
	Keyword      string
	CategoryHint string
	MaxResults   int
}

// Kind selects the adapter implementation for a source.
type Kind string

const (
	KindAPI     Kind = "api"
	KindHTML    Kind = "html"
	KindBrowser Kind = "browser"
	KindMock    Kind = "mock"
)

// Spec describes one source instance, independent of its kind.
type Spec struct {
	ID          string
	DisplayName string
	Kind        Kind
	BaseURL     string
	APIKey      string
	UserAgent   string
	Timeout     time.Duration
	MaxResults  int
}

func (s Spec) displayName() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

func (s Spec) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 20 * time.Second
}

func (s Spec) userAgent() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	return "dealscout/1.0"
}

// Deps carries the shared infrastructure injected into every adapter.
// Nil fields degrade gracefully: no proxies means direct connections,
// no cache means every detail fetch goes to the network.
type Deps struct {
	Limiter *ratelimit.Limiter
	Proxies proxy.Selector
	Retry   retry.Policy
	Cache   *cache.Listings
	Logger  zerolog.Logger
}

func (d Deps) normalized() Deps {
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(ratelimit.DefaultRate)
	}
	if d.Proxies == nil {
		d.Proxies = proxy.NoPool{}
	}
	return d
}

// Build constructs the adapter a spec describes. Construction failures
// (missing credentials, bad base URL, unknown kind) are fatal and never
// retried.
func Build(spec Spec, deps Deps) (Adapter, error) {
	switch spec.Kind {
	case KindAPI:
		return NewAPIAdapter(spec, deps)
	case KindHTML:
		return NewHTMLAdapter(spec, deps)
	case KindBrowser:
		return NewBrowserAdapter(spec, deps)
	case KindMock:
		return NewMockAdapter(spec), nil
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", spec.ID, spec.Kind)
	}
}
