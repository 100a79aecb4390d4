package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

// MockAdapter serves deterministic canned deals without touching the
// network. It backs the mock source kind for demos, smoke tests, and
// wiring checks.
type MockAdapter struct {
	spec Spec

	// FailKeyword simulates per-keyword upstream failures.
	FailKeyword map[string]error
}

var _ Adapter = (*MockAdapter)(nil)

// NewMockAdapter builds a mock source from a spec.
func NewMockAdapter(spec Spec) *MockAdapter {
	return &MockAdapter{spec: spec}
}

func (m *MockAdapter) ShopIdentifier() string { return m.spec.ID }

func (m *MockAdapter) ShopDisplayName() string { return m.spec.displayName() }

// FetchListings fabricates a small price ladder for the keyword. The
// same query always yields the same deals.
func (m *MockAdapter) FetchListings(_ context.Context, q Query) ([]models.CanonicalDeal, error) {
	if err := m.FailKeyword[q.Keyword]; err != nil {
		return nil, err
	}

	n := 3
	if q.MaxResults > 0 && q.MaxResults < n {
		n = q.MaxResults
	}

	deals := make([]models.CanonicalDeal, 0, n)
	for i := 1; i <= n; i++ {
		listing := m.listing(q.Keyword, i)
		deals = append(deals, models.CanonicalDeal{
			Listing:   listing,
			DealPrice: listing.CurrentPrice,
			DealURL:   listing.URL,
			Kind:      models.DealPriceDrop,
		})
	}
	return deals, nil
}

// FetchListingDetail rebuilds the listing a mock identifier encodes, or
// reports absence for foreign identifiers.
func (m *MockAdapter) FetchListingDetail(_ context.Context, externalID string) (*models.CanonicalListing, error) {
	keyword, idx, ok := parseMockID(externalID)
	if !ok {
		return nil, nil
	}
	listing := m.listing(keyword, idx)
	return &listing, nil
}

func (m *MockAdapter) HealthCheck(context.Context) error { return nil }

func (m *MockAdapter) listing(keyword string, idx int) models.CanonicalListing {
	original := decimal.NewFromInt(120)
	return models.CanonicalListing{
		SourceID:      m.spec.ID,
		ExternalID:    fmt.Sprintf("mock-%s-%d", slugify(keyword), idx),
		Title:         fmt.Sprintf("%s demo item %d", keyword, idx),
		CurrentPrice:  decimal.NewFromInt(int64(100 - 15*(idx-1))),
		OriginalPrice: &original,
		Currency:      "EUR",
		URL:           fmt.Sprintf("https://demo.dealscout.invalid/p/mock-%s-%d", slugify(keyword), idx),
		CategoryHint:  keyword,
	}
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

func parseMockID(id string) (keyword string, idx int, ok bool) {
	rest, found := strings.CutPrefix(id, "mock-")
	if !found {
		return "", 0, false
	}
	cut := strings.LastIndex(rest, "-")
	if cut <= 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(rest[cut+1:])
	if err != nil || idx < 1 {
		return "", 0, false
	}
	return strings.ReplaceAll(rest[:cut], "-", " "), idx, true
}
