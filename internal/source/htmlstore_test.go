package source

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/cache"
	"deal-scout/internal/retry"
)

const searchPageHTML = `<html><body>
<div class="product-card" data-id="x-1">
  <h3 class="product-title">Robot Vacuum X</h3>
  <span class="price">€ 179,99</span>
  <span class="price-old">€ 299,00</span>
  <span class="badge-discount">-40%</span>
  <a class="product-link" href="/p/x-1?utm_source=search">view</a>
  <img class="product-image" src="/img/x-1.jpg"/>
</div>
<div class="product-card">
  <h3 class="product-title">Card without an id</h3>
  <span class="price">€ 10,00</span>
</div>
<div class="product-card" data-id="x-2">
  <h3 class="product-title">Robot Vacuum Y</h3>
  <span class="price">€ 89,00</span>
  <a class="product-link" href="/p/x-2">view</a>
</div>
</body></html>`

const productPageHTML = `<html><body>
<div id="product">
  <h1 class="product-title">Robot Vacuum X</h1>
  <span class="brand">Cleanotron</span>
  <span class="price">€ 179,99</span>
  <span class="price-old">€ 299,00</span>
  <img id="main-image" src="/img/x-1-large.jpg"/>
</div>
</body></html>`

func newTestHTMLAdapter(t *testing.T, deps Deps) (*HTMLAdapter, *httpmock.MockTransport) {
	t.Helper()
	a, err := NewHTMLAdapter(Spec{
		ID:      "shop",
		Kind:    KindHTML,
		BaseURL: "http://shop.example",
		Timeout: 2 * time.Second,
	}, deps)
	if err != nil {
		t.Fatalf("new html adapter: %v", err)
	}
	transport := httpmock.NewMockTransport()
	a.transport = transport
	return a, transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestHTMLFetchListingsParsesCards(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/search", htmlResponder(searchPageHTML))

	deals, err := a.FetchListings(context.Background(), Query{Keyword: "robot vacuum"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("got %d deals, want 2 (the id-less card is skipped)", len(deals))
	}

	first := deals[0]
	if first.Listing.ExternalID != "x-1" || first.Listing.Title != "Robot Vacuum X" {
		t.Fatalf("first deal = %+v", first.Listing)
	}
	if !first.DealPrice.Equal(decimal.RequireFromString("179.99")) {
		t.Fatalf("price = %s", first.DealPrice)
	}
	if first.Listing.OriginalPrice == nil || !first.Listing.OriginalPrice.Equal(decimal.NewFromInt(299)) {
		t.Fatal("old price should be parsed")
	}
	if first.DiscountPercent == nil || !first.DiscountPercent.Equal(decimal.NewFromInt(40)) {
		t.Fatal("discount badge should be parsed")
	}
	if first.DealURL != "http://shop.example/p/x-1" {
		t.Fatalf("deal url = %q, tracking params should be stripped", first.DealURL)
	}
	if first.Listing.ImageURL != "http://shop.example/img/x-1.jpg" {
		t.Fatalf("image url = %q", first.Listing.ImageURL)
	}

	second := deals[1]
	if second.Listing.ExternalID != "x-2" || second.Listing.OriginalPrice != nil || second.DiscountPercent != nil {
		t.Fatalf("second deal = %+v", second)
	}
}

func TestHTMLFetchListingsHonorsMaxResults(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/search", htmlResponder(searchPageHTML))

	deals, err := a.FetchListings(context.Background(), Query{Keyword: "robot vacuum", MaxResults: 1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("got %d deals, want 1", len(deals))
	}
}

func TestHTMLFetchListingsRetriesServerErrors(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())

	var calls atomic.Int32
	transport.RegisterResponder("GET", "http://shop.example/search", func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return httpmock.NewStringResponse(http.StatusBadGateway, "upstream down"), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, searchPageHTML)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	deals, err := a.FetchListings(context.Background(), Query{Keyword: "robot vacuum"})
	if err != nil {
		t.Fatalf("fetch should recover after a transient 5xx: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("got %d deals, want 2", len(deals))
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestHTMLFetchListingsMissingPage(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/search",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	_, err := a.FetchListings(context.Background(), Query{Keyword: "robot vacuum"})
	var notFound retry.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want a not-found classification", err)
	}
}

func TestHTMLDetailParsesPage(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/p/x-1", htmlResponder(productPageHTML))

	got, err := a.FetchListingDetail(context.Background(), "x-1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if got == nil {
		t.Fatal("detail should exist")
	}
	if got.Title != "Robot Vacuum X" || got.Brand != "Cleanotron" {
		t.Fatalf("parsed listing = %+v", got)
	}
	if !got.CurrentPrice.Equal(decimal.RequireFromString("179.99")) {
		t.Fatalf("price = %s", got.CurrentPrice)
	}
	if got.ImageURL != "http://shop.example/img/x-1-large.jpg" {
		t.Fatalf("image url = %q", got.ImageURL)
	}
}

func TestHTMLDetailGonePage(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/p/x-404",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	got, err := a.FetchListingDetail(context.Background(), "x-404")
	if err != nil {
		t.Fatalf("gone pages should not be an error: %v", err)
	}
	if got != nil {
		t.Fatal("gone pages should report absence")
	}
}

func TestHTMLDetailServesFromCache(t *testing.T) {
	listings, err := cache.OpenListings(filepath.Join(t.TempDir(), "cache.db"), time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer listings.Close()

	deps := testDeps()
	deps.Cache = listings
	a, transport := newTestHTMLAdapter(t, deps)

	var calls atomic.Int32
	transport.RegisterResponder("GET", "http://shop.example/p/x-1", func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		resp := httpmock.NewStringResponse(http.StatusOK, productPageHTML)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	for i := 0; i < 2; i++ {
		got, err := a.FetchListingDetail(context.Background(), "x-1")
		if err != nil {
			t.Fatalf("detail %d: %v", i, err)
		}
		if got == nil || got.Title != "Robot Vacuum X" {
			t.Fatalf("detail %d returned %+v", i, got)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d calls, second lookup should hit the cache", got)
	}
}

func TestHTMLHealthCheck(t *testing.T) {
	a, transport := newTestHTMLAdapter(t, testDeps())
	transport.RegisterResponder("GET", "http://shop.example/", htmlResponder("<html><body>ok</body></html>"))

	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestParseDiscountBadge(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "-40%", want: "40"},
		{raw: "25 % off", want: "25"},
		{raw: "-12,5%", want: "12.5"},
		{raw: "", want: ""},
		{raw: "sale", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := parseDiscountBadge(tt.raw)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("parseDiscountBadge(%q) = %s, want nil", tt.raw, got)
				}
				return
			}
			if got == nil || !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("parseDiscountBadge(%q) = %v, want %s", tt.raw, got, tt.want)
			}
		})
	}
}
