package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"deal-scout/internal/models"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("demo", time.Second, nil)
	m.IncListings("demo", 3)
	m.IncDealScored(models.TierDeal)
	m.IncError("timeout")
	m.IncRetries()
	m.IncObservation(true)
	m.IncRun("ok")
	m.SetProxyHealthy(2)
	if m.Handler() == nil {
		t.Fatal("nil Metrics returned a nil handler")
	}
}

func TestCountersRecordLabels(t *testing.T) {
	m := New()

	m.ObserveFetch("demo", 150*time.Millisecond, nil)
	m.ObserveFetch("demo", time.Second, errors.New("boom"))
	m.IncListings("demo", 3)
	m.IncListings("demo", 0)
	m.IncObservation(true)
	m.IncObservation(false)
	m.IncRun("partial")
	m.SetProxyHealthy(4)

	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("demo", "success")); got != 1 {
		t.Errorf("fetches{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("demo", "error")); got != 1 {
		t.Errorf("fetches{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ListingsTotal.WithLabelValues("demo")); got != 3 {
		t.Errorf("listings = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ObservationsTotal.WithLabelValues("deduplicated")); got != 1 {
		t.Errorf("observations{deduplicated} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("partial")); got != 1 {
		t.Errorf("runs{partial} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProxyHealthy); got != 4 {
		t.Errorf("proxy healthy = %v, want 4", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.IncDealScored(models.TierHotDeal)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `dealscout_deals_scored_total{tier="hotDeal"} 1`) {
		t.Errorf("exposition missing scored-deal sample:\n%s", body)
	}
}
