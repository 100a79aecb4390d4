package proxy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPool(addresses ...string) (*Pool, *time.Time) {
	p := NewPool(Options{
		Addresses:   addresses,
		MaxFailures: 2,
		Cooldown:    10 * time.Minute,
	}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestNextRoundRobin(t *testing.T) {
	p, _ := newTestPool("http://p1:8080", "http://p2:8080", "http://p3:8080")

	got := []string{p.Next(), p.Next(), p.Next(), p.Next()}
	want := []string{"http://p1:8080", "http://p2:8080", "http://p3:8080", "http://p1:8080"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCooldownExcludesFailingEntry(t *testing.T) {
	p, now := newTestPool("http://bad:8080", "http://good:8080")

	// Three failures exceed MaxFailures=2 and start the cooldown.
	for i := 0; i < 3; i++ {
		p.MarkFailed("http://bad:8080")
	}

	for i := 0; i < 6; i++ {
		if addr := p.Next(); addr != "http://good:8080" {
			t.Fatalf("pick %d = %q, cooled-down entry must not be selected", i, addr)
		}
	}

	// Once the window elapses the entry is selectable again.
	*now = now.Add(10 * time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[p.Next()] = true
	}
	if !seen["http://bad:8080"] {
		t.Fatal("entry should rejoin rotation after the cooldown window")
	}
}

func TestMarkSuccessResetsFailures(t *testing.T) {
	p, _ := newTestPool("http://p1:8080")

	for i := 0; i < 5; i++ {
		p.MarkFailed("http://p1:8080")
	}
	p.MarkSuccess("http://p1:8080")

	e := p.find("http://p1:8080")
	if e.failCount != 0 {
		t.Fatalf("failCount after MarkSuccess = %d, want 0", e.failCount)
	}
	if addr := p.Next(); addr != "http://p1:8080" {
		t.Fatalf("recovered entry should be selectable, got %q", addr)
	}
}

func TestAllCooledDownFallsBackToLeastRecentlyFailed(t *testing.T) {
	p, now := newTestPool("http://p1:8080", "http://p2:8080")

	for i := 0; i < 3; i++ {
		p.MarkFailed("http://p1:8080")
	}
	*now = now.Add(time.Minute)
	for i := 0; i < 3; i++ {
		p.MarkFailed("http://p2:8080")
	}

	// p1 failed a minute earlier than p2, so it is the degraded pick.
	if addr := p.Next(); addr != "http://p1:8080" {
		t.Fatalf("fallback pick = %q, want least-recently-failed p1", addr)
	}
}

func TestEmptyPoolMeansDirect(t *testing.T) {
	p, _ := newTestPool()
	if addr := p.Next(); addr != "" {
		t.Fatalf("empty pool should return direct connection, got %q", addr)
	}
}

func TestStats(t *testing.T) {
	p, _ := newTestPool("http://p1:8080", "http://p2:8080")

	p.MarkSuccess("http://p1:8080")
	p.MarkSuccess("http://p1:8080")
	p.MarkSuccess("http://p2:8080")
	for i := 0; i < 3; i++ {
		p.MarkFailed("http://p2:8080")
	}

	s := p.Stats()
	if s.Total != 2 {
		t.Fatalf("Total = %d, want 2", s.Total)
	}
	if s.Healthy != 1 {
		t.Fatalf("Healthy = %d, want 1 (p2 is cooling down)", s.Healthy)
	}
	if s.SuccessRatePct != 50 {
		t.Fatalf("SuccessRatePct = %v, want 50", s.SuccessRatePct)
	}
}

func TestNoPool(t *testing.T) {
	var s Selector = NoPool{}
	if s.Next() != "" {
		t.Fatal("NoPool must always return direct connection")
	}
	s.MarkSuccess("x")
	s.MarkFailed("x")
	if got := s.Stats(); got.Total != 0 {
		t.Fatalf("NoPool stats should be empty, got %+v", got)
	}
}

func TestProxyFunc(t *testing.T) {
	p, _ := newTestPool("http://p1:8080")
	fn := ProxyFunc(p)

	u, err := fn(nil)
	if err != nil {
		t.Fatalf("proxy func: %v", err)
	}
	if u == nil || u.Host != "p1:8080" {
		t.Fatalf("proxy func url = %v, want host p1:8080", u)
	}

	direct := ProxyFunc(NoPool{})
	u, err = direct(nil)
	if err != nil || u != nil {
		t.Fatalf("NoPool proxy func should yield nil url, got %v err %v", u, err)
	}
}
