package proxy

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Selector hands out egress addresses and records how they behaved. An empty
// address means "connect directly". Implementations must be safe for
// concurrent use.
type Selector interface {
	Next() string
	MarkSuccess(address string)
	MarkFailed(address string)
	Stats() Stats
}

// Stats is a point-in-time health snapshot of a pool.
type Stats struct {
	Total          int
	Healthy        int
	SuccessRatePct float64
}

type entry struct {
	mu            sync.Mutex
	address       string
	successCount  int
	failCount     int
	lastUsedAt    time.Time
	lastFailedAt  time.Time
	lastSuccessAt time.Time
}

func (e *entry) inCooldown(maxFailures int, window time.Duration, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failCount > maxFailures && now.Sub(e.lastFailedAt) < window
}

// Options tune pool behaviour.
type Options struct {
	Addresses   []string
	MaxFailures int           // failures beyond this put an entry in cooldown
	Cooldown    time.Duration // how long a failing entry sits out
}

// Pool rotates through proxy addresses round-robin, skipping entries in
// cooldown. Entry state lives only for the process lifetime.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	rr          int
	maxFailures int
	cooldown    time.Duration
	logger      zerolog.Logger

	now func() time.Time
}

// NewPool builds a pool over the configured addresses.
func NewPool(opts Options, logger zerolog.Logger) *Pool {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 10 * time.Minute
	}

	entries := make([]*entry, 0, len(opts.Addresses))
	for _, addr := range opts.Addresses {
		if addr == "" {
			continue
		}
		entries = append(entries, &entry{address: addr})
	}

	return &Pool{
		entries:     entries,
		maxFailures: opts.MaxFailures,
		cooldown:    opts.Cooldown,
		logger:      logger.With().Str("component", "proxy_pool").Logger(),
		now:         time.Now,
	}
}

// Next returns the next healthy address round-robin. When every entry is in
// cooldown it returns the least-recently-failed one instead of failing:
// degraded egress beats no egress. An empty pool yields direct connections.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return ""
	}

	now := p.now()
	for i := 0; i < len(p.entries); i++ {
		e := p.entries[p.rr%len(p.entries)]
		p.rr++
		if e.inCooldown(p.maxFailures, p.cooldown, now) {
			continue
		}
		e.mu.Lock()
		e.lastUsedAt = now
		e.mu.Unlock()
		return e.address
	}

	// Everything is cooling down; pick the entry that failed longest ago.
	oldest := p.entries[0]
	for _, e := range p.entries[1:] {
		e.mu.Lock()
		failedAt := e.lastFailedAt
		e.mu.Unlock()
		oldest.mu.Lock()
		oldestFailedAt := oldest.lastFailedAt
		oldest.mu.Unlock()
		if failedAt.Before(oldestFailedAt) {
			oldest = e
		}
	}
	oldest.mu.Lock()
	oldest.lastUsedAt = now
	addr := oldest.address
	oldest.mu.Unlock()
	p.logger.Warn().Str("address", addr).Msg("all proxies in cooldown, using least-recently-failed")
	return addr
}

// MarkSuccess records a successful use and clears the failure streak.
func (p *Pool) MarkSuccess(address string) {
	e := p.find(address)
	if e == nil {
		return
	}
	now := p.now()
	e.mu.Lock()
	e.successCount++
	e.failCount = 0
	e.lastSuccessAt = now
	e.mu.Unlock()
}

// MarkFailed records a failed use.
func (p *Pool) MarkFailed(address string) {
	e := p.find(address)
	if e == nil {
		return
	}
	now := p.now()
	e.mu.Lock()
	e.failCount++
	e.lastFailedAt = now
	fails := e.failCount
	e.mu.Unlock()

	if fails > p.maxFailures {
		p.logger.Debug().Str("address", address).Int("fail_count", fails).Msg("proxy entering cooldown")
	}
}

// Stats summarises pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := Stats{Total: len(p.entries)}
	var successes, failures int
	for _, e := range p.entries {
		if !e.inCooldown(p.maxFailures, p.cooldown, now) {
			stats.Healthy++
		}
		e.mu.Lock()
		successes += e.successCount
		failures += e.failCount
		e.mu.Unlock()
	}
	if total := successes + failures; total > 0 {
		stats.SuccessRatePct = float64(successes) / float64(total) * 100
	}
	return stats
}

func (p *Pool) find(address string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.address == address {
			return e
		}
	}
	return nil
}

// ProxyFunc adapts the selector to the shape http.Transport and colly
// collectors expect. A nil URL means direct connection.
func ProxyFunc(s Selector) func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		addr := s.Next()
		if addr == "" {
			return nil, nil
		}
		u, err := url.Parse(addr)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
}

// NoPool is the direct-connection variant: call sites keep the same shape
// whether or not egress rotation is configured.
type NoPool struct{}

func (NoPool) Next() string       { return "" }
func (NoPool) MarkSuccess(string) {}
func (NoPool) MarkFailed(string)  {}
func (NoPool) Stats() Stats       { return Stats{} }

var (
	_ Selector = (*Pool)(nil)
	_ Selector = NoPool{}
)
