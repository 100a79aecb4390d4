package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Rate describes one domain's token bucket: Burst is the ceiling the bucket
// can hold, PerMinute how many tokens flow back per minute.
type Rate struct {
	PerMinute float64
	Burst     int
}

// DefaultRate is the conservative budget applied to domains nobody
// registered explicitly.
var DefaultRate = Rate{PerMinute: 10, Burst: 5}

func (r Rate) normalized() Rate {
	if r.PerMinute <= 0 {
		r.PerMinute = DefaultRate.PerMinute
	}
	if r.Burst <= 0 {
		r.Burst = 1
	}
	return r
}

func (r Rate) limit() rate.Limit {
	return rate.Limit(r.PerMinute / 60.0)
}

// Limiter admits requests per target domain through lazily created token
// buckets. The table mutex only guards bucket lookup; token accounting
// happens under each bucket's own lock, so domains never contend with each
// other.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rates   map[string]Rate
	def     Rate
}

// New builds a limiter with the given default budget for unregistered
// domains. Zero-value fields of def fall back to DefaultRate.
func New(def Rate) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rates:   make(map[string]Rate),
		def:     def.normalized(),
	}
}

// SetRate registers a per-domain budget override. Intended for adapter
// registration time; replacing the rate of a live bucket resets its tokens.
func (l *Limiter) SetRate(domain string, r Rate) {
	r = r.normalized()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[domain] = r
	if _, live := l.buckets[domain]; live {
		l.buckets[domain] = rate.NewLimiter(r.limit(), r.Burst)
	}
}

// Acquire blocks until the domain's bucket grants a token, consuming it.
// Refill is computed lazily at reservation time, so idle buckets cost
// nothing. Cancellation of ctx aborts the wait with the context's error.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	return l.bucket(domain).Wait(ctx)
}

func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[domain]; ok {
		return b
	}
	r, ok := l.rates[domain]
	if !ok {
		r = l.def
	}
	b := rate.NewLimiter(r.limit(), r.Burst)
	l.buckets[domain] = b
	return b
}

// Domain extracts the bucket key for a URL: the bare hostname, lowercased.
// Unparseable input is returned trimmed as-is so callers still rate-limit
// against something stable.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Hostname())
}
