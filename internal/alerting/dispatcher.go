package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deal-scout/internal/models"
)

// Dispatcher applies tier and cooldown policy, then delivers
// notifications in the background so ingestion never waits on a
// channel round-trip. Call Wait before process exit.
type Dispatcher struct {
	notifier Notifier
	minTier  models.Tier
	cooldown time.Duration
	channels []string
	timeout  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	wg       sync.WaitGroup

	now func() time.Time
}

// NewDispatcher wraps notifier with a tier floor and a per-key cooldown.
func NewDispatcher(notifier Notifier, minTier models.Tier, cooldown time.Duration, channels []string, logger zerolog.Logger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Dispatcher{
		notifier: notifier,
		minTier:  minTier,
		cooldown: cooldown,
		channels: channels,
		timeout:  10 * time.Second,
		logger:   logger.With().Str("component", "alerting").Logger(),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// DealScored notifies when score.Tier reaches the configured floor and
// the product is outside its cooldown.
func (d *Dispatcher) DealScored(_ context.Context, deal models.CanonicalDeal, score models.DealScore) {
	if d == nil || d.notifier == nil {
		return
	}
	if score.Tier.Rank() < d.minTier.Rank() {
		return
	}
	key := deal.Listing.SourceID + "/" + deal.Listing.ExternalID
	if !d.admit(key) {
		return
	}
	note := DealNotification(deal, score)
	note.Channels = d.channels
	d.deliver(key, note)
}

// Outage notifies that a source failed across every category.
func (d *Dispatcher) Outage(_ context.Context, sourceID string, failedCategories []string, errs int) {
	if d == nil || d.notifier == nil {
		return
	}
	key := "outage/" + sourceID
	if !d.admit(key) {
		return
	}
	note := OutageNotification(sourceID, failedCategories, errs, d.now().UTC())
	note.Channels = d.channels
	d.deliver(key, note)
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(key string, note Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, note); err != nil {
			d.logger.Error().Err(err).Str("key", key).Msg("notification delivery failed")
			// Drop the cooldown stamp so the next cycle can retry.
			d.forget(key)
		}
	}()
}

func (d *Dispatcher) admit(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	if len(d.lastSent) > 4096 {
		for k, at := range d.lastSent {
			if now.Sub(at) >= d.cooldown {
				delete(d.lastSent, k)
			}
		}
	}
	d.lastSent[key] = now
	return true
}

func (d *Dispatcher) forget(key string) {
	d.mu.Lock()
	delete(d.lastSent, key)
	d.mu.Unlock()
}
