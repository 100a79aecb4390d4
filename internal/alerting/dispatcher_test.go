package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deal-scout/internal/models"
)

type fakeNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, note Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

func TestDispatcherTierFloor(t *testing.T) {
	sink := &fakeNotifier{}
	d := NewDispatcher(sink, models.TierSuperDeal, time.Hour, nil, testLogger())

	deal, score := sampleDeal()
	score.Tier = models.TierHotDeal
	d.DealScored(context.Background(), deal, score)
	d.Wait()
	if sink.count() != 0 {
		t.Fatalf("hotDeal delivered with a superDeal floor")
	}

	score.Tier = models.TierSuperDeal
	d.DealScored(context.Background(), deal, score)
	d.Wait()
	if sink.count() != 1 {
		t.Fatalf("superDeal not delivered: %d notes", sink.count())
	}
}

func TestDispatcherCooldown(t *testing.T) {
	sink := &fakeNotifier{}
	d := NewDispatcher(sink, models.TierDeal, 30*time.Minute, nil, testLogger())

	current := time.Now()
	d.now = func() time.Time { return current }

	deal, score := sampleDeal()
	d.DealScored(context.Background(), deal, score)
	d.DealScored(context.Background(), deal, score)
	d.Wait()
	if sink.count() != 1 {
		t.Fatalf("got %d deliveries inside cooldown, want 1", sink.count())
	}

	current = current.Add(31 * time.Minute)
	d.DealScored(context.Background(), deal, score)
	d.Wait()
	if sink.count() != 2 {
		t.Fatalf("got %d deliveries after cooldown, want 2", sink.count())
	}
}

func TestDispatcherRetriesAfterDeliveryFailure(t *testing.T) {
	sink := &fakeNotifier{err: errors.New("telegram down")}
	d := NewDispatcher(sink, models.TierDeal, time.Hour, nil, testLogger())

	deal, score := sampleDeal()
	d.DealScored(context.Background(), deal, score)
	d.Wait()

	// The failed attempt must not burn the cooldown slot.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	d.DealScored(context.Background(), deal, score)
	d.Wait()
	if sink.count() != 1 {
		t.Fatalf("got %d deliveries after recovery, want 1", sink.count())
	}
}

func TestDispatcherOutage(t *testing.T) {
	sink := &fakeNotifier{}
	d := NewDispatcher(sink, models.TierSuperDeal, time.Hour, []string{"telegram"}, testLogger())

	d.Outage(context.Background(), "techstore", []string{"toys"}, 3)
	d.Outage(context.Background(), "techstore", []string{"toys"}, 3)
	d.Wait()

	if sink.count() != 1 {
		t.Fatalf("got %d outage deliveries, want 1 inside cooldown", sink.count())
	}
	sink.mu.Lock()
	note := sink.notes[0]
	sink.mu.Unlock()
	if note.Kind != KindOutage || note.SourceID != "techstore" || note.Errors != 3 {
		t.Errorf("outage note = %+v", note)
	}
}

func TestDispatcherNilSafe(t *testing.T) {
	var d *Dispatcher
	deal, score := sampleDeal()
	d.DealScored(context.Background(), deal, score)
	d.Outage(context.Background(), "techstore", nil, 0)
	d.Wait()
}
