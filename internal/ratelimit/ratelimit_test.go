package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireConsumesBurst(t *testing.T) {
	l := New(Rate{PerMinute: 1, Burst: 3})
	b := l.bucket("shop.example")

	now := time.Now()
	for i := 0; i < 3; i++ {
		if !b.AllowN(now, 1) {
			t.Fatalf("token %d within burst should be granted", i+1)
		}
	}
	if b.AllowN(now, 1) {
		t.Fatal("burst exhausted, token should be denied")
	}
}

func TestRollingWindowNeverExceedsCapacityPlusRefill(t *testing.T) {
	const perMinute = 30.0
	const burst = 5

	l := New(Rate{PerMinute: perMinute, Burst: burst})
	b := l.bucket("shop.example")

	start := time.Now()
	granted := 0
	for s := 0; s < 60; s++ {
		now := start.Add(time.Duration(s) * time.Second)
		for b.AllowN(now, 1) {
			granted++
		}
	}

	if max := burst + int(perMinute); granted > max {
		t.Fatalf("granted %d permits inside one minute, cap is %d", granted, max)
	}
	if granted < burst {
		t.Fatalf("granted %d permits, expected at least the burst of %d", granted, burst)
	}
}

func TestPerDomainIsolation(t *testing.T) {
	l := New(Rate{PerMinute: 1, Burst: 1})
	now := time.Now()

	if !l.bucket("a.example").AllowN(now, 1) {
		t.Fatal("first token for a.example should be granted")
	}
	if !l.bucket("b.example").AllowN(now, 1) {
		t.Fatal("draining a.example must not affect b.example")
	}
}

func TestSetRateOverride(t *testing.T) {
	l := New(Rate{PerMinute: 10, Burst: 1})
	l.SetRate("fast.example", Rate{PerMinute: 600, Burst: 50})

	now := time.Now()
	b := l.bucket("fast.example")
	for i := 0; i < 50; i++ {
		if !b.AllowN(now, 1) {
			t.Fatalf("override burst of 50 should admit request %d", i+1)
		}
	}

	// Default-domain bucket still carries the conservative budget.
	d := l.bucket("slow.example")
	if !d.AllowN(now, 1) {
		t.Fatal("default bucket should grant its single burst token")
	}
	if d.AllowN(now, 1) {
		t.Fatal("default bucket should deny past its burst")
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	l := New(Rate{PerMinute: 0.001, Burst: 1})

	// Drain the lone token, then ask again with a cancelled context.
	if err := l.Acquire(context.Background(), "shop.example"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx, "shop.example"); err == nil {
		t.Fatal("acquire with cancelled context should fail")
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Shop.Example.com/deals?q=1", "shop.example.com"},
		{"http://shop.example.com:8443/x", "shop.example.com"},
		{"shop.example.com", "shop.example.com"},
		{"  HOST.example  ", "host.example"},
	}
	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Fatalf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
