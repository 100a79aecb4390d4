package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleDeal() (models.CanonicalDeal, models.DealScore) {
	deal := models.CanonicalDeal{
		Listing: models.CanonicalListing{
			SourceID:     "techstore",
			ExternalID:   "x-1",
			Title:        "Robot Vacuum X",
			CurrentPrice: decimal.RequireFromString("179.99"),
			Currency:     "EUR",
		},
		DealPrice: decimal.RequireFromString("179.99"),
		DealURL:   "https://shop.example/p/x-1",
		Kind:      models.DealPriceDrop,
	}
	score := models.DealScore{
		Score:     87.5,
		Tier:      models.TierSuperDeal,
		Reasoning: "price is near the lowest point in 90 days",
	}
	return deal, score
}

func TestTelegramNotifierSendsDealMessage(t *testing.T) {
	received := make(map[string]string)
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	deal, score := sampleDeal()

	if err := notifier.Notify(context.Background(), DealNotification(deal, score)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if path != "/bottoken/sendMessage" {
		t.Errorf("request path = %q", path)
	}
	if received["chat_id"] != "chat" {
		t.Errorf("chat_id = %q", received["chat_id"])
	}
	text := received["text"]
	for _, want := range []string{"superDeal", "87.5", "Robot Vacuum X", "179.99 EUR", "techstore", "https://shop.example/p/x-1"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierRejectsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	deal, score := sampleDeal()

	if err := notifier.Notify(context.Background(), DealNotification(deal, score)); err == nil {
		t.Fatal("ok=false accepted")
	}
}

func TestTelegramNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	deal, score := sampleDeal()

	err := notifier.Notify(context.Background(), DealNotification(deal, score))
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status error", err)
	}
}

func TestRenderMessageOutage(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	note := OutageNotification("techstore", []string{"household", "toys"}, 5, at)
	note.Channels = []string{"telegram"}

	text := renderMessage(note)
	for _, want := range []string{"source outage", "techstore", "household, toys", "Errors: 5", "2026-08-25T10:00:00Z", "telegram"} {
		if !strings.Contains(text, want) {
			t.Errorf("outage message missing %q:\n%s", want, text)
		}
	}
}
