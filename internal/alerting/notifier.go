package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

const (
	KindDeal   = "deal"
	KindOutage = "outage"
)

// Notification is one outbound alert. Kind selects the message layout.
type Notification struct {
	Kind     string
	SourceID string

	// Deal fields.
	Title     string
	URL       string
	Price     decimal.Decimal
	Currency  string
	Score     float64
	Tier      models.Tier
	Reasoning string

	// Outage fields.
	FailedCategories []string
	Errors           int

	At       time.Time
	Channels []string
}

// DealNotification builds the alert for one scored deal.
func DealNotification(deal models.CanonicalDeal, score models.DealScore) Notification {
	return Notification{
		Kind:      KindDeal,
		SourceID:  deal.Listing.SourceID,
		Title:     deal.Listing.Title,
		URL:       deal.DealURL,
		Price:     deal.DealPrice,
		Currency:  deal.Listing.Currency,
		Score:     score.Score,
		Tier:      score.Tier,
		Reasoning: score.Reasoning,
		At:        time.Now().UTC(),
	}
}

// OutageNotification builds the alert for a source that failed across
// every category.
func OutageNotification(sourceID string, failedCategories []string, errs int, at time.Time) Notification {
	return Notification{
		Kind:             KindOutage,
		SourceID:         sourceID,
		FailedCategories: failedCategories,
		Errors:           errs,
		At:               at,
	}
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram replied ok=false")
		}
	}

	n.logger.Info().
		Str("kind", note.Kind).
		Str("source", note.SourceID).
		Msg("notification sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindOutage:
		builder.WriteString("[DealScout] source outage\n")
		builder.WriteString(fmt.Sprintf("Source: %s\n", note.SourceID))
		if len(note.FailedCategories) > 0 {
			builder.WriteString(fmt.Sprintf("Failed categories: %s\n", strings.Join(note.FailedCategories, ", ")))
		}
		builder.WriteString(fmt.Sprintf("Errors: %d\n", note.Errors))
		builder.WriteString(fmt.Sprintf("At: %s\n", note.At.UTC().Format(time.RFC3339)))
	default:
		builder.WriteString(fmt.Sprintf("[DealScout] %s %.1f/100\n", note.Tier, note.Score))
		builder.WriteString(note.Title + "\n")
		builder.WriteString(fmt.Sprintf("Price: %s %s\n", note.Price.StringFixed(2), note.Currency))
		builder.WriteString(fmt.Sprintf("Source: %s\n", note.SourceID))
		if note.Reasoning != "" {
			builder.WriteString(note.Reasoning + "\n")
		}
		if note.URL != "" {
			builder.WriteString(note.URL + "\n")
		}
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
