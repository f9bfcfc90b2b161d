package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

// DiscordSender posts notifications to a Discord webhook
type DiscordSender struct {
	webhookURL  string
	environment string
	httpClient  *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL, environment string) *DiscordSender {
	return &DiscordSender{
		webhookURL:  webhookURL,
		environment: environment,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in metrics
func (s *DiscordSender) Name() string { return "discord" }

// Send posts the event as a webhook embed
func (s *DiscordSender) Send(ctx context.Context, ev *Event) error {
	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(ev)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (s *DiscordSender) buildEmbed(ev *Event) map[string]interface{} {
	color := 0xFF0000 // red, price fell to threshold
	if ev.Direction == alert.DirectionAbove {
		color = 0x00C853 // green
	}

	fields := []map[string]interface{}{
		{"name": "Outcome", "value": ev.outcome(), "inline": true},
		{"name": "Condition", "value": fmt.Sprintf("%s %s", ev.comparator(), formatPrice(ev.Threshold)), "inline": true},
		{"name": "Price", "value": fmt.Sprintf("**%s**", formatPrice(ev.Price)), "inline": true},
		{"name": "Alert", "value": fmt.Sprintf("`%s`", ev.AlertID), "inline": false},
	}
	if ev.Recipient != "" {
		fields = append(fields, map[string]interface{}{"name": "Recipient", "value": ev.Recipient, "inline": true})
	}

	return map[string]interface{}{
		"title":       truncate(ev.Title(), 256),
		"description": truncate(ev.question(), 2000),
		"color":       color,
		"fields":      fields,
		"footer": map[string]interface{}{
			"text": fmt.Sprintf("Price Alert • %s", s.environment),
		},
		"timestamp": ev.TriggeredAt.UTC().Format(time.RFC3339),
	}
}
