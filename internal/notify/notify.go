// Package notify delivers triggered-alert events to operators and subscribed users.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

// Event describes an alert whose threshold condition became true
type Event struct {
	AlertID      string          `json:"alertId"`
	MarketID     string          `json:"marketId"`
	Question     string          `json:"question"`
	OutcomeIndex int             `json:"outcomeIndex"`
	OutcomeLabel string          `json:"outcomeLabel"`
	Direction    alert.Direction `json:"direction"`
	Threshold    float64         `json:"threshold"`
	Price        float64         `json:"price"`
	Recipient    string          `json:"recipient,omitempty"`
	TriggeredAt  time.Time       `json:"triggeredAt"`
}

// Sender defines the interface for notification channels
type Sender interface {
	Send(ctx context.Context, ev *Event) error
}

// Title is a one-line summary used as subject or heading
func (ev *Event) Title() string {
	return fmt.Sprintf("Price alert: %s %s %s", ev.outcome(), ev.comparator(), formatPrice(ev.Threshold))
}

// Summary is the human-readable body shared by text channels
func (ev *Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n", ev.question())
	fmt.Fprintf(&b, "Outcome: %s\n", ev.outcome())
	fmt.Fprintf(&b, "Condition: price %s %s\n", ev.comparator(), formatPrice(ev.Threshold))
	fmt.Fprintf(&b, "Current price: %s\n", formatPrice(ev.Price))
	fmt.Fprintf(&b, "Alert: %s\n", ev.AlertID)
	fmt.Fprintf(&b, "Triggered: %s", ev.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

func (ev *Event) comparator() string {
	if ev.Direction == alert.DirectionAbove {
		return ">="
	}
	return "<="
}

func (ev *Event) outcome() string {
	if ev.OutcomeLabel != "" {
		return ev.OutcomeLabel
	}
	return fmt.Sprintf("outcome #%d", ev.OutcomeIndex)
}

func (ev *Event) question() string {
	if ev.Question != "" {
		return ev.Question
	}
	return ev.MarketID
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.4g", p)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
