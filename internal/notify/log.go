package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes notifications to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Name identifies the channel in metrics
func (s *LogSender) Name() string { return "log" }

// Send logs the event
func (s *LogSender) Send(ctx context.Context, ev *Event) error {
	s.log.WithFields(logrus.Fields{
		"alert_id":      ev.AlertID,
		"market_id":     ev.MarketID,
		"question":      ev.Question,
		"outcome_index": ev.OutcomeIndex,
		"outcome":       ev.OutcomeLabel,
		"direction":     ev.Direction,
		"threshold":     ev.Threshold,
		"price":         ev.Price,
		"recipient":     ev.Recipient,
	}).Info("Price alert triggered")
	return nil
}
