package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/leduftw/polymarket-price-alert/internal/metrics"
)

// MultiSender fans a notification out to several channels. A failing channel
// does not stop delivery to the others.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
	}
}

// Name identifies the channel in metrics
func (s *MultiSender) Name() string { return "multi" }

// Send sends the event to all configured senders
func (s *MultiSender) Send(ctx context.Context, ev *Event) error {
	var errs []error
	for _, sender := range s.senders {
		err := sender.Send(ctx, ev)
		metrics.RecordNotification(channelName(sender), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channelName(sender), err))
		}
	}
	return errors.Join(errs...)
}

func channelName(s Sender) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
