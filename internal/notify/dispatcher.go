package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/metrics"
)

// Dispatcher delivers events asynchronously. Delivery failures are logged and
// never affect the alert that produced the event.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *logrus.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher bounding each delivery by timeout
func NewDispatcher(sender Sender, timeout time.Duration, log *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout, log: log}
}

// Notify starts delivery of ev and returns immediately
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Delivery outlives the tick that triggered it
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.sender.Send(sendCtx, &ev)
		if _, fanout := d.sender.(*MultiSender); !fanout {
			metrics.RecordNotification(channelName(d.sender), err)
		}
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"alert_id":  ev.AlertID,
				"market_id": ev.MarketID,
			}).Error("Failed to deliver alert notification")
		}
	}()
}

// Wait blocks until all in-flight deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
