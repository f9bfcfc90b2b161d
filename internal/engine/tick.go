package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/market"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
	"github.com/leduftw/polymarket-price-alert/internal/notify"
	"github.com/leduftw/polymarket-price-alert/internal/ticklock"
)

const tickLockKey = "tick"

// TickStats summarises one poll tick
type TickStats struct {
	Evaluated int
	Triggered int
	Skipped   int
	Failed    int
	Converged int
	Duration  time.Duration
}

// Fields renders the stats for structured logging
func (s TickStats) Fields() logrus.Fields {
	return logrus.Fields{
		"evaluated":   s.Evaluated,
		"triggered":   s.Triggered,
		"skipped":     s.Skipped,
		"failed":      s.Failed,
		"converged":   s.Converged,
		"duration_ms": s.Duration.Milliseconds(),
	}
}

type tickCounters struct {
	evaluated, triggered, skipped, failed, converged atomic.Int64
}

func (c *tickCounters) stats(d time.Duration) TickStats {
	return TickStats{
		Evaluated: int(c.evaluated.Load()),
		Triggered: int(c.triggered.Load()),
		Skipped:   int(c.skipped.Load()),
		Failed:    int(c.failed.Load()),
		Converged: int(c.converged.Load()),
		Duration:  d,
	}
}

// Tick evaluates every alert in the working set once. Per-alert failures are
// logged and leave the alert active; they never fail the tick.
func (e *Engine) Tick(ctx context.Context) (TickStats, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		metrics.RecordTick(0, "skipped")
		return TickStats{}, ErrTickInProgress
	}
	defer e.ticking.Store(false)

	if e.opts.Locker != nil {
		release, err := e.opts.Locker.Acquire(ctx, tickLockKey, e.opts.LockTTL)
		if errors.Is(err, ticklock.ErrLockHeld) {
			metrics.RecordTick(0, "locked")
			return TickStats{}, fmt.Errorf("%w: held by another replica", ErrTickInProgress)
		}
		if err != nil {
			metrics.RecordTick(0, "error")
			return TickStats{}, fmt.Errorf("acquire tick lock: %w", err)
		}
		defer release()

		if err := e.resync(ctx); err != nil {
			metrics.RecordTick(0, "error")
			return TickStats{}, err
		}
	}

	start := time.Now()
	work := e.snapshot()
	fetch := newTickFetcher(e.prices, e.opts.FetchTimeout)
	var counters tickCounters

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for _, ent := range work {
		g.Go(func() error {
			if ent.completed != nil {
				e.converge(ctx, ent, &counters)
				return nil
			}
			e.evaluate(ctx, ent.alert, fetch, &counters)
			return nil
		})
	}
	_ = g.Wait()

	stats := counters.stats(time.Since(start))
	metrics.RecordTick(stats.Duration, "completed")
	return stats, nil
}

// snapshot copies the working set at tick start
func (e *Engine) snapshot() []entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]entry, 0, len(e.active))
	for _, ent := range e.active {
		out = append(out, *ent)
	}
	return out
}

func (e *Engine) evaluate(ctx context.Context, a alert.Alert, fetch *tickFetcher, c *tickCounters) {
	logger := e.log.WithFields(logrus.Fields{
		"alert_id":  a.ID,
		"market_id": a.MarketID,
	})

	if err := alert.Validate(a); err != nil {
		c.skipped.Add(1)
		metrics.PriceEvaluations.WithLabelValues("invalid").Inc()
		logger.WithError(err).Warn("Skipping invalid alert")
		return
	}
	if !e.markets.Exists(a.MarketID) {
		c.skipped.Add(1)
		metrics.PriceEvaluations.WithLabelValues("not_cached").Inc()
		logger.Debug("Skipping alert, market not in active cache")
		return
	}

	c.evaluated.Add(1)

	detail, err := fetch.get(ctx, a.MarketID)
	if err != nil {
		c.failed.Add(1)
		metrics.PriceEvaluations.WithLabelValues("fetch_error").Inc()
		logger.WithError(fmt.Errorf("%w: %w", alert.ErrPriceFetch, err)).Warn("Failed to fetch price")
		return
	}

	price, err := detail.PriceAt(a.OutcomeIndex)
	if err != nil {
		c.failed.Add(1)
		metrics.PriceEvaluations.WithLabelValues("out_of_range").Inc()
		logger.WithError(err).Warn("Outcome index out of range")
		return
	}

	if !a.Hit(price) {
		metrics.PriceEvaluations.WithLabelValues("miss").Inc()
		return
	}
	metrics.PriceEvaluations.WithLabelValues("hit").Inc()

	switch e.complete(ctx, a, detail, price, logger) {
	case completeTriggered:
		c.triggered.Add(1)
	case completeGone:
		c.skipped.Add(1)
	default:
		c.failed.Add(1)
	}
}

type completeResult int

const (
	completeFailed completeResult = iota
	completeTriggered
	completeGone
)

// complete moves a hit alert to the completed partition and dispatches its
// notification. The store's active record is checked first so an alert
// cancelled through another writer is never completed.
func (e *Engine) complete(ctx context.Context, a alert.Alert, detail market.Detail, price float64, logger *logrus.Entry) completeResult {
	mu := e.lockFor(a.ID)
	mu.Lock()
	defer mu.Unlock()

	// Cancelled while the price was in flight
	if _, ok := e.Get(a.ID); !ok {
		return completeGone
	}

	stillActive, err := e.store.HasActive(ctx, a.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to check active record, keeping alert active")
		return completeFailed
	}
	if !stillActive {
		e.remove(a)
		logger.Info("Alert no longer active in store, dropping it")
		return completeGone
	}

	done := a.Complete(price, e.now())
	if err := e.store.UpsertAlert(ctx, done); err != nil {
		logger.WithError(err).Error("Failed to persist completed alert, keeping it active")
		return completeFailed
	}

	ev := buildEvent(done, detail, price)

	if err := e.store.DeleteActive(ctx, a.ID, a.MarketID); err != nil {
		e.markPending(a.ID, done, ev)
		logger.WithError(err).Warn("Completed alert persisted but active record not removed, will retry")
		// The completion is durable; delivery waits until the active record is gone
		return completeTriggered
	}

	e.remove(a)
	metrics.AlertsCompleted.Inc()
	logger.WithFields(logrus.Fields{
		"price":     price,
		"threshold": a.Threshold,
		"direction": a.Direction,
	}).Info("Alert triggered")
	e.notifier.Notify(ctx, ev)
	return completeTriggered
}

// converge retries the active delete for a completed alert and dispatches
// the pending notification once it succeeds
func (e *Engine) converge(ctx context.Context, snap entry, c *tickCounters) {
	mu := e.lockFor(snap.alert.ID)
	mu.Lock()
	defer mu.Unlock()

	e.mu.RLock()
	ent, ok := e.active[snap.alert.ID]
	var pending entry
	if ok {
		pending = *ent
	}
	e.mu.RUnlock()
	if !ok || pending.completed == nil {
		return
	}

	logger := e.log.WithField("alert_id", pending.alert.ID)
	if err := e.store.DeleteActive(ctx, pending.alert.ID, pending.alert.MarketID); err != nil {
		c.failed.Add(1)
		logger.WithError(err).Warn("Retry of active record removal failed")
		return
	}

	e.remove(pending.alert)
	c.converged.Add(1)
	metrics.AlertsCompleted.Inc()
	logger.Info("Completed alert converged")
	if pending.event != nil {
		e.notifier.Notify(ctx, *pending.event)
	}
}

func (e *Engine) markPending(id string, done alert.Alert, ev notify.Event) {
	e.mu.Lock()
	if ent, ok := e.active[id]; ok {
		ent.completed = &done
		ent.event = &ev
	}
	e.mu.Unlock()
	e.updateGauge()
}

func buildEvent(done alert.Alert, detail market.Detail, price float64) notify.Event {
	triggeredAt := done.CreatedAt
	if done.CompletedAt != nil {
		triggeredAt = *done.CompletedAt
	}
	return notify.Event{
		AlertID:      done.ID,
		MarketID:     done.MarketID,
		Question:     detail.Question,
		OutcomeIndex: done.OutcomeIndex,
		OutcomeLabel: detail.LabelAt(done.OutcomeIndex),
		Direction:    done.Direction,
		Threshold:    done.Threshold,
		Price:        price,
		Recipient:    done.Recipient,
		TriggeredAt:  triggeredAt,
	}
}

type fetchResult struct {
	detail market.Detail
	err    error
}

// tickFetcher reads each market at most once per tick
type tickFetcher struct {
	prices  PriceSource
	timeout time.Duration
	group   singleflight.Group

	mu      sync.Mutex
	results map[string]fetchResult
}

func newTickFetcher(prices PriceSource, timeout time.Duration) *tickFetcher {
	return &tickFetcher{
		prices:  prices,
		timeout: timeout,
		results: make(map[string]fetchResult),
	}
}

func (f *tickFetcher) get(ctx context.Context, marketID string) (market.Detail, error) {
	f.mu.Lock()
	if r, ok := f.results[marketID]; ok {
		f.mu.Unlock()
		return r.detail, r.err
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(marketID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		detail, err := f.prices.GetMarket(fetchCtx, marketID)

		f.mu.Lock()
		f.results[marketID] = fetchResult{detail: detail, err: err}
		f.mu.Unlock()
		return detail, err
	})
	if err != nil {
		return market.Detail{}, err
	}
	return v.(market.Detail), nil
}
