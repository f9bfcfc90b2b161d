// Package engine owns the working set of active alerts and drives their
// lifecycle: creation, periodic evaluation against live prices, completion and
// notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/market"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
	"github.com/leduftw/polymarket-price-alert/internal/notify"
)

// ErrTickInProgress is returned by Tick when another tick is still running
var ErrTickInProgress = errors.New("tick already in progress")

// Store persists active and completed alerts
type Store interface {
	ListAlerts(ctx context.Context, status alert.Status) ([]alert.Alert, error)
	InsertActive(ctx context.Context, a alert.Alert) error
	UpsertAlert(ctx context.Context, a alert.Alert) error
	DeleteActive(ctx context.Context, id, marketID string) error
	HasActive(ctx context.Context, id string) (bool, error)
}

// MarketIndex answers whether a market is currently active
type MarketIndex interface {
	Exists(id string) bool
}

// PriceSource reads live outcome prices
type PriceSource interface {
	GetMarket(ctx context.Context, id string) (market.Detail, error)
}

// Notifier dispatches triggered-alert events without blocking
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// Locker is an optional cross-replica lease on the poll tick. With a locker
// configured the store is treated as shared and every tick first resyncs the
// working set from it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Options tunes the engine. Zero values take defaults.
type Options struct {
	Workers      int
	FetchTimeout time.Duration
	PollInterval time.Duration
	Locker       Locker
	LockTTL      time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Minute
	}
}

// Request is the caller-supplied part of a new alert
type Request struct {
	MarketID     string          `json:"marketId"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Threshold    float64         `json:"threshold"`
	Direction    alert.Direction `json:"direction"`
	Recipient    string          `json:"recipient,omitempty"`
}

// entry is a working-set member. A non-nil completed means the completed
// record is durable but the active record could not be removed yet.
type entry struct {
	alert     alert.Alert
	completed *alert.Alert
	event     *notify.Event
}

// Engine is the alert lifecycle engine
type Engine struct {
	store    Store
	markets  MarketIndex
	prices   PriceSource
	notifier Notifier
	log      *logrus.Logger
	opts     Options

	mu         sync.RWMutex
	active     map[string]*entry
	conditions map[alert.Key]string // condition -> alert id, "" while a create is in flight

	idLocks sync.Map     // Per-alert locks serialising completion and cancel
	syncMu  sync.RWMutex // Held exclusively while resyncing from a shared store
	ticking atomic.Bool

	now   func() time.Time
	newID func() string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine with an empty working set. Call Load before Start.
func New(store Store, markets MarketIndex, prices PriceSource, notifier Notifier, log *logrus.Logger, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:      store,
		markets:    markets,
		prices:     prices,
		notifier:   notifier,
		log:        log,
		opts:       opts,
		active:     make(map[string]*entry),
		conditions: make(map[alert.Key]string),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
}

// Create validates and registers a new active alert
func (e *Engine) Create(ctx context.Context, req Request) (alert.Alert, error) {
	candidate := alert.Alert{
		ID:           "pending",
		MarketID:     req.MarketID,
		OutcomeIndex: req.OutcomeIndex,
		Threshold:    req.Threshold,
		Direction:    req.Direction,
		Status:       alert.StatusActive,
		Recipient:    req.Recipient,
	}

	if err := alert.Validate(candidate); err != nil {
		metrics.AlertsCreated.WithLabelValues("invalid").Inc()
		return alert.Alert{}, err
	}
	if !e.markets.Exists(candidate.MarketID) {
		metrics.AlertsCreated.WithLabelValues("unknown_market").Inc()
		return alert.Alert{}, fmt.Errorf("%w: %s", alert.ErrUnknownMarket, candidate.MarketID)
	}

	e.syncMu.RLock()
	defer e.syncMu.RUnlock()

	key := candidate.Key()
	if !e.reserve(key) {
		metrics.AlertsCreated.WithLabelValues("duplicate").Inc()
		return alert.Alert{}, fmt.Errorf("%w: %s", alert.ErrDuplicateAlert, key)
	}

	candidate.ID = e.newID()
	candidate.CreatedAt = e.now()

	if err := e.store.InsertActive(ctx, candidate); err != nil {
		e.release(key)
		if errors.Is(err, alert.ErrDuplicateAlert) {
			metrics.AlertsCreated.WithLabelValues("duplicate").Inc()
			return alert.Alert{}, err
		}
		metrics.AlertsCreated.WithLabelValues("error").Inc()
		return alert.Alert{}, fmt.Errorf("%w: insert alert: %w", alert.ErrStore, err)
	}

	e.mu.Lock()
	e.active[candidate.ID] = &entry{alert: candidate}
	e.conditions[key] = candidate.ID
	e.mu.Unlock()
	e.updateGauge()

	metrics.AlertsCreated.WithLabelValues("success").Inc()
	e.log.WithFields(logrus.Fields{
		"alert_id":      candidate.ID,
		"market_id":     candidate.MarketID,
		"outcome_index": candidate.OutcomeIndex,
		"threshold":     candidate.Threshold,
		"direction":     candidate.Direction,
	}).Info("Alert created")

	return candidate, nil
}

// reserve claims the condition for an in-flight create
func (e *Engine) reserve(key alert.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, taken := e.conditions[key]; taken {
		return false
	}
	e.conditions[key] = ""
	return true
}

func (e *Engine) release(key alert.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conditions[key] == "" {
		delete(e.conditions, key)
	}
}

// Load rebuilds the working set from the store. Active records whose id
// already has a completed record are removed from the active partition.
func (e *Engine) Load(ctx context.Context) error {
	completed, err := e.store.ListAlerts(ctx, alert.StatusCompleted)
	if err != nil {
		return fmt.Errorf("%w: list completed alerts: %w", alert.ErrStore, err)
	}
	done := make(map[string]alert.Alert, len(completed))
	for _, a := range completed {
		done[a.ID] = a
	}

	active, err := e.store.ListAlerts(ctx, alert.StatusActive)
	if err != nil {
		return fmt.Errorf("%w: list active alerts: %w", alert.ErrStore, err)
	}

	entries := make(map[string]*entry, len(active))
	conditions := make(map[alert.Key]string, len(active))
	recovered := 0
	for _, a := range active {
		ent := &entry{alert: a}
		if record, ok := done[a.ID]; ok {
			if err := e.store.DeleteActive(ctx, a.ID, a.MarketID); err != nil {
				// Retried by the next tick
				ent.completed = &record
				e.log.WithError(err).WithField("alert_id", a.ID).Warn("Failed to remove stale active alert during recovery")
			} else {
				recovered++
				continue
			}
		}
		entries[a.ID] = ent
		conditions[a.Key()] = a.ID
	}

	e.mu.Lock()
	e.active = entries
	e.conditions = conditions
	e.mu.Unlock()
	e.updateGauge()

	e.log.WithFields(logrus.Fields{
		"active":    len(entries),
		"completed": len(completed),
		"recovered": recovered,
	}).Info("Alert working set loaded")
	return nil
}

// Active returns the active alerts ordered by creation time
func (e *Engine) Active() []alert.Alert {
	e.mu.RLock()
	out := make([]alert.Alert, 0, len(e.active))
	for _, ent := range e.active {
		if ent.completed == nil {
			out = append(out, ent.alert)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the active alert with id
func (e *Engine) Get(id string) (alert.Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.active[id]
	if !ok || ent.completed != nil {
		return alert.Alert{}, false
	}
	return ent.alert, true
}

// Completed returns the completed alert history
func (e *Engine) Completed(ctx context.Context) ([]alert.Alert, error) {
	alerts, err := e.store.ListAlerts(ctx, alert.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("%w: list completed alerts: %w", alert.ErrStore, err)
	}
	return alerts, nil
}

// Cancel removes an active alert without completing it
func (e *Engine) Cancel(ctx context.Context, id string) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	a, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("%w: alert %s", alert.ErrNotFound, id)
	}

	if err := e.store.DeleteActive(ctx, a.ID, a.MarketID); err != nil {
		return fmt.Errorf("%w: delete alert: %w", alert.ErrStore, err)
	}
	e.remove(a)
	metrics.AlertsCancelled.Inc()

	e.log.WithField("alert_id", id).Info("Alert cancelled")
	return nil
}

// Start runs Tick on the poll interval until ctx is done or Stop is called
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.opts.PollInterval)
		defer ticker.Stop()

		// Poll immediately on startup
		e.runTick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runTick(ctx)
			}
		}
	}()
}

func (e *Engine) runTick(ctx context.Context) {
	stats, err := e.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		e.log.WithError(err).Debug("Skipping poll tick")
	case err != nil:
		e.log.WithError(err).Error("Poll tick failed")
	default:
		e.log.WithFields(stats.Fields()).Debug("Poll tick completed")
	}
}

// Stop ends the poll loop and waits for the running tick to finish
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// resync reconciles the working set with the active partition of a shared
// store: alerts created elsewhere are added, alerts removed elsewhere are
// dropped. Pending completions are left to converge.
func (e *Engine) resync(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	records, err := e.store.ListAlerts(ctx, alert.StatusActive)
	if err != nil {
		return fmt.Errorf("%w: list active alerts: %w", alert.ErrStore, err)
	}
	stored := make(map[string]alert.Alert, len(records))
	for _, a := range records {
		stored[a.ID] = a
	}

	added, dropped := 0, 0
	e.mu.Lock()
	for id, ent := range e.active {
		if ent.completed != nil {
			continue
		}
		if _, ok := stored[id]; !ok {
			delete(e.active, id)
			if e.conditions[ent.alert.Key()] == id {
				delete(e.conditions, ent.alert.Key())
			}
			dropped++
		}
	}
	for id, a := range stored {
		if _, ok := e.active[id]; ok {
			continue
		}
		e.active[id] = &entry{alert: a}
		e.conditions[a.Key()] = id
		added++
	}
	e.mu.Unlock()

	if added > 0 || dropped > 0 {
		e.updateGauge()
		e.log.WithFields(logrus.Fields{
			"added":   added,
			"dropped": dropped,
		}).Info("Working set resynced from store")
	}
	return nil
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	lockValue, _ := e.idLocks.LoadOrStore(id, &sync.Mutex{})
	return lockValue.(*sync.Mutex)
}

// remove drops an alert from the working set. Callers hold its id lock.
func (e *Engine) remove(a alert.Alert) {
	e.mu.Lock()
	delete(e.active, a.ID)
	if e.conditions[a.Key()] == a.ID {
		delete(e.conditions, a.Key())
	}
	e.mu.Unlock()
	e.idLocks.Delete(a.ID)
	e.updateGauge()
}

func (e *Engine) updateGauge() {
	e.mu.RLock()
	n := 0
	for _, ent := range e.active {
		if ent.completed == nil {
			n++
		}
	}
	e.mu.RUnlock()
	metrics.AlertsActive.Set(float64(n))
}
