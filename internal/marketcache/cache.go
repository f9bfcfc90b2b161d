// Package marketcache keeps an in-memory snapshot of active Polymarket markets.
package marketcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/market"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
)

// PageSource lists active markets one page at a time
type PageSource interface {
	ListActiveMarkets(ctx context.Context, limit, offset int) ([]market.Summary, error)
}

// snapshot is immutable once published
type snapshot struct {
	markets     []market.Summary
	byID        map[string]string
	refreshedAt time.Time
}

// Cache holds the latest active-market snapshot and refreshes it on an interval
type Cache struct {
	source   PageSource
	logger   *logrus.Logger
	pageSize int
	maxPages int
	interval time.Duration

	current atomic.Pointer[snapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache. The snapshot is empty until the first Refresh.
func New(source PageSource, pageSize, maxPages int, interval time.Duration, logger *logrus.Logger) *Cache {
	c := &Cache{
		source:   source,
		logger:   logger,
		pageSize: pageSize,
		maxPages: maxPages,
		interval: interval,
	}
	c.current.Store(&snapshot{byID: map[string]string{}})
	return c
}

// Refresh pages through active markets and swaps the snapshot. Any page error
// discards the batch and leaves the previous snapshot in place.
func (c *Cache) Refresh(ctx context.Context) error {
	var all []market.Summary
	for page := 0; page < c.maxPages; page++ {
		batch, err := c.source.ListActiveMarkets(ctx, c.pageSize, page*c.pageSize)
		if err != nil {
			metrics.RecordCacheRefresh(0, err)
			return fmt.Errorf("%w: page %d: %v", alert.ErrCacheRefresh, page, err)
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			break
		}
	}

	next := &snapshot{
		markets:     make([]market.Summary, 0, len(all)),
		byID:        make(map[string]string, len(all)),
		refreshedAt: time.Now(),
	}
	for _, m := range all {
		if _, seen := next.byID[m.ID]; seen {
			continue
		}
		next.byID[m.ID] = m.Question
		next.markets = append(next.markets, m)
	}

	c.current.Store(next)
	metrics.RecordCacheRefresh(len(next.markets), nil)
	c.logger.WithField("markets", len(next.markets)).Debug("Market cache refreshed")
	return nil
}

// Exists reports whether id is in the current snapshot
func (c *Cache) Exists(id string) bool {
	_, ok := c.current.Load().byID[id]
	return ok
}

// Question returns the cached question for id
func (c *Cache) Question(id string) (string, bool) {
	q, ok := c.current.Load().byID[id]
	return q, ok
}

// Snapshot returns a copy of the id to question mapping
func (c *Cache) Snapshot() map[string]string {
	snap := c.current.Load()
	out := make(map[string]string, len(snap.byID))
	for id, q := range snap.byID {
		out[id] = q
	}
	return out
}

// Search returns markets whose question contains term, case-insensitively, in
// snapshot order. The returned slice is owned by the caller.
func (c *Cache) Search(term string) []market.Summary {
	snap := c.current.Load()
	needle := strings.ToLower(term)
	results := []market.Summary{}
	for _, m := range snap.markets {
		if strings.Contains(strings.ToLower(m.Question), needle) {
			results = append(results, m)
		}
	}
	return results
}

// Len returns the number of cached markets
func (c *Cache) Len() int {
	return len(c.current.Load().markets)
}

// RefreshedAt returns when the current snapshot was built, zero before the first success
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}

// Start runs an initial refresh and then refreshes on the configured interval
// until ctx is done or Stop is called
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.refreshAndLog(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refreshAndLog(ctx)
			}
		}
	}()
}

// Stop ends the refresh loop and waits for it to exit
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) refreshAndLog(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.WithError(err).Warn("Market cache refresh failed, keeping previous snapshot")
	}
}
