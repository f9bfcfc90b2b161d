package marketcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/market"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeSource serves markets from a fixed list and can fail a given page
type fakeSource struct {
	mu       sync.Mutex
	markets  []market.Summary
	failPage int // -1 disables
	calls    []int
}

func (f *fakeSource) ListActiveMarkets(ctx context.Context, limit, offset int) ([]market.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := offset / limit
	f.calls = append(f.calls, page)
	if page == f.failPage {
		return nil, errors.New("upstream unavailable")
	}
	if offset >= len(f.markets) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.markets) {
		end = len(f.markets)
	}
	out := make([]market.Summary, end-offset)
	copy(out, f.markets[offset:end])
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeMarkets(n int) []market.Summary {
	out := make([]market.Summary, n)
	for i := range out {
		out[i] = market.Summary{ID: fmt.Sprintf("m%d", i), Question: fmt.Sprintf("Question %d?", i)}
	}
	return out
}

func TestRefreshPaging(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		maxPages  int
		wantLen   int
		wantCalls int
	}{
		{"short first page", 3, 5, 10, 3, 1},
		{"stops at short page", 12, 5, 10, 12, 3},
		{"exact multiple needs empty page", 10, 5, 10, 10, 3},
		{"capped by max pages", 50, 5, 2, 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{markets: makeMarkets(tt.total), failPage: -1}
			c := New(src, tt.pageSize, tt.maxPages, time.Minute, testLogger())

			if err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}
			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
			if src.callCount() != tt.wantCalls {
				t.Errorf("page requests = %d, want %d", src.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	src := &fakeSource{markets: makeMarkets(8), failPage: -1}
	c := New(src, 5, 10, time.Minute, testLogger())

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}
	before := c.RefreshedAt()

	// page 0 of the new batch succeeds and page 1 fails, so the partial batch is discarded
	src.mu.Lock()
	src.markets = makeMarkets(9)
	src.failPage = 1
	src.mu.Unlock()

	err := c.Refresh(context.Background())
	if !errors.Is(err, alert.ErrCacheRefresh) {
		t.Fatalf("expected ErrCacheRefresh, got %v", err)
	}
	if c.Len() != 8 {
		t.Errorf("Len() = %d, want previous 8", c.Len())
	}
	if !c.Exists("m7") {
		t.Error("previous snapshot entry missing after failed refresh")
	}
	if !c.RefreshedAt().Equal(before) {
		t.Error("RefreshedAt changed on failed refresh")
	}
}

func TestExistsAndSnapshot(t *testing.T) {
	src := &fakeSource{markets: makeMarkets(3), failPage: -1}
	c := New(src, 10, 1, time.Minute, testLogger())

	if c.Exists("m0") {
		t.Error("empty cache must not contain markets")
	}
	if !c.RefreshedAt().IsZero() {
		t.Error("RefreshedAt must be zero before the first refresh")
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.Exists("m2") || c.Exists("m3") {
		t.Error("Exists mismatch after refresh")
	}

	snap := c.Snapshot()
	snap["m0"] = "mutated"
	delete(snap, "m1")
	if q, _ := c.Question("m0"); q != "Question 0?" {
		t.Error("mutating Snapshot result changed the cache")
	}
	if !c.Exists("m1") {
		t.Error("deleting from Snapshot result changed the cache")
	}
}

func TestSearch(t *testing.T) {
	src := &fakeSource{failPage: -1, markets: []market.Summary{
		{ID: "1", Question: "Will X win?"},
		{ID: "2", Question: "Will Y win?"},
		{ID: "3", Question: "Is x rising?"},
	}}
	c := New(src, 10, 1, time.Minute, testLogger())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := c.Search("x")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("Search(x) = %+v, want ids 1 and 3 in order", got)
	}

	if got := c.Search("zz"); got == nil || len(got) != 0 {
		t.Errorf("Search(zz) = %#v, want empty non-nil slice", got)
	}

	truncated := c.Search("will")[:1]
	truncated[0].Question = "changed"
	if again := c.Search("will"); len(again) != 2 || again[0].Question != "Will X win?" {
		t.Errorf("caller mutation leaked into cache: %+v", again)
	}
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{markets: makeMarkets(2), failPage: -1}
	c := New(src, 10, 1, 10*time.Millisecond, testLogger())

	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if src.callCount() < 2 {
		t.Fatalf("expected initial and periodic refreshes, got %d", src.callCount())
	}
	if !c.Exists("m1") {
		t.Error("cache not populated by refresh loop")
	}

	after := src.callCount()
	time.Sleep(30 * time.Millisecond)
	if src.callCount() != after {
		t.Error("refresh loop kept running after Stop")
	}
}
