package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

// Memory is an in-process alert store with the same semantics as DB
type Memory struct {
	mu         sync.RWMutex
	active     map[string]alert.Alert
	conditions map[alert.Key]string // condition -> active alert id
	completed  map[string]alert.Alert
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		active:     make(map[string]alert.Alert),
		conditions: make(map[alert.Key]string),
		completed:  make(map[string]alert.Alert),
	}
}

// ListAlerts returns every alert with the given status, oldest first
func (m *Memory) ListAlerts(ctx context.Context, status alert.Status) ([]alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var src map[string]alert.Alert
	switch status {
	case alert.StatusActive:
		src = m.active
	case alert.StatusCompleted:
		src = m.completed
	default:
		return nil, fmt.Errorf("unknown alert status %q", status)
	}

	out := make([]alert.Alert, 0, len(src))
	for _, a := range src {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertActive inserts a new active alert, rejecting a second alert on the same condition
func (m *Memory) InsertActive(ctx context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conditions[a.Key()]; ok {
		return fmt.Errorf("%w: %s", alert.ErrDuplicateAlert, a.Key())
	}
	if _, ok := m.active[a.ID]; ok {
		return fmt.Errorf("%w: id %s", alert.ErrDuplicateAlert, a.ID)
	}
	a.Status = alert.StatusActive
	m.active[a.ID] = a
	m.conditions[a.Key()] = a.ID
	return nil
}

// UpsertAlert writes the alert into the partition matching its status
func (m *Memory) UpsertAlert(ctx context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch a.Status {
	case alert.StatusActive:
		if id, ok := m.conditions[a.Key()]; ok && id != a.ID {
			return fmt.Errorf("%w: %s", alert.ErrDuplicateAlert, a.Key())
		}
		if prev, ok := m.active[a.ID]; ok && m.conditions[prev.Key()] == a.ID {
			delete(m.conditions, prev.Key())
		}
		m.active[a.ID] = a
		m.conditions[a.Key()] = a.ID
	case alert.StatusCompleted:
		m.completed[a.ID] = a
	default:
		return fmt.Errorf("unknown alert status %q", a.Status)
	}
	return nil
}

// HasActive reports whether an active record with id exists
func (m *Memory) HasActive(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok, nil
}

// DeleteActive removes an active alert. Deleting a missing alert is not an error.
func (m *Memory) DeleteActive(ctx context.Context, id, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok || a.MarketID != marketID {
		return nil
	}
	delete(m.active, id)
	if m.conditions[a.Key()] == id {
		delete(m.conditions, a.Key())
	}
	return nil
}
