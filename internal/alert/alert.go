package alert

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Direction is the side of the threshold that fires the alert
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Status is the lifecycle state of an alert. Completed is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Alert is a user-defined watch on one outcome of a market
type Alert struct {
	ID             string     `json:"id"`
	MarketID       string     `json:"marketId"`
	OutcomeIndex   int        `json:"outcomeIndex"`
	Threshold      float64    `json:"threshold"`
	Direction      Direction  `json:"direction"`
	Status         Status     `json:"status"`
	Recipient      string     `json:"recipient,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CompletedPrice *float64   `json:"completedPrice,omitempty"`
}

// Key identifies the watch condition. At most one active alert may exist per key.
type Key struct {
	MarketID     string
	OutcomeIndex int
	Threshold    float64
	Direction    Direction
}

// String renders the key for use as a lock or map key
func (k Key) String() string {
	return k.MarketID + "|" + strconv.Itoa(k.OutcomeIndex) + "|" +
		strconv.FormatFloat(k.Threshold, 'g', -1, 64) + "|" + string(k.Direction)
}

// Key returns the watch condition of the alert
func (a Alert) Key() Key {
	return Key{
		MarketID:     a.MarketID,
		OutcomeIndex: a.OutcomeIndex,
		Threshold:    a.Threshold,
		Direction:    a.Direction,
	}
}

// Hit reports whether price satisfies the alert. The threshold itself counts as a hit
// in both directions.
func (a Alert) Hit(price float64) bool {
	switch a.Direction {
	case DirectionBelow:
		return price <= a.Threshold
	case DirectionAbove:
		return price >= a.Threshold
	default:
		return false
	}
}

// Complete returns the completed record for a hit observed at price
func (a Alert) Complete(price float64, at time.Time) Alert {
	done := a
	done.Status = StatusCompleted
	t := at.UTC()
	p := price
	done.CompletedAt = &t
	done.CompletedPrice = &p
	return done
}

// Validate checks the structural and domain constraints of an alert.
// Market existence is a separate concern and is not checked here.
func Validate(a Alert) error {
	if a.ID == "" {
		return invalid("id must not be empty")
	}
	if a.MarketID == "" {
		return invalid("marketId must not be empty")
	}
	if a.OutcomeIndex < 0 {
		return invalid("outcomeIndex must be a non-negative integer")
	}
	if a.Direction != DirectionAbove && a.Direction != DirectionBelow {
		return invalid(fmt.Sprintf("direction must be %q or %q, got %q", DirectionAbove, DirectionBelow, a.Direction))
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) {
		return invalid("threshold must be a finite number")
	}
	if a.Threshold <= 0 || a.Threshold >= 1 {
		return invalid(fmt.Sprintf("threshold must be strictly between 0 and 1, got %v", a.Threshold))
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAlert, reason)
}
