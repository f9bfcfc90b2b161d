package storage

import (
	"time"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

// ActiveAlert is a watch condition that has not fired yet. The unique index
// keeps at most one active alert per condition even across replicas.
type ActiveAlert struct {
	ID           string  `gorm:"primaryKey;size:64"`
	MarketID     string  `gorm:"size:128;not null;uniqueIndex:idx_active_condition,priority:1;index"`
	OutcomeIndex int     `gorm:"not null;uniqueIndex:idx_active_condition,priority:2"`
	Threshold    float64 `gorm:"type:double;not null;uniqueIndex:idx_active_condition,priority:3"`
	Direction    string  `gorm:"size:10;not null;uniqueIndex:idx_active_condition,priority:4"`
	Recipient    string  `gorm:"size:128;index"`
	CreatedTS    int64   `gorm:"not null"` // unix millis
}

func (ActiveAlert) TableName() string {
	return "active_alerts"
}

// CompletedAlert is the terminal record of an alert whose threshold was reached
type CompletedAlert struct {
	ID             string  `gorm:"primaryKey;size:64"`
	MarketID       string  `gorm:"size:128;not null;index"`
	OutcomeIndex   int     `gorm:"not null"`
	Threshold      float64 `gorm:"type:double;not null"`
	Direction      string  `gorm:"size:10;not null"`
	Recipient      string  `gorm:"size:128"`
	CreatedTS      int64   `gorm:"not null"`
	CompletedTS    int64   `gorm:"not null;index"`
	CompletedPrice float64 `gorm:"type:double;not null"`
}

func (CompletedAlert) TableName() string {
	return "completed_alerts"
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func activeRow(a alert.Alert) ActiveAlert {
	return ActiveAlert{
		ID:           a.ID,
		MarketID:     a.MarketID,
		OutcomeIndex: a.OutcomeIndex,
		Threshold:    a.Threshold,
		Direction:    string(a.Direction),
		Recipient:    a.Recipient,
		CreatedTS:    toMillis(a.CreatedAt),
	}
}

func (r ActiveAlert) toAlert() alert.Alert {
	return alert.Alert{
		ID:           r.ID,
		MarketID:     r.MarketID,
		OutcomeIndex: r.OutcomeIndex,
		Threshold:    r.Threshold,
		Direction:    alert.Direction(r.Direction),
		Status:       alert.StatusActive,
		Recipient:    r.Recipient,
		CreatedAt:    fromMillis(r.CreatedTS),
	}
}

func completedRow(a alert.Alert) CompletedAlert {
	row := CompletedAlert{
		ID:           a.ID,
		MarketID:     a.MarketID,
		OutcomeIndex: a.OutcomeIndex,
		Threshold:    a.Threshold,
		Direction:    string(a.Direction),
		Recipient:    a.Recipient,
		CreatedTS:    toMillis(a.CreatedAt),
	}
	if a.CompletedAt != nil {
		row.CompletedTS = toMillis(*a.CompletedAt)
	}
	if a.CompletedPrice != nil {
		row.CompletedPrice = *a.CompletedPrice
	}
	return row
}

func (r CompletedAlert) toAlert() alert.Alert {
	completedAt := fromMillis(r.CompletedTS)
	price := r.CompletedPrice
	return alert.Alert{
		ID:             r.ID,
		MarketID:       r.MarketID,
		OutcomeIndex:   r.OutcomeIndex,
		Threshold:      r.Threshold,
		Direction:      alert.Direction(r.Direction),
		Status:         alert.StatusCompleted,
		Recipient:      r.Recipient,
		CreatedAt:      fromMillis(r.CreatedTS),
		CompletedAt:    &completedAt,
		CompletedPrice: &price,
	}
}
