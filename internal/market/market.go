// Package market holds the projections of Polymarket markets used by the cache and the engine.
package market

import (
	"fmt"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

// Summary is the cached projection of an active market
type Summary struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// Outcome is one tradable outcome of a market with its live price
type Outcome struct {
	ID    int     `json:"id"`
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// Detail is a live read of a market. It is never cached.
type Detail struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Outcomes []Outcome `json:"outcomes"`
}

// PriceAt returns the price of the outcome at index
func (d Detail) PriceAt(index int) (float64, error) {
	if index < 0 || index >= len(d.Outcomes) {
		return 0, fmt.Errorf("%w: index %d, market %s has %d outcomes",
			alert.ErrOutcomeOutOfRange, index, d.ID, len(d.Outcomes))
	}
	return d.Outcomes[index].Price, nil
}

// LabelAt returns the label of the outcome at index, or "" when out of range
func (d Detail) LabelAt(index int) string {
	if index < 0 || index >= len(d.Outcomes) {
		return ""
	}
	return d.Outcomes[index].Label
}
