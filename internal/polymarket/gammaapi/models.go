package gammaapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/leduftw/polymarket-price-alert/internal/market"
)

// Market is the subset of a Gamma API market the service reads
type Market struct {
	ID            string          `json:"id"`
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	Archived      bool            `json:"archived"`
	Outcomes      json.RawMessage `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices json.RawMessage `json:"outcomePrices"` // e.g. "[\"0.02\",\"0.98\"]"
}

// Summary projects the market to its cached form
func (m Market) Summary() market.Summary {
	return market.Summary{ID: m.ID, Question: m.Question}
}

// Detail parses outcomes and prices into a live market read
func (m Market) Detail() (market.Detail, error) {
	labels, err := parseList(m.Outcomes)
	if err != nil {
		return market.Detail{}, fmt.Errorf("parse outcomes: %w", err)
	}
	rawPrices, err := parseList(m.OutcomePrices)
	if err != nil {
		return market.Detail{}, fmt.Errorf("parse outcome prices: %w", err)
	}

	// Entries past the shorter list are dropped and read back as out of range
	outcomes := make([]market.Outcome, min(len(labels), len(rawPrices)))
	for i := range outcomes {
		label := labels[i]
		price, err := strconv.ParseFloat(rawPrices[i], 64)
		if err != nil {
			return market.Detail{}, fmt.Errorf("parse price %q for outcome %d: %w", rawPrices[i], i, err)
		}
		outcomes[i] = market.Outcome{ID: i, Label: label, Price: price}
	}

	return market.Detail{ID: m.ID, Question: m.Question, Outcomes: outcomes}, nil
}

// parseList accepts a JSON array of strings or numbers, a JSON string holding
// such an array, or a comma-separated string
func parseList(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			return parseList(json.RawMessage(s))
		}
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &elems); err != nil {
			return nil, err
		}
		items := make([]string, 0, len(elems))
		for _, elem := range elems {
			var s string
			if err := json.Unmarshal(elem, &s); err == nil {
				items = append(items, strings.TrimSpace(s))
				continue
			}
			var n json.Number
			if err := json.Unmarshal(elem, &n); err != nil {
				return nil, fmt.Errorf("unsupported list element %s", string(elem))
			}
			items = append(items, n.String())
		}
		return items, nil
	}

	return nil, fmt.Errorf("unsupported list encoding %q", trimmed)
}
