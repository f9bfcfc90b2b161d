package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/engine"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
)

const maxBodyBytes = 1 << 16

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog.RefreshedAt().IsZero() {
		metrics.RecordHealthCheck(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "market cache not loaded",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.deps.ReadyChecks {
		if err := check(ctx); err != nil {
			metrics.RecordHealthCheck(false)
			s.log.WithError(err).WithField("check", name).Warn("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"markets": s.deps.Catalog.Len(),
	})
}

// GET /api/markets?q=<term>
func (s *Server) handleSearchMarkets(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	results := s.deps.Catalog.Search(term)
	if len(results) > s.searchLimit {
		results = results[:s.searchLimit]
	}
	writeJSON(w, http.StatusOK, results)
}

// GET /api/markets/{id}
func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := s.deps.Markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		s.log.WithError(err).WithField("market_id", id).Warn("Failed to fetch market detail")
		writeError(w, http.StatusBadGateway, "failed to fetch market")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GET /api/alerts lists active alerts that are still valid and on a cached market
func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	active := s.deps.Alerts.Active()
	out := make([]alert.Alert, 0, len(active))
	for _, a := range active {
		if alert.Validate(a) != nil || !s.deps.Catalog.Exists(a.MarketID) {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/alerts/completed
func (s *Server) handleListCompleted(w http.ResponseWriter, r *http.Request) {
	completed, err := s.deps.Alerts.Completed(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list completed alerts")
		writeError(w, http.StatusInternalServerError, "failed to list completed alerts")
		return
	}
	writeJSON(w, http.StatusOK, completed)
}

// createAlertBody is the POST /api/alerts payload. Pointers separate a
// missing number from zero.
type createAlertBody struct {
	MarketID     string   `json:"marketId"`
	OutcomeIndex *int     `json:"outcomeIndex"`
	Threshold    *float64 `json:"threshold"`
	Direction    string   `json:"direction"`
	Recipient    string   `json:"recipient"`
}

func (b createAlertBody) request() (engine.Request, error) {
	if b.OutcomeIndex == nil {
		return engine.Request{}, fmt.Errorf("%w: outcomeIndex is required", alert.ErrInvalidAlert)
	}
	if b.Threshold == nil {
		return engine.Request{}, fmt.Errorf("%w: threshold is required", alert.ErrInvalidAlert)
	}
	return engine.Request{
		MarketID:     strings.TrimSpace(b.MarketID),
		OutcomeIndex: *b.OutcomeIndex,
		Threshold:    *b.Threshold,
		Direction:    alert.Direction(strings.ToLower(strings.TrimSpace(b.Direction))),
		Recipient:    strings.TrimSpace(b.Recipient),
	}, nil
}

// POST /api/alerts
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var body createAlertBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.deps.Alerts.Create(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, created)
	case errors.Is(err, alert.ErrInvalidAlert):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alert.ErrUnknownMarket):
		writeError(w, http.StatusBadRequest, "market not found or not active")
	case errors.Is(err, alert.ErrDuplicateAlert):
		writeError(w, http.StatusConflict, "an identical alert is already active")
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"market_id": req.MarketID,
		}).Error("Failed to create alert")
		writeError(w, http.StatusInternalServerError, "failed to create alert")
	}
}

// DELETE /api/alerts/{id}
func (s *Server) handleCancelAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.deps.Alerts.Cancel(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, alert.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
	default:
		s.log.WithError(err).WithField("alert_id", id).Error("Failed to cancel alert")
		writeError(w, http.StatusInternalServerError, "failed to cancel alert")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
