// Package api exposes the HTTP surface: market search, alert management,
// the websocket push channel, health checks and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/engine"
	"github.com/leduftw/polymarket-price-alert/internal/market"
)

// AlertService manages the alert lifecycle
type AlertService interface {
	Create(ctx context.Context, req engine.Request) (alert.Alert, error)
	Active() []alert.Alert
	Completed(ctx context.Context) ([]alert.Alert, error)
	Cancel(ctx context.Context, id string) error
}

// MarketCatalog is the cached view of active markets
type MarketCatalog interface {
	Search(term string) []market.Summary
	Exists(id string) bool
	Len() int
	RefreshedAt() time.Time
}

// MarketReader reads live market detail
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (market.Detail, error)
}

// ReadyCheck reports whether a dependency can serve traffic
type ReadyCheck func(ctx context.Context) error

// Deps are the collaborators the server routes to
type Deps struct {
	Alerts      AlertService
	Catalog     MarketCatalog
	Markets     MarketReader
	Socket      http.HandlerFunc // optional websocket endpoint
	ReadyChecks map[string]ReadyCheck
}

// Server is the HTTP API server
type Server struct {
	deps        Deps
	searchLimit int
	log         *logrus.Logger
	httpServer  *http.Server
}

// New creates a server listening on port
func New(port, searchLimit int, deps Deps, log *logrus.Logger) *Server {
	if searchLimit <= 0 {
		searchLimit = 20
	}
	s := &Server{
		deps:        deps,
		searchLimit: searchLimit,
		log:         log,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/markets", s.handleSearchMarkets)
	mux.HandleFunc("GET /api/markets/{id}", s.handleGetMarket)

	mux.HandleFunc("GET /api/alerts", s.handleListActive)
	mux.HandleFunc("GET /api/alerts/completed", s.handleListCompleted)
	mux.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.handleCancelAlert)

	if s.deps.Socket != nil {
		mux.HandleFunc("GET /ws", s.deps.Socket)
	}

	var h http.Handler = mux
	h = logging(s.log)(h)
	h = cors(h)
	return h
}

// Start listens until the server is shut down
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
