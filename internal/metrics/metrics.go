package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Polling metrics
	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_ticks_total",
			Help: "Total number of polling ticks",
		},
		[]string{"status"}, // completed, skipped, locked
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricealert_tick_duration_seconds",
			Help:    "Duration of a polling tick",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	PriceEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_price_evaluations_total",
			Help: "Total number of active alert evaluations",
		},
		[]string{"result"}, // hit, miss, fetch_error, out_of_range, not_cached
	)

	// Alert lifecycle metrics
	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricealert_alerts_active",
			Help: "Number of alerts in the working set",
		},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_alerts_created_total",
			Help: "Total number of alert creation attempts",
		},
		[]string{"status"}, // success, invalid, unknown_market, duplicate, error
	)

	AlertsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricealert_alerts_completed_total",
			Help: "Total number of alerts that reached their threshold",
		},
	)

	AlertsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricealert_alerts_cancelled_total",
			Help: "Total number of alerts cancelled before completion",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"status", "type"}, // success/error, log/discord/smtp/telegram/socket
	)

	// Market cache metrics
	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_cache_refreshes_total",
			Help: "Total number of market cache refreshes",
		},
		[]string{"status"}, // success/error
	)

	CachedMarkets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricealert_cached_markets",
			Help: "Number of active markets in the cache snapshot",
		},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_api_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"api", "endpoint", "status"}, // gamma, /markets, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricealert_api_request_duration_seconds",
			Help:    "Duration of upstream API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"}, // list/insert/upsert/delete, success/error
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricealert_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealert_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordTick records the outcome of a polling tick
func RecordTick(duration time.Duration, status string) {
	Ticks.WithLabelValues(status).Inc()
	if status == "completed" {
		TickDuration.Observe(duration.Seconds())
	}
}

// RecordNotification records a delivery attempt on one channel
func RecordNotification(channel string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NotificationsSent.WithLabelValues(status, channel).Inc()
}

// RecordCacheRefresh records a market cache refresh
func RecordCacheRefresh(markets int, err error) {
	if err != nil {
		CacheRefreshes.WithLabelValues("error").Inc()
		return
	}
	CacheRefreshes.WithLabelValues("success").Inc()
	CachedMarkets.Set(float64(markets))
}

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
