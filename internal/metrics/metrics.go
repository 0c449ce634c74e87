// Package metrics provides Prometheus metrics for the MindPal backend.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session cache
	SessionCacheLookups   *prometheus.CounterVec
	SessionCacheEvictions *prometheus.CounterVec
	SessionCacheSize      prometheus.Gauge

	// Chat and journal
	ChatTurnsTotal     *prometheus.CounterVec
	ChatTurnDuration   prometheus.Histogram
	JournalResultTotal *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer
// in the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindpal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.SessionCacheLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpal_session_cache_lookups_total",
			Help: "Session cache lookups by result (hit, miss, absent)",
		},
		[]string{"result"},
	)

	m.SessionCacheEvictions = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpal_session_cache_evictions_total",
			Help: "Session cache evictions by reason (capacity, expired, ended)",
		},
		[]string{"reason"},
	)

	m.SessionCacheSize = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "mindpal_session_cache_size",
			Help: "Number of conversations resident in the session cache",
		},
	)

	m.ChatTurnsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpal_chat_turns_total",
			Help: "Chat turns by outcome (complete, partial, failed)",
		},
		[]string{"outcome"},
	)

	m.ChatTurnDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mindpal_chat_turn_duration_seconds",
			Help:    "Time from user message to the end of the reply stream",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.JournalResultTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpal_journal_results_total",
			Help: "Journal generation results by outcome (created, failed)",
		},
		[]string{"outcome"},
	)

	return m
}

func (m *Metrics) RecordHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.SessionCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheEviction(reason string) {
	if m == nil {
		return
	}
	m.SessionCacheEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.SessionCacheSize.Set(float64(n))
}

func (m *Metrics) ChatTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	m.ChatTurnDuration.Observe(d.Seconds())
}

func (m *Metrics) JournalResult(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.JournalResultTotal.WithLabelValues(outcome).Add(float64(n))
}
