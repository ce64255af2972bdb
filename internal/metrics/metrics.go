// Package metrics exposes walletchat's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so services can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletchat"

// Metrics holds the application collectors and the registry serving them.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	debits       *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	pendingSwept prometheus.Counter

	messages  *prometheus.CounterVec
	reactions *prometheus.CounterVec
	votes     *prometheus.CounterVec

	fileOps      *prometheus.CounterVec
	storageDrift prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "debits_total",
			Help:      "Credits debited per action; waived debits count with waived=true.",
		}, []string{"action", "waived"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "refunds_total",
			Help:      "Pending debits rejected and refunded.",
		}, []string{"action"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "insufficient_credits_total",
			Help:      "Chargeable actions refused for insufficient credits.",
		}, []string{"action"}),
		pendingSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_expired_total",
			Help:      "Pending debits rejected by the expiry sweeper.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "messages_total",
			Help:      "Messages posted by payload kind.",
		}, []string{"kind"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "reactions_total",
			Help:      "Reaction changes by outcome.",
		}, []string{"op", "changed"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "votes_total",
			Help:      "Votes cast; repeated votes count with changed=false.",
		}, []string{"changed"}),
		fileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "operations_total",
			Help:      "File store operations by result.",
		}, []string{"op", "result"}),
		storageDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "usage_drift_total",
			Help:      "Times stored usage disagreed with the file tree and was recomputed.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.debits, m.refunds, m.rejections, m.pendingSwept,
		m.messages, m.reactions, m.votes,
		m.fileOps, m.storageDrift,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled request. path should be a route
// template, not the raw URL, to bound cardinality.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(delta)
}

// RecordDebit counts a debit of amount credits, or a waived one.
func (m *Metrics) RecordDebit(action string, amount int64, waived bool) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(action, strconv.FormatBool(waived)).Add(float64(amount))
}

func (m *Metrics) RecordRefund(action string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordInsufficientCredits(action string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordPendingExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingSwept.Add(float64(n))
}

func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordReaction(op string, changed bool) {
	if m == nil {
		return
	}
	m.reactions.WithLabelValues(op, strconv.FormatBool(changed)).Inc()
}

func (m *Metrics) RecordVote(changed bool) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(strconv.FormatBool(changed)).Inc()
}

// RecordFileOp counts a file store operation; err == nil counts as "ok".
func (m *Metrics) RecordFileOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fileOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RecordStorageDrift() {
	if m == nil {
		return
	}
	m.storageDrift.Inc()
}
