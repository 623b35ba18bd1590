package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticket_service"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	txRetries       *prometheus.CounterVec
	moves           *prometheus.CounterVec
	auditDivergence prometheus.Counter
	repairs         *prometheus.CounterVec
	slaTickets      *prometheus.GaugeVec
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP error responses by code.",
		}, []string{"path", "method", "code"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Store transactions re-run after a conflict.",
		}, []string{"operation"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_moves_total",
			Help:      "Move requests by outcome.",
		}, []string{"result"}),
		auditDivergence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_divergence_total",
			Help:      "History array writes that failed after the history log write succeeded.",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_repairs_total",
			Help:      "History resync attempts by result.",
		}, []string{"result"}),
		slaTickets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sla_tickets",
			Help:      "Active tickets per area and SLA status at the last sweep.",
		}, []string{"area", "status"}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.errors,
		m.txRetries,
		m.moves,
		m.auditDivergence,
		m.repairs,
		m.slaTickets,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordRetry counts a conflicting transaction that is about to be re-run.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

// RecordMove counts a move request outcome.
func (m *Metrics) RecordMove(result string) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(result).Inc()
}

// RecordAuditDivergence counts a failed history array write.
func (m *Metrics) RecordAuditDivergence() {
	if m == nil {
		return
	}
	m.auditDivergence.Inc()
}

// RecordRepair counts a resync attempt.
func (m *Metrics) RecordRepair(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.repairs.WithLabelValues(result).Inc()
}

// SetSLACounts replaces the SLA gauge with counts keyed by area then status.
func (m *Metrics) SetSLACounts(counts map[string]map[string]int) {
	if m == nil {
		return
	}
	m.slaTickets.Reset()
	for area, byStatus := range counts {
		for status, n := range byStatus {
			m.slaTickets.WithLabelValues(area, status).Set(float64(n))
		}
	}
}
