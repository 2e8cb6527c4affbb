package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	cycleRuns        *prometheus.CounterVec // reconciliation cycles
	cycleDuration    prometheus.Histogram   // time per cycle
	recordOutcomes   *prometheus.CounterVec // per-record outcomes
	providerRequests *prometheus.CounterVec // mijn.host API requests
	detectorRequests *prometheus.CounterVec // public IP lookups
	cacheRequests    *prometheus.CounterVec // cache store requests
}

func (m *Metrics) IncCycleRun(success bool) {
	m.cycleRuns.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) SetCycleDuration(duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncRecordOutcome(outcome, domain string) {
	if outcome == "" || domain == "" {
		return
	}
	m.recordOutcomes.WithLabelValues(outcome, domain).Inc()
}

func (m *Metrics) IncProviderRequest(operation, domain string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.providerRequests.WithLabelValues(operation, domain, boolToResult(success)).Inc()
}

func (m *Metrics) IncDetectorRequest(family string, success bool) {
	if family != "ipv4" && family != "ipv6" {
		return
	}
	m.detectorRequests.WithLabelValues(family, boolToResult(success)).Inc()
}

func (m *Metrics) IncCacheRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.cacheRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "verify", "list", "create", "update", "read", "write":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "mijnhost_ddns"

	m := &Metrics{
		registry: registry,

		cycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_runs_total",
			Help:      "Total number of reconciliation cycles",
		}, []string{"status"}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_outcomes_total",
			Help:      "Per-record reconciliation outcomes",
		}, []string{"outcome", "domain"}),

		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total mijn.host API requests",
		}, []string{"operation", "domain", "status"}),

		detectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_requests_total",
			Help:      "Total public IP detection requests",
		}, []string{"family", "status"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total cache store requests",
		}, []string{"operation", "status"}),
	}

	if register {
		registry.MustRegister(
			m.cycleRuns,
			m.cycleDuration,
			m.recordOutcomes,
			m.providerRequests,
			m.detectorRequests,
			m.cacheRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
