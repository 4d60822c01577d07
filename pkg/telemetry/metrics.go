package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the scheduler.
type Metrics struct {
	config MetricsConfig

	// Check pass metrics
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	lastCheck     prometheus.Gauge

	// Per-record outcome metrics
	outcomes *prometheus.CounterVec
	toggles  *prometheus.CounterVec

	// PCE request metrics
	pceRequests        *prometheus.CounterVec
	pceRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Store metrics
	schedules *prometheus.GaugeVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	activeChecks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of reconciliation passes by result",
			},
			[]string{"source", "result"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   buckets,
			},
			[]string{"source"},
		),
		lastCheck: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_check_timestamp_seconds",
				Help:      "Unix time of the last completed reconciliation pass",
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_outcomes_total",
				Help:      "Per-record reconciliation outcomes",
			},
			[]string{"kind", "outcome"},
		),
		toggles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "toggles_total",
				Help:      "Enable/disable operations sent to the PCE",
			},
			[]string{"target", "enabled", "result"},
		),
		pceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pce_requests_total",
				Help:      "HTTP requests issued against the PCE",
			},
			[]string{"method", "status"},
		),
		pceRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pce_request_duration_seconds",
				Help:      "Latency of PCE requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors by classification",
			},
			[]string{"class"},
		),
		schedules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "schedules",
				Help:      "Stored schedule records by kind",
			},
			[]string{"kind"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Admission policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),
		activeChecks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_checks",
				Help:      "Number of reconciliation passes in progress",
			},
		),
	}

	registry.MustRegister(
		m.checksTotal,
		m.checkDuration,
		m.lastCheck,
		m.outcomes,
		m.toggles,
		m.pceRequests,
		m.pceRequestDuration,
		m.errorsByClass,
		m.schedules,
		m.policyViolations,
		m.activeChecks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Check Metrics

// RecordCheckStarted marks a reconciliation pass as in progress.
func (m *Metrics) RecordCheckStarted() {
	if m == nil || m.activeChecks == nil {
		return
	}
	m.activeChecks.Inc()
}

// RecordCheckCompleted records a finished pass with its result and duration.
func (m *Metrics) RecordCheckCompleted(source, result string, duration time.Duration) {
	if m == nil || m.checksTotal == nil {
		return
	}
	m.checksTotal.WithLabelValues(source, result).Inc()
	m.checkDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.lastCheck.SetToCurrentTime()
	m.activeChecks.Dec()
}

// RecordOutcome counts the outcome of one record in a pass.
func (m *Metrics) RecordOutcome(kind, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordToggle counts an enable/disable write against the PCE.
func (m *Metrics) RecordToggle(isRuleSet, enabled bool, err error) {
	if m == nil || m.toggles == nil {
		return
	}
	target := "rule"
	if isRuleSet {
		target = "rule_set"
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.toggles.WithLabelValues(target, boolLabel(enabled), result).Inc()
}

// PCE Metrics

// RecordPCERequest records one HTTP exchange with the PCE. A status of 0
// means the request never produced a response.
func (m *Metrics) RecordPCERequest(method string, status int, duration time.Duration) {
	if m == nil || m.pceRequests == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = http.StatusText(status)
		if label == "" {
			label = "unknown"
		}
	}
	m.pceRequests.WithLabelValues(method, label).Inc()
	m.pceRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetScheduleCount sets the number of stored schedules of the given kind.
func (m *Metrics) SetScheduleCount(kind string, count float64) {
	if m == nil || m.schedules == nil {
		return
	}
	m.schedules.WithLabelValues(kind).Set(count)
}

// RecordPolicyViolation counts an admission policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Str("address", server.Addr).Msg("metrics server error")
		}
	}()

	return server, nil
}
