package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for copymode
type Metrics struct {
	// Editing
	EditsTotal     *prometheus.CounterVec
	ToolCallsTotal *prometheus.CounterVec
	SavesTotal     *prometheus.CounterVec
	ProofsTotal    *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	TableRows      prometheus.Histogram

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge
	Campaigns        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_edits_total",
				Help: "Total number of committed content edits",
			},
			[]string{"source", "kind"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_tool_calls_total",
				Help: "Total number of AI tool calls",
			},
			[]string{"tool", "result"},
		),
		SavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_saves_total",
				Help: "Total number of saves to the task tracker",
			},
			[]string{"result"},
		),
		ProofsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_proofs_total",
				Help: "Total number of proof e-mails sent",
			},
			[]string{"result"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copymode_sessions_active",
				Help: "Number of campaigns with an open editing session",
			},
		),
		TableRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copymode_table_rows",
				Help:    "Number of rows in committed email tables",
				Buckets: []float64{0, 1, 2, 4, 6, 8, 12, 16, 24, 32, 64},
			},
		),

		// API metrics
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copymode_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copymode_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		// System metrics
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copymode_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copymode_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copymode_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),
		Campaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copymode_campaigns",
				Help: "Number of stored campaigns",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EditsTotal,
		m.ToolCallsTotal,
		m.SavesTotal,
		m.ProofsTotal,
		m.SessionsActive,
		m.TableRows,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
		m.Campaigns,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEdits counts a committed edit
func IncEdits(source, kind string) {
	m := Global()
	if m != nil {
		m.EditsTotal.WithLabelValues(source, kind).Inc()
	}
}

// IncToolCalls counts an AI tool call
func IncToolCalls(tool, result string) {
	m := Global()
	if m != nil {
		m.ToolCallsTotal.WithLabelValues(tool, result).Inc()
	}
}

// IncSaves counts a save attempt
func IncSaves(result string) {
	m := Global()
	if m != nil {
		m.SavesTotal.WithLabelValues(result).Inc()
	}
}

// IncProofs counts a proof send attempt
func IncProofs(result string) {
	m := Global()
	if m != nil {
		m.ProofsTotal.WithLabelValues(result).Inc()
	}
}

// SetSessionsActive records the number of open sessions
func SetSessionsActive(n int) {
	m := Global()
	if m != nil {
		m.SessionsActive.Set(float64(n))
	}
}

// ObserveTableRows records the row count of a committed table
func ObserveTableRows(n int) {
	m := Global()
	if m != nil {
		m.TableRows.Observe(float64(n))
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
