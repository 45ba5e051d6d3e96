// Package telemetry holds the service's Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of ingestion metrics registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	JobsTotal     *prometheus.CounterVec
	IndexItems    *prometheus.CounterVec
	ParityChecks  *prometheus.CounterVec
	Retries       prometheus.Counter
	WorkersBusy   prometheus.Gauge
}

// NewMetrics creates and registers the ingestion metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingestd_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "outcome"}, // ok | error
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestd_jobs_total",
				Help: "Jobs reaching a status.",
			},
			[]string{"status"}, // pending | done | failed
		),
		IndexItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestd_index_items_total",
				Help: "Chunks written per backend.",
			},
			[]string{"backend", "outcome"}, // lexical | vector; ok | error
		),
		ParityChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestd_parity_checks_total",
				Help: "Lexical/vector parity checks by result.",
			},
			[]string{"result"}, // match | mismatch
		),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_job_retries_total",
			Help: "Job attempts scheduled after a failure.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestd_workers_busy",
			Help: "Jobs currently executing.",
		}),
	}
	m.Registry.MustRegister(
		m.StageDuration, m.JobsTotal, m.IndexItems, m.ParityChecks, m.Retries, m.WorkersBusy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (m *Metrics) JobStatus(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IndexWrite(backend string, ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.IndexItems.WithLabelValues(backend, "ok").Add(float64(ok))
	}
	if failed > 0 {
		m.IndexItems.WithLabelValues(backend, "error").Add(float64(failed))
	}
}

func (m *Metrics) Parity(match bool) {
	if m == nil {
		return
	}
	result := "match"
	if !match {
		result = "mismatch"
	}
	m.ParityChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(delta)
}
