// Package metrics holds the Prometheus collectors of a searchwatch process.
//
// All methods are safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	lastRun     prometheus.Gauge
	runDuration prometheus.Histogram
	searches    *prometheus.CounterVec
	pages       prometheus.Counter
	retries     prometheus.Counter
	records     prometheus.Counter
	deltas      *prometheus.CounterVec
	emails      *prometheus.CounterVec
}

// New registers the searchwatch collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchwatch_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "searchwatch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "searchwatch_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchwatch_searches_total",
			Help: "Tracked searches processed by outcome.",
		}, []string{"result"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "searchwatch_pages_fetched_total",
			Help: "Result pages fetched successfully.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "searchwatch_fetch_retries_total",
			Help: "Page fetch retries.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "searchwatch_records_seen_total",
			Help: "Distinct records seen by crawls.",
		}),
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchwatch_deltas_total",
			Help: "Reconciliation deltas by kind.",
		}, []string{"kind"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchwatch_emails_total",
			Help: "Outgoing mails by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.runs, m.lastRun, m.runDuration, m.searches, m.pages,
		m.retries, m.records, m.deltas, m.emails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result(ok)).Inc()
	m.lastRun.SetToCurrentTime()
	m.runDuration.Observe(took.Seconds())
}

func (m *Metrics) SearchFinished(ok bool) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) PageFetched() {
	if m == nil {
		return
	}
	m.pages.Inc()
}

func (m *Metrics) FetchRetried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) RecordsSeen(n int) {
	if m == nil {
		return
	}
	m.records.Add(float64(n))
}

func (m *Metrics) Deltas(kind string, n int) {
	if m == nil {
		return
	}
	m.deltas.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) EmailSent(ok bool) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
