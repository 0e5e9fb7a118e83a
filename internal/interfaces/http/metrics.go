package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds the Prometheus metrics exported by the API. It owns
// its registry so several servers (and tests) can coexist in one process.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// HTTP layer
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge

	// Simulation layer
	RunDuration *prometheus.HistogramVec
	RunsTotal   *prometheus.CounterVec
	StreamsOpen prometheus.Gauge
}

// NewMetricsRegistry creates and registers every backtester metric
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtester_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method", "status"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backtester_http_in_flight_requests",
				Help: "Requests currently being served",
			},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtester_run_duration_seconds",
				Help:    "Duration of backtest and scenario runs in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind", "result"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_runs_total",
				Help: "Backtest and scenario runs by kind and result",
			},
			[]string{"kind", "result"},
		),
		StreamsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backtester_ws_streams_open",
				Help: "Open scenario progress streams",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestDuration,
		m.RequestsTotal,
		m.InFlight,
		m.RunDuration,
		m.RunsTotal,
		m.StreamsOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying Prometheus registry
func (m *MetricsRegistry) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records one service call; it satisfies application.RunObserver
func (m *MetricsRegistry) ObserveRun(kind string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RunDuration.WithLabelValues(kind, result).Observe(elapsed.Seconds())
	m.RunsTotal.WithLabelValues(kind, result).Inc()

	log.Debug().
		Str("kind", kind).
		Str("result", result).
		Dur("elapsed", elapsed).
		Msg("Run observed")
}

// ObserveRequest records one HTTP exchange
func (m *MetricsRegistry) ObserveRequest(route, method, status string, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
}

// RunCount reads back the number of runs recorded for kind and result
func (m *MetricsRegistry) RunCount(kind, result string) float64 {
	c, err := m.RunsTotal.GetMetricWithLabelValues(kind, result)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// ErrorRate is the share of all recorded runs that failed, 0 when none ran
func (m *MetricsRegistry) ErrorRate() float64 {
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	var total, failed float64
	for _, fam := range families {
		if fam.GetName() != "backtester_runs_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			v := metric.GetCounter().GetValue()
			total += v
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == "error" {
					failed += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return failed / total
}
