// Package observability exposes daemon metrics in Prometheus format. A nil
// *Metrics is valid and records nothing.
package observability

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

const namespace = "power_monitor"

// Tick outcomes.
const (
	TickOK          = "ok"
	TickSourceError = "source_error"
	TickInvalid     = "invalid"
	TickStoreError  = "store_error"
)

type Metrics struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	storeFailures prometheus.Counter
	powerDraw     prometheus.Gauge
	battery       prometheus.Gauge
	cpu           prometheus.Gauge
	episodes      *prometheus.CounterVec
	episodeOpen   prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_ticks_total",
			Help:      "Sampling ticks by outcome.",
		}, []string{"outcome"}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Failed writes to the sample store.",
		}),
		powerDraw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_draw_percent_per_hour",
			Help:      "Latest battery drain estimate in percent per hour (NaN when unknown).",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_percent",
			Help:      "Latest battery charge (NaN without a battery).",
		}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "Latest total CPU utilization.",
		}),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_power_episodes_total",
			Help:      "High power episodes by lifecycle phase and primary cause.",
		}, []string{"phase", "cause"}),
		episodeOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "high_power_episode_open",
			Help:      "1 while a high power episode is open.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.storeFailures,
		m.powerDraw,
		m.battery,
		m.cpu,
		m.episodes,
		m.episodeOpen,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.powerDraw.Set(math.NaN())
	m.battery.Set(math.NaN())

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StoreFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}

// ObserveSample updates the latest-value gauges.
func (m *Metrics) ObserveSample(s collector.Sample) {
	if m == nil {
		return
	}
	m.cpu.Set(s.CPUPercent)
	m.powerDraw.Set(valueOrNaN(s.PowerDrawEstimate))
	m.battery.Set(valueOrNaN(s.BatteryPercent))
}

// Episode records a high power event lifecycle transition.
func (m *Metrics) Episode(phase, cause string) {
	if m == nil {
		return
	}
	m.episodes.WithLabelValues(phase, cause).Inc()
	switch phase {
	case "opened":
		m.episodeOpen.Set(1)
	case "finalized":
		m.episodeOpen.Set(0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
