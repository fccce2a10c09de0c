// Package metrics exposes scheduler and delivery counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the process metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	skippedTicks   *prometheus.CounterVec
	alertsFired    *prometheus.CounterVec
	alertsFailed   *prometheus.CounterVec
	schedulerState prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector registers all metrics with reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetabled_scheduler_ticks_total",
			Help: "Alert scheduler ticks executed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetabled_scheduler_tick_duration_seconds",
			Help:    "Wall time spent in one scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		skippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetabled_scheduler_ticks_skipped_total",
			Help: "Ticks that sent nothing because a dependency returned no data",
		}, []string{"reason"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetabled_alerts_sent_total",
			Help: "Messages accepted by the SMS transport",
		}, []string{"kind"}),
		alertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetabled_alerts_failed_total",
			Help: "Messages the SMS transport failed to deliver",
		}, []string{"kind"}),
		schedulerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabled_scheduler_running",
			Help: "1 while the alert scheduler loop is running",
		}),
		gatherer: reg,
	}
	reg.MustRegister(c.ticks, c.tickDuration, c.skippedTicks, c.alertsFired, c.alertsFailed, c.schedulerState)
	return c
}

func (c *Collector) RecordTick(seconds float64) {
	if c == nil {
		return
	}
	c.ticks.Inc()
	c.tickDuration.Observe(seconds)
}

func (c *Collector) RecordSkipped(reason string) {
	if c == nil {
		return
	}
	c.skippedTicks.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordSent(kind string) {
	if c == nil {
		return
	}
	c.alertsFired.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordFailed(kind string) {
	if c == nil {
		return
	}
	c.alertsFailed.WithLabelValues(kind).Inc()
}

func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.schedulerState.Set(1)
	} else {
		c.schedulerState.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
