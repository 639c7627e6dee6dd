// Package export contains presentation-side observers for simulation
// runs: a Prometheus collector and a NATS snapshot publisher. They
// consume the core's copied snapshots and never reach back into the
// engine.
package export

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/section-sim/section-sim/sim"
)

// Collector projects run snapshots onto Prometheus metrics. It carries
// its own registry so the process default stays untouched.
type Collector struct {
	reg *prometheus.Registry

	ClockMin        prometheus.Gauge
	ActiveTrains    prometheus.Gauge
	CompletedTrains prometheus.Gauge
	TotalDelayMin   prometheus.Gauge
	SafetyScore     prometheus.Gauge
	Utilization     prometheus.Gauge
	Throughput      prometheus.Gauge

	Snapshots prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

// NewCollector registers all simulator metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ClockMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_clock_minutes",
			Help: "Current simulated clock in minutes.",
		}),
		ActiveTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_active_trains",
			Help: "Trains currently occupying a block.",
		}),
		CompletedTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_completed_trains",
			Help: "Trains that finished their route.",
		}),
		TotalDelayMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_total_delay_minutes",
			Help: "Accumulated delay over completed trains.",
		}),
		SafetyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_safety_score",
			Help: "Running safety score (100 = clean run).",
		}),
		Utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_section_utilization_percent",
			Help: "Busy block-time over available block-time.",
		}),
		Throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_throughput_trains_per_hour",
			Help: "Completed trains per simulated hour.",
		}),
		Snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sectionsim_snapshots_total",
			Help: "Snapshots received from the engine.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sectionsim_nats_published_total",
			Help: "Snapshots published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sectionsim_nats_publish_errors_total",
			Help: "Failed NATS publishes.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sectionsim_nats_connected",
			Help: "1 when the NATS connection is up.",
		}),
	}

	reg.MustRegister(c.ClockMin, c.ActiveTrains, c.CompletedTrains, c.TotalDelayMin,
		c.SafetyScore, c.Utilization, c.Throughput, c.Snapshots,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected)
	return c
}

// OnSnapshot implements sim.Observer. The collector never asks the
// engine to stop.
func (c *Collector) OnSnapshot(s sim.Snapshot) bool {
	c.ClockMin.Set(s.ClockMin)
	c.ActiveTrains.Set(float64(s.KPIs.ActiveTrains))
	c.CompletedTrains.Set(float64(s.KPIs.CompletedTrains))
	c.TotalDelayMin.Set(s.KPIs.TotalDelayMin)
	c.SafetyScore.Set(s.KPIs.SafetyScore)
	c.Utilization.Set(s.KPIs.SectionUtilization)
	c.Throughput.Set(s.KPIs.Throughput)
	c.Snapshots.Inc()
	return true
}

// Final records the finalized KPIs once a run ends.
func (c *Collector) Final(k sim.KPIs) {
	c.CompletedTrains.Set(float64(k.CompletedTrains))
	c.TotalDelayMin.Set(k.TotalDelayMin)
	c.SafetyScore.Set(k.SafetyScore)
	c.Utilization.Set(k.SectionUtilization)
	c.Throughput.Set(k.Throughput)
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// PublisherMetrics is the slice of Collector the NATS publisher needs.
type PublisherMetrics interface {
	PublishedInc()
	PublishErrInc()
	SetConnected(connected bool)
}

func (c *Collector) PublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) PublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
