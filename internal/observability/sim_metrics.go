package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes simulation run metrics. It satisfies the
// simulation controller's metrics recorder interface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	PacketsGenerated prometheus.Counter
	PacketsDelivered prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	SpawnFailures    *prometheus.CounterVec
	InFlight         prometheus.Gauge
	LinkActive       *prometheus.GaugeVec
	LinkSent         *prometheus.GaugeVec
	Running          prometheus.Gauge
	RunsStopped      *prometheus.CounterVec
	TickDuration     prometheus.Histogram
}

// NewSimCollector registers simulation metrics against reg.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	reg, gatherer := resolveRegistry(reg)
	c := &SimCollector{gatherer: gatherer}

	var err error
	if c.PacketsGenerated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wansim_packets_generated_total",
		Help: "Packets successfully spawned onto a WAN link.",
	}), "wansim_packets_generated_total"); err != nil {
		return nil, err
	}
	if c.PacketsDelivered, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wansim_packets_delivered_total",
		Help: "Packets that reached their final host.",
	}), "wansim_packets_delivered_total"); err != nil {
		return nil, err
	}
	if c.PacketsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wansim_packets_dropped_total",
		Help: "Packets removed before delivery, labeled by reason.",
	}, []string{"reason"}), "wansim_packets_dropped_total"); err != nil {
		return nil, err
	}
	if c.SpawnFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wansim_spawn_failures_total",
		Help: "Generation ticks that produced no packet, labeled by reason.",
	}, []string{"reason"}), "wansim_spawn_failures_total"); err != nil {
		return nil, err
	}
	if c.InFlight, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wansim_packets_in_flight",
		Help: "Packets currently in flight.",
	}), "wansim_packets_in_flight"); err != nil {
		return nil, err
	}
	if c.LinkActive, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wansim_link_active_packets",
		Help: "Packets currently counted on each WAN link.",
	}, []string{"link"}), "wansim_link_active_packets"); err != nil {
		return nil, err
	}
	if c.LinkSent, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wansim_link_sent_packets",
		Help: "Packets assigned to each WAN link during the current run.",
	}, []string{"link"}), "wansim_link_sent_packets"); err != nil {
		return nil, err
	}
	if c.Running, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wansim_run_active",
		Help: "1 while a simulation run is active, 0 otherwise.",
	}), "wansim_run_active"); err != nil {
		return nil, err
	}
	if c.RunsStopped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wansim_runs_stopped_total",
		Help: "Completed runs, labeled by stop reason.",
	}, []string{"reason"}), "wansim_runs_stopped_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wansim_frame_tick_duration_seconds",
		Help:    "Time spent advancing packets and aggregating stats per frame.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "wansim_frame_tick_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *SimCollector) PacketGenerated() {
	if c == nil {
		return
	}
	c.PacketsGenerated.Inc()
}

func (c *SimCollector) PacketDelivered() {
	if c == nil {
		return
	}
	c.PacketsDelivered.Inc()
}

func (c *SimCollector) PacketDropped(reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

func (c *SimCollector) SpawnFailed(reason string) {
	if c == nil {
		return
	}
	c.SpawnFailures.WithLabelValues(reason).Inc()
}

func (c *SimCollector) SetInFlight(n int) {
	if c == nil {
		return
	}
	c.InFlight.Set(float64(n))
}

// SetLinkCounters publishes both counters of one link.
func (c *SimCollector) SetLinkCounters(linkID string, active, sent int) {
	if c == nil {
		return
	}
	c.LinkActive.WithLabelValues(linkID).Set(float64(active))
	c.LinkSent.WithLabelValues(linkID).Set(float64(sent))
}

// RunStarted marks a run active and forgets links from earlier runs.
func (c *SimCollector) RunStarted() {
	if c == nil {
		return
	}
	c.LinkActive.Reset()
	c.LinkSent.Reset()
	c.InFlight.Set(0)
	c.Running.Set(1)
}

func (c *SimCollector) RunStopped(reason string) {
	if c == nil {
		return
	}
	c.Running.Set(0)
	c.RunsStopped.WithLabelValues(reason).Inc()
}

func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}
