package prometheus

import (
	"github.com/edelzer/authgate"
	"github.com/edelzer/authgate/metrics/export/internaldefs"
	promclient "github.com/prometheus/client_golang/prometheus"
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// Collector exposes engine metrics to a client_golang registry. Values are
// read from a fresh snapshot on every scrape.
type Collector struct {
	source     metricsSource
	counters   []*promclient.Desc
	histograms []*promclient.Desc
	dropped    *promclient.Desc
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector creates a Collector that reads from engine.
func NewCollector(engine *authgate.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a Collector over any snapshot source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*promclient.Desc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]*promclient.Desc, 0, len(internaldefs.HistogramDefs)),
		dropped:    promclient.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, promclient.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, promclient.NewDesc(def.Name, def.Help, nil, nil))
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- promclient.MustNewConstMetric(c.counters[i], promclient.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(raw)
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, bound := range internaldefs.HistogramUpperBounds {
			buckets[bound] = cumulative[j]
		}
		sum := snapshot.HistogramSums[def.ID].Seconds()
		ch <- promclient.MustNewConstHistogram(c.histograms[i], cumulative[len(cumulative)-1], sum, buckets)
	}

	ch <- promclient.MustNewConstMetric(c.dropped, promclient.CounterValue, float64(c.source.AuditDropped()))
}
