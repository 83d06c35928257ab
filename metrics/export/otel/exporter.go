package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/edelzer/authgate"
	"github.com/edelzer/authgate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Constructor errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// latencySeries is the Check latency histogram split into the three series a
// pull-based histogram exposes. The meter API has no observable histogram, so
// buckets are one counter distinguished by the le attribute.
type latencySeries struct {
	id      authgate.MetricID
	buckets metric.Int64ObservableCounter
	count   metric.Int64ObservableCounter
	sum     metric.Float64ObservableCounter
	bounds  []metric.ObserveOption
}

// OTelExporter publishes engine metrics as OTel observable instruments. Values
// are read from one snapshot per collection cycle.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     map[authgate.MetricID]metric.Int64ObservableCounter
	latency      []latencySeries
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *authgate.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[authgate.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help), metric.WithUnit("{request}"))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		series, err := newLatencySeries(meter, def)
		if err != nil {
			return nil, err
		}
		e.latency = append(e.latency, series)
		observables = append(observables, series.buckets, series.count, series.sum)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp), metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func newLatencySeries(meter metric.Meter, def internaldefs.HistogramDef) (latencySeries, error) {
	s := latencySeries{id: def.ID}
	var err error
	if s.buckets, err = meter.Int64ObservableCounter(def.Name+"_bucket",
		metric.WithDescription("Cumulative count of "+def.Help), metric.WithUnit("{request}")); err != nil {
		return s, fmt.Errorf("histogram %s buckets: %w", def.Name, err)
	}
	if s.count, err = meter.Int64ObservableCounter(def.Name+"_count",
		metric.WithDescription("Observations of "+def.Help), metric.WithUnit("{request}")); err != nil {
		return s, fmt.Errorf("histogram %s count: %w", def.Name, err)
	}
	if s.sum, err = meter.Float64ObservableCounter(def.Name+"_sum",
		metric.WithDescription("Total seconds of "+def.Help), metric.WithUnit("s")); err != nil {
		return s, fmt.Errorf("histogram %s sum: %w", def.Name, err)
	}
	for _, le := range internaldefs.HistogramBounds {
		s.bounds = append(s.bounds, metric.WithAttributes(attribute.String("le", le)))
	}
	return s, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snapshot.Counters[id]))
	}
	for _, s := range e.latency {
		raw, ok := snapshot.Histograms[s.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(raw)
		for i, v := range cumulative {
			o.ObserveInt64(s.buckets, int64(v), s.bounds[i])
		}
		o.ObserveInt64(s.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(s.sum, snapshot.HistogramSums[s.id].Seconds())
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the meter callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
