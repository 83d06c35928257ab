// Package otel publishes authgate engine metrics through an OpenTelemetry
// meter.
//
// Each engine counter becomes an Int64ObservableCounter. The Check latency
// histogram is exported as <name>_bucket (one series per le attribute),
// <name>_count and a Float64 <name>_sum in seconds, matching the Prometheus
// exporter. Callers own the MeterProvider.
package otel
