// Package prometheus exports authgate engine metrics through
// github.com/prometheus/client_golang.
//
// [Collector] reads a fresh [authgate.MetricsSnapshot] on every scrape.
// Register it on an existing registry, or use [Handler] for a ready
// /metrics endpoint backed by a private registry. Nothing is registered
// globally.
//
// Counter names are authgate_*_total; the single histogram is
// authgate_check_latency_seconds with a real _sum in seconds.
package prometheus
