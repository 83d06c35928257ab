package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricCheckAllowed counts requests the gate let through.
	MetricCheckAllowed MetricID = iota
	// MetricBurstLimited counts burst window denials.
	MetricBurstLimited
	// MetricRateLimited counts main window denials.
	MetricRateLimited
	// MetricRateLimitDegraded counts requests let through because the rate-limit
	// store failed.
	MetricRateLimitDegraded
	// MetricAuthFailure counts requests without a valid credential.
	MetricAuthFailure
	// MetricAuthUnavailable counts requests refused because a token or session
	// lookup failed.
	MetricAuthUnavailable
	// MetricAuthzDenied counts authenticated requests refused by route policy
	// or account state.
	MetricAuthzDenied
	MetricTokenIssued
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshReplay counts rotations of an already consumed refresh token.
	MetricRefreshReplay
	MetricTokenRevoked
	MetricSubjectRevoked
	MetricSessionCreated
	MetricSessionDestroyed
	// MetricCheckLatency is the latency histogram of [Engine.Check].
	MetricCheckLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets  [histBucketCount]uint64
	sumNanos uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A disabled or nil Metrics ignores
// every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and, when latency
// histograms are enabled, the [MetricCheckLatency] buckets and their sum.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums is the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics creates the counter set described by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only [MetricCheckLatency] has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricCheckLatency {
		return
	}

	if d < 0 {
		d = 0
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	atomic.AddUint64(&m.histograms[id].sumNanos, uint64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricCheckLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricCheckLatency].buckets[i])
		}
		s.Histograms[MetricCheckLatency] = buckets
		s.HistogramSums[MetricCheckLatency] = time.Duration(atomic.LoadUint64(&m.histograms[MetricCheckLatency].sumNanos))
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
