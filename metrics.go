package gatekeeper

import (
	"sync/atomic"
	"time"

	"github.com/zsportal/gatekeeper/internal/guards"
)

// MetricID indexes one counter of [Metrics].
type MetricID uint16

const (
	MetricNavigationAllowed MetricID = iota
	MetricDeniedNoSession
	MetricDeniedProfileMissingOrTimeout
	MetricDeniedUnverified
	MetricDeniedNotApprovedOrBlocked
	MetricDeniedUnauthorized
	MetricDeniedBackendUnavailable
	MetricNavigationCancelled
	MetricForcedSignOut
	MetricForcedSignOutFailure
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignInRateLimited
	MetricSignOut
	MetricRegistration
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricProfileStatusChange
	MetricStreamOpened
	MetricStreamClosed
	MetricEvaluateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the evaluation latency histogram.
// A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
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

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricEvaluateLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricEvaluateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricEvaluateLatency].buckets[i])
		}
		s.Histograms[MetricEvaluateLatency] = buckets
	}

	return s
}

// outcomeMetric maps a chain outcome to its counter.
func outcomeMetric(k guards.Kind) MetricID {
	switch k {
	case guards.KindNone:
		return MetricNavigationAllowed
	case guards.KindNoSession:
		return MetricDeniedNoSession
	case guards.KindProfileMissingOrTimeout:
		return MetricDeniedProfileMissingOrTimeout
	case guards.KindUnverified:
		return MetricDeniedUnverified
	case guards.KindNotApprovedOrBlocked:
		return MetricDeniedNotApprovedOrBlocked
	case guards.KindUnauthorized:
		return MetricDeniedUnauthorized
	case guards.KindCancelled:
		return MetricNavigationCancelled
	default:
		return MetricDeniedBackendUnavailable
	}
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
