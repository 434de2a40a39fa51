package airctrl

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Add adds a delta to the gauge
func (g *Gauge) Add(delta int64) {
	atomic.AddInt64(&g.value, delta)
}

// Inc increments the gauge by 1
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// LatencyBucketBounds are the upper bounds of the histogram buckets; the
// last bucket collects everything slower.
var LatencyBucketBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// LatencyHistogram tracks latency measurements
type LatencyHistogram struct {
	mu      sync.RWMutex
	count   int64
	sum     int64 // nanoseconds
	min     int64
	max     int64
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1, // no measurements yet
		buckets: make([]int64, len(LatencyBucketBounds)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	ns := d.Nanoseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += ns

	if h.min < 0 || ns < h.min {
		h.min = ns
	}
	if ns > h.max {
		h.max = ns
	}

	idx := len(LatencyBucketBounds)
	for i, bound := range LatencyBucketBounds {
		if d < bound {
			idx = i
			break
		}
	}
	h.buckets[idx]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     time.Duration(h.sum),
		Buckets: make([]int64, len(h.buckets)),
	}
	copy(stats.Buckets, h.buckets)

	if h.count > 0 {
		stats.Min = time.Duration(h.min)
		stats.Max = time.Duration(h.max)
		stats.Avg = time.Duration(h.sum / h.count)
	}

	return stats
}

// Reset resets the histogram
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count = 0
	h.sum = 0
	h.min = -1
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Count   int64
	Sum     time.Duration
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// Metrics holds client metrics
type Metrics struct {
	// Connection metrics
	ConnectAttempts  Counter
	ConnectSuccesses Counter
	ConnectFailures  Counter
	Drops            Counter
	Cooldowns        Counter

	// Command metrics
	SyncRequests      Counter
	CommandsSent      Counter
	CommandsSucceeded Counter
	CommandsRejected  Counter
	CommandsFailed    Counter
	CommandsTimedOut  Counter
	CommandsSkipped   Counter
	LockTimeouts      Counter

	// Observation metrics
	ReportsReceived  Counter
	ReportsMalformed Counter
	StatesPublished  Counter

	// Latency of the full sync+control round trip
	CommandLatency *LatencyHistogram

	// Bytes
	BytesSent     Counter
	BytesReceived Counter

	// Current state
	ActiveCommands Gauge
	Subscribers    Gauge

	// Timestamps
	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		CommandLatency: NewLatencyHistogram(),
		startTime:      time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Reset zeroes the counters and the latency histogram. Gauges track live
// values and are left alone.
func (m *Metrics) Reset() {
	for _, c := range []*Counter{
		&m.ConnectAttempts, &m.ConnectSuccesses, &m.ConnectFailures, &m.Drops, &m.Cooldowns,
		&m.SyncRequests, &m.CommandsSent, &m.CommandsSucceeded, &m.CommandsRejected,
		&m.CommandsFailed, &m.CommandsTimedOut, &m.CommandsSkipped, &m.LockTimeouts,
		&m.ReportsReceived, &m.ReportsMalformed, &m.StatesPublished,
		&m.BytesSent, &m.BytesReceived,
	} {
		c.Reset()
	}
	m.CommandLatency.Reset()
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		ConnectAttempts:  m.ConnectAttempts.Value(),
		ConnectSuccesses: m.ConnectSuccesses.Value(),
		ConnectFailures:  m.ConnectFailures.Value(),
		Drops:            m.Drops.Value(),
		Cooldowns:        m.Cooldowns.Value(),

		SyncRequests:      m.SyncRequests.Value(),
		CommandsSent:      m.CommandsSent.Value(),
		CommandsSucceeded: m.CommandsSucceeded.Value(),
		CommandsRejected:  m.CommandsRejected.Value(),
		CommandsFailed:    m.CommandsFailed.Value(),
		CommandsTimedOut:  m.CommandsTimedOut.Value(),
		CommandsSkipped:   m.CommandsSkipped.Value(),
		LockTimeouts:      m.LockTimeouts.Value(),

		ReportsReceived:  m.ReportsReceived.Value(),
		ReportsMalformed: m.ReportsMalformed.Value(),
		StatesPublished:  m.StatesPublished.Value(),

		LatencyStats: m.CommandLatency.Stats(),

		BytesSent:     m.BytesSent.Value(),
		BytesReceived: m.BytesReceived.Value(),

		ActiveCommands: m.ActiveCommands.Value(),
		Subscribers:    m.Subscribers.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration

	ConnectAttempts  int64
	ConnectSuccesses int64
	ConnectFailures  int64
	Drops            int64
	Cooldowns        int64

	SyncRequests      int64
	CommandsSent      int64
	CommandsSucceeded int64
	CommandsRejected  int64
	CommandsFailed    int64
	CommandsTimedOut  int64
	CommandsSkipped   int64
	LockTimeouts      int64

	ReportsReceived  int64
	ReportsMalformed int64
	StatesPublished  int64

	LatencyStats LatencyStats

	BytesSent     int64
	BytesReceived int64

	ActiveCommands int64
	Subscribers    int64

	LastActivity time.Time
}
