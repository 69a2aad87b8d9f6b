package eeg

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/timeutil"
)

// ErrNoData is returned by read queries against an empty buffer.
var ErrNoData = errors.New("eeg: no samples buffered")

// DefaultTimeout is how long the stream may stay silent before it is
// reported as disconnected.
const DefaultTimeout = 5 * time.Second

// ConnectionState is derived from the buffer at query time.
type ConnectionState struct {
	Connected    bool    `json:"connected"`
	Quality      Quality `json:"quality"`
	SampleRate1s int     `json:"sample_rate_1s"`
	// AgeSinceLast is the number of seconds since the last message of any
	// kind. Nil until the first message arrives.
	AgeSinceLast *float64 `json:"age_since_last_sample,omitempty"`
	Buffered     int      `json:"buffered"`
	Total        uint64   `json:"total_samples"`
	Dropped      uint64   `json:"dropped"`
}

// Config configures a Monitor. Zero values select defaults.
type Config struct {
	Capacity int
	Timeout  time.Duration
	Clock    timeutil.Clock
}

// Monitor buffers samples from a transport and answers liveness, quality
// and window queries. A single transport goroutine writes; any number of
// goroutines may read. Readers copy what they need under the read lock and
// do their work after releasing it.
type Monitor struct {
	clock   timeutil.Clock
	timeout time.Duration

	mu       sync.RWMutex
	buf      *RingBuffer
	lastSeen time.Time
	seen     bool

	total   atomic.Uint64
	dropped atomic.Uint64
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
		buf:     NewRingBuffer(cfg.Capacity),
	}
}

// Clock returns the clock the monitor evaluates liveness against.
func (m *Monitor) Clock() timeutil.Clock { return m.clock }

// Now returns the monitor's current time in sample timestamp units.
func (m *Monitor) Now() float64 { return timeutil.Seconds(m.clock.Now()) }

// Ingest appends s to the buffer and marks the stream live.
func (m *Monitor) Ingest(s Sample) {
	now := m.clock.Now()
	m.mu.Lock()
	m.buf.Add(s)
	m.lastSeen = now
	m.seen = true
	m.mu.Unlock()

	m.total.Add(1)
	monitoring.SamplesIngested.Inc()
}

// Touch records non-sample traffic, which keeps the stream live without
// adding to the buffer.
func (m *Monitor) Touch() {
	now := m.clock.Now()
	m.mu.Lock()
	m.lastSeen = now
	m.seen = true
	m.mu.Unlock()
}

// Drop counts a message a transport could not decode.
func (m *Monitor) Drop() {
	m.dropped.Add(1)
	monitoring.SamplesDropped.Inc()
}

// Dropped returns the number of messages dropped by transports.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Status derives the current connection state.
func (m *Monitor) Status() ConnectionState {
	now := m.clock.Now()
	cutoff := timeutil.Seconds(now) - 1

	m.mu.RLock()
	seen, lastSeen := m.seen, m.lastSeen
	recent := m.buf.CountSince(cutoff)
	buffered := m.buf.Len()
	m.mu.RUnlock()

	st := ConnectionState{
		SampleRate1s: recent,
		Buffered:     buffered,
		Total:        m.total.Load(),
		Dropped:      m.dropped.Load(),
	}
	if seen {
		age := now.Sub(lastSeen)
		secs := age.Seconds()
		st.AgeSinceLast = &secs
		st.Connected = age <= m.timeout
	}
	st.Quality = ClassifyQuality(st.Connected, recent)
	monitoring.ConnectionQuality.Set(float64(st.Quality))
	return st
}

// RecentSamples returns the samples from the last d, oldest first.
func (m *Monitor) RecentSamples(d time.Duration) []Sample {
	return m.SamplesSince(timeutil.Seconds(m.clock.Now()) - d.Seconds())
}

// SamplesSince returns the samples with Timestamp >= ts, oldest first.
func (m *Monitor) SamplesSince(ts float64) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf.Since(ts)
}

// Len returns the number of buffered samples.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf.Len()
}

// LatestAverage averages the newest k samples per channel. The result
// carries the newest sample's timestamp. k below 1 is treated as 1.
func (m *Monitor) LatestAverage(k int) (Sample, error) {
	if k < 1 {
		k = 1
	}
	m.mu.RLock()
	last := m.buf.Last(k)
	m.mu.RUnlock()

	if len(last) == 0 {
		return Sample{}, ErrNoData
	}
	var avg Sample
	for _, s := range last {
		for c := range avg.Ch {
			avg.Ch[c] += s.Ch[c]
		}
	}
	for c := range avg.Ch {
		avg.Ch[c] /= float64(len(last))
	}
	avg.Timestamp = last[len(last)-1].Timestamp
	return avg, nil
}

// Reset clears the buffer, liveness and counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.buf.Reset()
	m.seen = false
	m.lastSeen = time.Time{}
	m.mu.Unlock()
	m.total.Store(0)
	m.dropped.Store(0)
}
