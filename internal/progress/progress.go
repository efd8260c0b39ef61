// Package progress adapts the teacher's Progress type (a single-writer,
// multi-reader throughput sampler) from a wall-clock-since-start speed
// estimate to the 10-interval moving window spec.md §4.4 calls for, and
// generalizes it to track bytes_left rather than bytes_done.
package progress

import (
	"math"
	"sync"
	"sync/atomic"
)

const windowSize = 10

// Meter tracks bytes_left over time and exposes a moving-window
// bytes_per_second estimate. Safe for concurrent Sample/BytesPerSecond calls: the
// write side (Sample) is expected to be called from a single status
// reporter goroutine, reads may come from any goroutine.
type Meter struct {
	mu      sync.Mutex
	samples [windowSize]int64 // delta bytes per interval, most recent last
	filled  int
	rate    atomic.Uint64 // math.Float64bits of the last computed rate
	last    int64
}

// NewMeter creates a Meter seeded with the starting bytes_left.
func NewMeter(initialBytesLeft int64) *Meter {
	return &Meter{last: initialBytesLeft}
}

// Sample records a new bytes_left observation, updating the moving
// window and the published rate.
func (m *Meter) Sample(bytesLeft int64, elapsedSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := m.last - bytesLeft
	if delta < 0 {
		delta = 0
	}
	m.last = bytesLeft

	if m.filled < windowSize {
		m.samples[m.filled] = delta
		m.filled++
	} else {
		copy(m.samples[:], m.samples[1:])
		m.samples[windowSize-1] = delta
	}

	var sum int64
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	var rate float64
	if elapsedSeconds > 0 && m.filled > 0 {
		rate = float64(sum) / (elapsedSeconds * float64(m.filled))
	}
	m.rate.Store(math.Float64bits(rate))
}

// BytesPerSecond returns the last computed moving-window rate.
func (m *Meter) BytesPerSecond() float64 {
	return math.Float64frombits(m.rate.Load())
}
