package eeg

// RingBuffer is a fixed-capacity sample store that overwrites the oldest
// entry when full. It is not safe for concurrent use; Monitor guards it.
type RingBuffer struct {
	samples  []Sample
	capacity int
	head     int // next write position
	size     int
}

// DefaultCapacity holds ten seconds at the nominal 256 Hz rate.
const DefaultCapacity = 2560

// NewRingBuffer creates a buffer holding at most capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		samples:  make([]Sample, capacity),
		capacity: capacity,
	}
}

// Add stores s, evicting the oldest sample when the buffer is full.
func (r *RingBuffer) Add(s Sample) {
	r.samples[r.head] = s
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int { return r.size }

// Cap returns the maximum number of samples the buffer holds.
func (r *RingBuffer) Cap() int { return r.capacity }

// at returns the i-th oldest sample, 0 <= i < size.
func (r *RingBuffer) at(i int) Sample {
	start := (r.head - r.size + r.capacity) % r.capacity
	return r.samples[(start+i)%r.capacity]
}

// Last returns a copy of the newest n samples, oldest first.
func (r *RingBuffer) Last(n int) []Sample {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	for i := range out {
		out[i] = r.at(r.size - n + i)
	}
	return out
}

// All returns a copy of every buffered sample in arrival order.
func (r *RingBuffer) All() []Sample {
	return r.Last(r.size)
}

// Since returns a copy of the samples with Timestamp >= ts in arrival order.
func (r *RingBuffer) Since(ts float64) []Sample {
	var out []Sample
	for i := 0; i < r.size; i++ {
		if s := r.at(i); s.Timestamp >= ts {
			out = append(out, s)
		}
	}
	return out
}

// CountSince counts samples with Timestamp >= ts without copying.
func (r *RingBuffer) CountSince(ts float64) int {
	n := 0
	for i := 0; i < r.size; i++ {
		if r.at(i).Timestamp >= ts {
			n++
		}
	}
	return n
}

// Reset drops all samples.
func (r *RingBuffer) Reset() {
	r.head = 0
	r.size = 0
}
