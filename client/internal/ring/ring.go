// Package ring implements a lock-free single-producer/single-consumer ring
// buffer of float32 audio samples. Push never blocks: a full buffer drops
// the incoming sample and increments a counter. Pop never blocks: an empty
// buffer returns silence (0) rather than waiting for data.
package ring

import "sync/atomic"

// Buffer is a fixed-capacity SPSC ring of float32 samples.
type Buffer struct {
	data    []float32
	mask    uint64 // capacity-1, capacity is a power of two
	write   atomic.Uint64
	read    atomic.Uint64
	dropped atomic.Uint64
}

// New returns a Buffer able to hold at least capacity samples. Capacity is
// rounded up to the next power of two so indices can be masked instead of
// taken modulo.
func New(capacity int) *Buffer {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Buffer{data: make([]float32, n), mask: uint64(n - 1)}
}

// Push appends sample to the buffer. If the buffer is full, the sample is
// dropped and the drop counter is incremented; Push always returns
// immediately either way.
func (b *Buffer) Push(sample float32) {
	w := b.write.Load()
	r := b.read.Load()
	if w-r >= uint64(len(b.data)) {
		b.dropped.Add(1)
		return
	}
	b.data[w&b.mask] = sample
	b.write.Store(w + 1)
}

// PushSlice pushes every sample in s, in order.
func (b *Buffer) PushSlice(s []float32) {
	for _, v := range s {
		b.Push(v)
	}
}

// Pop removes and returns the oldest sample. If the buffer is empty, Pop
// returns silence (0) rather than blocking — callers cannot distinguish a
// genuine zero-valued sample from underflow, which matches spec behavior
// for this buffer (silence is the correct fallback for an audio source that
// has nothing new to offer).
func (b *Buffer) Pop() float32 {
	r := b.read.Load()
	w := b.write.Load()
	if r >= w {
		return 0
	}
	v := b.data[r&b.mask]
	b.read.Store(r + 1)
	return v
}

// Len returns the number of samples currently buffered.
func (b *Buffer) Len() int {
	return int(b.write.Load() - b.read.Load())
}

// Dropped returns the cumulative number of samples dropped due to overflow.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Reset discards all buffered samples, returning the buffer to empty. It is
// not safe to call concurrently with Push/Pop from the producer/consumer
// goroutines.
func (b *Buffer) Reset() {
	b.write.Store(0)
	b.read.Store(0)
}
