// Package peerchan implements the per-peer jitter channel: a bounded SPSC
// queue of decoded samples, preloaded with latency.Samples of silence so a
// freshly connected peer has jitter headroom before its first packet lands.
package peerchan

import (
	"fmt"

	"client/internal/codec"
	"client/internal/ring"
)

// Latency translates a millisecond target into a frame/sample count at a
// given sample rate and channel count. The prefill amount is latency.Samples;
// the channel's ring capacity is 2x that, giving a late producer headroom to
// catch up without overrunning.
type Latency struct {
	MS      float32
	Frames  int
	Samples int
}

// NewLatency computes Latency for latencyMs at sampleRate with channels
// interleaved per frame.
func NewLatency(latencyMs float32, sampleRate int, channels int) Latency {
	frames := int((latencyMs * float32(sampleRate)) / 1000.0)
	return Latency{MS: latencyMs, Frames: frames, Samples: frames * channels}
}

// Channel decodes one peer's incoming Opus frames and buffers the resulting
// PCM in a ring sized and preloaded per Latency.
type Channel struct {
	decoder *codec.Decoder
	buf     *ring.Buffer
	latency Latency
}

// NewChannel builds a Channel for one peer, decoding at sampleRate/channels
// and preloading latency.Samples of silence.
func NewChannel(sampleRate, channels int, latency Latency) (*Channel, error) {
	dec, err := codec.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("peerchan: new channel: %w", err)
	}
	buf := ring.New(latency.Samples * 2)
	for i := 0; i < latency.Samples; i++ {
		buf.Push(0)
	}
	return &Channel{decoder: dec, buf: buf, latency: latency}, nil
}

// Reset clears the decoder's internal state and the buffered audio, then
// re-preloads latency.Samples of silence as NewChannel does. This is what a
// peer rejoining under the same id needs: without it, stale PLC/FEC decoder
// state and leftover buffered samples from the previous session would bleed
// into the rejoined peer's first frames.
func (c *Channel) Reset() error {
	if err := c.decoder.Reset(); err != nil {
		return fmt.Errorf("peerchan: reset: %w", err)
	}
	c.buf.Reset()
	for i := 0; i < c.latency.Samples; i++ {
		c.buf.Push(0)
	}
	return nil
}

// Push decodes an Opus frame and enqueues the resulting samples. A decode
// error is the caller's to log; Push returns it rather than swallowing it.
func (c *Channel) Push(encodedFrame []byte) error {
	pcm, err := c.decoder.Decode(encodedFrame)
	if err != nil {
		return fmt.Errorf("peerchan: decode: %w", err)
	}
	c.buf.PushSlice(pcm)
	return nil
}

// PushFEC reconstructs a lost frame from the following frame's in-band FEC
// data and enqueues the result, in place of the plain PLC output Push(nil)
// would otherwise produce.
func (c *Channel) PushFEC(nextEncodedFrame []byte) error {
	pcm, err := c.decoder.DecodeFEC(nextEncodedFrame)
	if err != nil {
		return fmt.Errorf("peerchan: decode fec: %w", err)
	}
	c.buf.PushSlice(pcm)
	return nil
}

// Pop removes and returns the oldest buffered sample, or silence if the
// channel is currently empty.
func (c *Channel) Pop() float32 {
	return c.buf.Pop()
}

// Len reports the number of samples currently buffered.
func (c *Channel) Len() int {
	return c.buf.Len()
}
