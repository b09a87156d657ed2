// Package codec wraps the Opus encoder/decoder with the rate-selection
// policy this system uses instead of full resampling: pick the supported
// Opus rate nearest the hardware's rate, and only fall back to
// client/internal/resample when that nearest rate misses by more than
// resample.Threshold.
package codec

import (
	"fmt"

	"github.com/charmbracelet/log"
	"gopkg.in/hraban/opus.v2"

	"client/internal/resample"
)

// SupportedRates lists the Opus sample rates this codec wrapper will pick
// from, in ascending order.
var SupportedRates = []int{8000, 12000, 16000, 24000, 48000}

// NearestRate returns the supported rate closest to hz. Ties favor the
// higher rate.
func NearestRate(hz int) int {
	best := SupportedRates[0]
	bestDist := iabs(hz - best)
	for _, r := range SupportedRates[1:] {
		d := iabs(hz - r)
		if d <= bestDist {
			bestDist, best = d, r
		}
	}
	return best
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

const (
	// Bitrate is the fixed Opus target bitrate. Adaptive bitrate is
	// explicitly out of scope for this system; only jitter buffer depth
	// adapts (see client/internal/adapt).
	Bitrate = 32000
	// FrameDurationMs is the Opus frame duration this system always uses.
	FrameDurationMs = 20
	// MaxPacketBytes is the largest Opus packet this wrapper will produce,
	// per RFC 6716's maximum frame size.
	MaxPacketBytes = 1275
)

// Encoder wraps an Opus encoder configured for this system's fixed settings
// and accumulates PCM until a full 20ms frame is ready to encode.
type Encoder struct {
	enc       *opus.Encoder
	rate      int
	channels  int
	frameSize int
	pending   []float32
	resampler *resample.Resampler // hardware rate -> rate, nil if not needed
}

// NewEncoder builds an Encoder for hardwareRate, selecting the nearest
// supported Opus rate. If that rate misses hardwareRate by more than
// resample.Threshold, Push resamples incoming audio before encoding instead
// of just logging a mismatch.
func NewEncoder(hardwareRate, channels int) (*Encoder, error) {
	rate := NearestRate(hardwareRate)
	var rs *resample.Resampler
	if rate != hardwareRate {
		if resample.NeedsResampling(hardwareRate, rate) {
			var err error
			rs, err = resample.New(hardwareRate, rate, channels)
			if err != nil {
				return nil, fmt.Errorf("codec: new encoder resampler: %w", err)
			}
			log.Warn("hardware rate not natively supported by codec, resampling",
				"hardware_hz", hardwareRate, "codec_hz", rate)
		} else {
			log.Warn("hardware rate not natively supported by codec, within tolerance, no resampling",
				"hardware_hz", hardwareRate, "codec_hz", rate)
		}
	}
	enc, err := opus.NewEncoder(rate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	if err := enc.SetBitrate(Bitrate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	_ = enc.SetDTX(true)
	_ = enc.SetInBandFEC(true)
	_ = enc.SetPacketLossPerc(5)

	return &Encoder{
		enc:       enc,
		rate:      rate,
		channels:  channels,
		frameSize: rate * FrameDurationMs / 1000 * channels,
		resampler: rs,
	}, nil
}

// Rate returns the Opus sample rate this encoder was configured for.
func (e *Encoder) Rate() int { return e.rate }

// FrameSize returns the number of samples (all channels) in one Opus frame.
func (e *Encoder) FrameSize() int { return e.frameSize }

// Push appends raw samples and returns every complete 20ms Opus frame that
// can now be produced. Leftover samples carry over to the next call. When a
// resampler was installed in NewEncoder, samples are converted to the codec
// rate first; a resampled block's length need not line up with frameSize,
// so conversion output simply accumulates in pending like anything else.
func (e *Encoder) Push(samples []float32) ([][]byte, error) {
	if e.resampler != nil {
		resampled, err := e.resampler.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("codec: resample input: %w", err)
		}
		samples = resampled
	}
	e.pending = append(e.pending, samples...)

	var frames [][]byte
	for len(e.pending) >= e.frameSize {
		buf := make([]byte, MaxPacketBytes)
		n, err := e.enc.EncodeFloat32(e.pending[:e.frameSize], buf)
		if err != nil {
			return frames, fmt.Errorf("codec: encode: %w", err)
		}
		frames = append(frames, buf[:n])
		e.pending = e.pending[e.frameSize:]
	}
	return frames, nil
}

// SetPacketLossPerc updates the encoder's loss hint, used to tune in-band
// FEC redundancy.
func (e *Encoder) SetPacketLossPerc(pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return e.enc.SetPacketLossPerc(pct)
}

// Decoder wraps an Opus decoder producing fixed-size PCM frames.
type Decoder struct {
	dec          *opus.Decoder
	rate         int
	hardwareRate int
	channels     int
	frameSize    int
	resampler    *resample.Resampler // rate -> hardware rate, nil if not needed
}

// NewDecoder builds a Decoder for hardwareRate using the same nearest-rate
// selection as NewEncoder. If that rate misses hardwareRate by more than
// resample.Threshold, decoded PCM is resampled to hardwareRate before being
// returned to the caller.
func NewDecoder(hardwareRate, channels int) (*Decoder, error) {
	rate := NearestRate(hardwareRate)
	var rs *resample.Resampler
	if rate != hardwareRate && resample.NeedsResampling(hardwareRate, rate) {
		var err error
		rs, err = resample.New(rate, hardwareRate, channels)
		if err != nil {
			return nil, fmt.Errorf("codec: new decoder resampler: %w", err)
		}
	}
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new decoder: %w", err)
	}
	return &Decoder{
		dec:          dec,
		rate:         rate,
		hardwareRate: hardwareRate,
		channels:     channels,
		frameSize:    rate * FrameDurationMs / 1000 * channels,
		resampler:    rs,
	}, nil
}

func (d *Decoder) Rate() int      { return d.rate }
func (d *Decoder) FrameSize() int { return d.frameSize }

// Reset discards the decoder's internal state (PLC history, FEC state, and
// any resampler's filter history) by recreating the underlying Opus decoder
// (and resampler, if one is in use) in place. Callers must do this when a
// peer rejoins under the same id, so stale state from the previous session
// doesn't bleed into newly decoded frames.
func (d *Decoder) Reset() error {
	dec, err := opus.NewDecoder(d.rate, d.channels)
	if err != nil {
		return fmt.Errorf("codec: reset decoder: %w", err)
	}
	d.dec = dec
	if d.resampler != nil {
		rs, err := resample.New(d.rate, d.hardwareRate, d.channels)
		if err != nil {
			return fmt.Errorf("codec: reset decoder resampler: %w", err)
		}
		d.resampler = rs
	}
	return nil
}

// DecodeFEC reconstructs a lost frame from the in-band FEC data carried in
// the following frame's Opus packet (opus InBandFEC: encoding frame N+1
// embeds a low-bitrate copy of frame N). nextPacket is that following
// frame's raw Opus bytes, not the lost frame's own data.
func (d *Decoder) DecodeFEC(nextPacket []byte) ([]float32, error) {
	pcm := make([]int16, d.frameSize)
	if err := d.dec.DecodeFEC(nextPacket, pcm); err != nil {
		return nil, fmt.Errorf("codec: decode FEC: %w", err)
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return d.toHardwareRate(out)
}

// Decode converts one Opus frame to PCM. A nil packet requests
// packet-loss-concealment (PLC) output for one frame duration instead.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	out := make([]float32, d.frameSize)
	if packet == nil {
		if err := d.dec.DecodePLCFloat32(out); err != nil {
			return nil, fmt.Errorf("codec: decode PLC: %w", err)
		}
		return d.toHardwareRate(out)
	}
	n, err := d.dec.DecodeFloat32(packet, out)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return d.toHardwareRate(out[:n*d.channels])
}

// toHardwareRate converts codec-rate PCM to the hardware rate when a
// resampler was installed in NewDecoder, and is a no-op otherwise.
func (d *Decoder) toHardwareRate(pcm []float32) ([]float32, error) {
	if d.resampler == nil {
		return pcm, nil
	}
	out, err := d.resampler.Process(pcm)
	if err != nil {
		return nil, fmt.Errorf("codec: resample output: %w", err)
	}
	return out, nil
}
