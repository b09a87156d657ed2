// Package resample provides an opt-in resampler for the rare case
// where the hardware sample rate cannot be matched to a supported Opus rate
// within 1%. It is never used by default — client/internal/codec's
// nearest-rate selection and warning is the normal path.
package resample

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Threshold is the maximum fractional mismatch between a hardware rate and
// its nearest codec rate before a resampler becomes necessary.
const Threshold = 0.01

// NeedsResampling reports whether hardwareHz differs from codecHz by more
// than Threshold.
func NeedsResampling(hardwareHz, codecHz int) bool {
	if codecHz == 0 {
		return false
	}
	diff := math.Abs(float64(hardwareHz-codecHz)) / float64(codecHz)
	return diff > Threshold
}

// Resampler converts float32 samples from one rate to another using a
// high-quality pure-Go resampler.
type Resampler struct {
	r        resampling.Resampler
	channels int
}

// New builds a Resampler from inputHz to outputHz for the given channel
// count.
func New(inputHz, outputHz, channels int) (*Resampler, error) {
	cfg := &resampling.Config{
		InputRate:  float64(inputHz),
		OutputRate: float64(outputHz),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	r, err := resampling.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("resample: new: %w", err)
	}
	return &Resampler{r: r, channels: channels}, nil
}

// Process resamples one block of interleaved float32 samples.
func (rs *Resampler) Process(samples []float32) ([]float32, error) {
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}

	out, err := rs.r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: process: %w", err)
	}

	result := make([]float32, len(out))
	for i, s := range out {
		result[i] = float32(s)
	}
	return result, nil
}
