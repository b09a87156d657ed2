package resample_test

import (
	"testing"

	"client/internal/resample"
)

func TestNeedsResamplingWithinThreshold(t *testing.T) {
	if resample.NeedsResampling(48000, 48000) {
		t.Error("exact match should not need resampling")
	}
	if resample.NeedsResampling(48010, 48000) {
		t.Error("0.02% mismatch should be within threshold")
	}
}

func TestNeedsResamplingBeyondThreshold(t *testing.T) {
	if !resample.NeedsResampling(44100, 48000) {
		t.Error("44100 vs 48000 (~8.8%% mismatch) should need resampling")
	}
}

func TestProcessChangesLength(t *testing.T) {
	r, err := resample.New(44100, 48000, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := make([]float32, 441) // 10ms @ 44100
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) == 0 {
		t.Error("Process produced no output for a non-trivial input block")
	}
}
