package codec_test

import (
	"testing"

	"client/internal/codec"
)

func TestNearestRateExactMatch(t *testing.T) {
	if got := codec.NearestRate(48000); got != 48000 {
		t.Errorf("NearestRate(48000) = %d, want 48000", got)
	}
}

func TestNearestRateRoundsToClosest(t *testing.T) {
	cases := []struct {
		hz   int
		want int
	}{
		{44100, 48000},
		{22050, 24000},
		{11025, 12000},
		{9000, 8000},
		{1000, 8000},
		{96000, 48000},
	}
	for _, c := range cases {
		if got := codec.NearestRate(c.hz); got != c.want {
			t.Errorf("NearestRate(%d) = %d, want %d", c.hz, got, c.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := codec.NewEncoder(48000, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := codec.NewDecoder(48000, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	samples := make([]float32, enc.FrameSize())
	for i := range samples {
		samples[i] = 0.1
	}

	frames, err := enc.Push(samples)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	pcm, err := dec.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != dec.FrameSize() {
		t.Errorf("decoded %d samples, want %d", len(pcm), dec.FrameSize())
	}
}

func TestEncoderBuffersPartialFrames(t *testing.T) {
	enc, err := codec.NewEncoder(48000, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	half := enc.FrameSize() / 2
	frames, err := enc.Push(make([]float32, half))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames from a half frame of samples, want 0", len(frames))
	}

	frames, err = enc.Push(make([]float32, half))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames after completing the frame, want 1", len(frames))
	}
}

func TestDecodePLCOnNilPacket(t *testing.T) {
	dec, err := codec.NewDecoder(48000, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	pcm, err := dec.Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if len(pcm) != dec.FrameSize() {
		t.Errorf("PLC output length = %d, want %d", len(pcm), dec.FrameSize())
	}
}

func TestDecoderResetAllowsFurtherDecoding(t *testing.T) {
	dec, err := codec.NewDecoder(48000, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	enc, err := codec.NewEncoder(48000, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	frames, err := enc.Push(make([]float32, enc.FrameSize()))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := dec.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	pcm, err := dec.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode after Reset: %v", err)
	}
	if len(pcm) != dec.FrameSize() {
		t.Errorf("decoded %d samples after Reset, want %d", len(pcm), dec.FrameSize())
	}
}

func TestDecodeFECRecoversFromNextPacket(t *testing.T) {
	enc, err := codec.NewEncoder(48000, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if err := enc.SetPacketLossPerc(20); err != nil {
		t.Fatalf("SetPacketLossPerc: %v", err)
	}
	dec, err := codec.NewDecoder(48000, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	// Encode a few frames so the in-band FEC in the later frames has
	// something to carry for the ones before them.
	var frames [][]byte
	for i := 0; i < 4; i++ {
		fs, err := enc.Push(make([]float32, enc.FrameSize()))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		frames = append(frames, fs...)
	}
	if len(frames) < 2 {
		t.Fatalf("expected at least 2 encoded frames, got %d", len(frames))
	}

	pcm, err := dec.DecodeFEC(frames[1])
	if err != nil {
		t.Fatalf("DecodeFEC: %v", err)
	}
	if len(pcm) != dec.FrameSize() {
		t.Errorf("DecodeFEC output length = %d, want %d", len(pcm), dec.FrameSize())
	}
}

func TestMismatchedHardwareRateSelectsNearest(t *testing.T) {
	enc, err := codec.NewEncoder(44100, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if enc.Rate() != 48000 {
		t.Errorf("Rate() = %d, want 48000 (nearest supported)", enc.Rate())
	}
}

func TestMismatchedHardwareRateResamplesRoundTrip(t *testing.T) {
	// 44100 vs the nearest supported rate (48000) is an ~8.8% mismatch,
	// beyond resample.Threshold, so both ends should resample rather than
	// just warn.
	enc, err := codec.NewEncoder(44100, 1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := codec.NewDecoder(44100, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	// A few hardware-rate (44100Hz) frames' worth of samples, enough that
	// resampling to 48000Hz is guaranteed to fill at least one full Opus
	// frame once accumulated in Push's pending buffer.
	samples := make([]float32, 44100/10) // 100ms @ 44100Hz
	for i := range samples {
		samples[i] = 0.1
	}

	frames, err := enc.Push(samples)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) == 0 {
		t.Fatal("expected at least one encoded frame from a resampled 100ms block")
	}

	pcm, err := dec.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) == 0 {
		t.Error("expected non-empty PCM resampled back to the hardware rate")
	}
}
