// Package adapt tunes jitter buffer depth to measured network conditions.
//
// Opus bitrate is intentionally NOT adapted here — a fixed bitrate is part
// of this system's design (see the top-level design notes); only the
// jitter.Buffer priming depth responds to measured jitter and loss.
package adapt

import "math"

// DefaultJitterDepth is the jitter buffer depth used when no jitter data is
// available yet (e.g. before any packets are received). 1 frame = 20 ms —
// optimistic for LAN, where jitter is typically under 5 ms. The adaptive
// loop increases depth within seconds if conditions warrant it.
const DefaultJitterDepth = 1

const (
	frameDurationMs = 20.0 // one Opus frame = 20 ms
	minDepth        = 1
	maxDepth        = 8
)

// TargetJitterDepth computes the optimal jitter buffer depth (in 20 ms
// frames) from the measured inter-arrival jitter (ms) and loss rate
// (0.0-1.0).
//
// Depth = ceil(jitterMs / 20) + 1, with a +1 bonus when loss > 5%.
// Returns DefaultJitterDepth when jitterMs is 0 (no measurement).
// Result is clamped to [1, 8].
func TargetJitterDepth(jitterMs float64, lossRate float64) int {
	if jitterMs <= 0 {
		return DefaultJitterDepth
	}
	depth := int(math.Ceil(jitterMs/frameDurationMs)) + 1
	if lossRate > 0.05 {
		depth++
	}
	if depth < minDepth {
		depth = minDepth
	}
	if depth > maxDepth {
		depth = maxDepth
	}
	return depth
}

// SmoothLoss applies exponentially weighted moving average smoothing to a
// raw packet loss measurement. alpha controls the weight of the new sample
// (0.0 = ignore new, 1.0 = ignore old). Typical alpha: 0.3.
func SmoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}
