// Package netstats estimates inter-arrival jitter and packet loss across
// received voice datagrams, feeding client/internal/adapt's jitter buffer
// depth model.
package netstats

import "time"

const (
	// expectedGapMs is the nominal spacing between voice frames from a
	// single sender: one Opus frame every 20ms.
	expectedGapMs = 20.0
	// jitterAlpha is the RFC 3550 jitter estimator's smoothing factor.
	jitterAlpha = 1.0 / 16.0
	// maxForwardGap bounds how large a sequence jump can be before it's
	// treated as a sender restart (seq reset) rather than loss, same
	// threshold the teacher's original transport layer used.
	maxForwardGap = 1000
	// maxPlausibleGapMs discards inter-arrival samples implausibly large to
	// be ordinary jitter (a long pause, not jitter, produced them).
	maxPlausibleGapMs = 100.0
)

// Tracker accumulates jitter/loss statistics across every sender, since the
// reorder window's depth (client/internal/jitter.Buffer) is shared across
// all active peers rather than tuned per-peer.
type Tracker struct {
	lastSeq     map[uint32]uint16
	hasSeq      map[uint32]bool
	lastArrival map[uint32]time.Time

	smoothedJitterMs float64
	expected         uint64
	lost             uint64
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		lastSeq:     make(map[uint32]uint16),
		hasSeq:      make(map[uint32]bool),
		lastArrival: make(map[uint32]time.Time),
	}
}

// Observe records one received voice datagram from senderID at seq.
func (tr *Tracker) Observe(senderID uint32, seq uint16) {
	now := time.Now()

	forwardProgress := false
	if prev, has := tr.lastSeq[senderID]; has && tr.hasSeq[senderID] {
		diff := int(seq) - int(prev)
		if diff < 0 {
			diff += 65536 // uint16 wraparound
		}
		if diff > 0 && diff < maxForwardGap {
			forwardProgress = true
			tr.lastSeq[senderID] = seq
			tr.expected += uint64(diff)
			if diff > 1 {
				tr.lost += uint64(diff - 1)
			}
		}
		// else: retransmitted/reordered/reset packet — don't let it corrupt
		// the loss or jitter estimate.
	} else {
		forwardProgress = true
		tr.lastSeq[senderID] = seq
		tr.hasSeq[senderID] = true
	}

	if forwardProgress {
		if prev, ok := tr.lastArrival[senderID]; ok {
			gapMs := float64(now.Sub(prev).Microseconds()) / 1000.0
			if gapMs < maxPlausibleGapMs {
				d := gapMs - expectedGapMs
				if d < 0 {
					d = -d
				}
				tr.smoothedJitterMs += jitterAlpha * (d - tr.smoothedJitterMs)
			}
		}
		tr.lastArrival[senderID] = now
	}
}

// JitterMs returns the current smoothed inter-arrival jitter estimate, in
// milliseconds.
func (tr *Tracker) JitterMs() float64 {
	return tr.smoothedJitterMs
}

// LossRate returns the fraction of expected sequence numbers never seen,
// in [0, 1], since Tracker was created.
func (tr *Tracker) LossRate() float64 {
	if tr.expected == 0 {
		return 0
	}
	loss := float64(tr.lost) / float64(tr.expected)
	if loss > 1 {
		loss = 1
	}
	return loss
}
