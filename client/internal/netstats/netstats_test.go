package netstats_test

import (
	"testing"

	"client/internal/netstats"
)

func TestFirstObservationHasNoLoss(t *testing.T) {
	tr := netstats.New()
	tr.Observe(1, 0)
	if tr.LossRate() != 0 {
		t.Errorf("LossRate() = %v, want 0 before any forward progress", tr.LossRate())
	}
}

func TestSequenceGapCountsLoss(t *testing.T) {
	tr := netstats.New()
	tr.Observe(1, 0)
	tr.Observe(1, 1)
	tr.Observe(1, 5) // 3 missing: seq 2,3,4
	if got := tr.LossRate(); got <= 0 {
		t.Errorf("LossRate() = %v, want > 0 after a sequence gap", got)
	}
}

func TestLateArrivalDoesNotCountAsLoss(t *testing.T) {
	tr := netstats.New()
	tr.Observe(1, 5)
	tr.Observe(1, 3) // behind lastSeq: reordered/late, not loss
	if got := tr.LossRate(); got != 0 {
		t.Errorf("LossRate() = %v, want 0 (late arrival must not count as loss)", got)
	}
}

func TestWraparoundDoesNotInflateLoss(t *testing.T) {
	tr := netstats.New()
	tr.Observe(1, 65534)
	tr.Observe(1, 65535)
	tr.Observe(1, 0) // wraps around, forward progress of 1
	if got := tr.LossRate(); got != 0 {
		t.Errorf("LossRate() = %v, want 0 across a clean wraparound", got)
	}
}

func TestIndependentSendersTrackedSeparately(t *testing.T) {
	tr := netstats.New()
	tr.Observe(1, 0)
	tr.Observe(2, 100) // a different sender's first packet is never "loss"
	if got := tr.LossRate(); got != 0 {
		t.Errorf("LossRate() = %v, want 0 (second sender's first packet establishes its own baseline)", got)
	}
}
