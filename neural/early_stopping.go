package neural

import "math"

// EarlyStopping tracks a monitored loss and signals when it has not improved
// for Patience consecutive epochs.
type EarlyStopping struct {
	Patience        int     // Number of epochs without improvement to stop
	MinDelta        float64 // Minimum decrease that counts as an improvement
	BestScore       float64 // Best monitored value so far
	BestEpoch       int     // Epoch (1-based) with the best value
	EpochsNoImprove int     // Current epochs without improvement
	Enabled         bool
}

// NewEarlyStopping returns a handler for a minimized metric. patience <= 0
// disables stopping but the best epoch is still tracked.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		BestScore: math.Inf(1),
		Enabled:   patience > 0,
	}
}

// Update records the score of epoch and reports whether it is a new best.
func (es *EarlyStopping) Update(epoch int, score float64) (improved bool) {
	if score < es.BestScore-es.MinDelta {
		es.BestScore = score
		es.BestEpoch = epoch
		es.EpochsNoImprove = 0
		return true
	}
	es.EpochsNoImprove++
	return false
}

// ShouldStop returns whether training should stop
func (es *EarlyStopping) ShouldStop() bool {
	if !es.Enabled {
		return false
	}
	return es.EpochsNoImprove >= es.Patience
}
