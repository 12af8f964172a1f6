package live

import (
	"time"

	"github.com/atelierlive/atelier/pkg/core/media"
)

// BargeInDetector fires when ingress speech energy stays above the
// calibrated threshold for the hold duration. Fed one 20 ms chunk at a
// time from the session loop; not safe for concurrent use.
type BargeInDetector struct {
	threshold float64
	hold      time.Duration
	above     time.Duration
}

// NewBargeInDetector builds a detector with the given RMS threshold
// (0..1) and hold duration.
func NewBargeInDetector(threshold float64, hold time.Duration) *BargeInDetector {
	if threshold <= 0 {
		threshold = 0.02
	}
	if hold <= 0 {
		hold = 200 * time.Millisecond
	}
	return &BargeInDetector{threshold: threshold, hold: hold}
}

// Observe folds one PCM chunk in and reports whether the hold duration
// was just crossed. After firing, the accumulator resets so the next
// barge-in needs a fresh run of loud audio.
func (d *BargeInDetector) Observe(pcm []byte) bool {
	if media.RMSEnergy(pcm) <= d.threshold {
		d.above = 0
		return false
	}
	d.above += time.Duration(media.DurationMS(len(pcm))) * time.Millisecond
	if d.above >= d.hold {
		d.above = 0
		return true
	}
	return false
}

// Reset clears the accumulated run, e.g. on state changes.
func (d *BargeInDetector) Reset() {
	d.above = 0
}
