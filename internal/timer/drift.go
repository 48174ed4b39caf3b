package timer

import "time"

const (
	// DefaultTickInterval is the nominal wake-up period.
	DefaultTickInterval = 100 * time.Millisecond

	maxDriftCorrection  = 50 * time.Millisecond
	driftResetThreshold = 200 * time.Millisecond
	minWakeDelay        = time.Millisecond
)

// correctDelay folds the latest drift sample into the accumulator and returns
// the delay until the next wake-up along with the updated accumulator. The
// correction applied to the delay is clamped to maxDriftCorrection and the
// accumulator is cleared once it exceeds driftResetThreshold.
func correctDelay(period, accumulated, drift time.Duration) (time.Duration, time.Duration) {
	accumulated += drift
	correction := accumulated
	if correction > maxDriftCorrection {
		correction = maxDriftCorrection
	}
	if correction < -maxDriftCorrection {
		correction = -maxDriftCorrection
	}

	next := period - correction
	if next < minWakeDelay {
		next = minWakeDelay
	}
	if accumulated > driftResetThreshold || accumulated < -driftResetThreshold {
		accumulated = 0
	}
	return next, accumulated
}
