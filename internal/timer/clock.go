package timer

import "time"

// Clock supplies the engine's notion of time and its wake-up primitive.
// The wall clock implementation reads Go's monotonic clock, so elapsed time
// is immune to wall-clock adjustments.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a scheduled wake-up.
type Stopper interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// WallClock returns the Clock backed by the time package.
func WallClock() Clock { return wallClock{} }
