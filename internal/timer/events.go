package timer

import (
	"time"

	"forestfocus/internal/model"
)

// UpdateKind identifies why an Update was published.
type UpdateKind string

const (
	UpdateState           UpdateKind = "state_change"
	UpdateTick            UpdateKind = "tick"
	UpdateSessionComplete UpdateKind = "session_complete"
	UpdateBreakComplete   UpdateKind = "break_complete"
)

// Update is a snapshot published to subscribers.
type Update struct {
	Kind  UpdateKind
	State model.TimerState
	At    time.Time
	// LegSeconds is the length of the leg that just ended, for the two
	// completion kinds.
	LegSeconds int
}
