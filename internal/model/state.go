package model

// Mode is the kind of leg the countdown is measuring.
type Mode string

const (
	ModeFocus Mode = "focus"
	ModeBreak Mode = "break"
)

// Status is the engine lifecycle state derived from TimerState flags.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// TimerState is a point-in-time snapshot of the countdown engine.
type TimerState struct {
	Mode          Mode `json:"mode"`
	IsActive      bool `json:"isActive"`
	IsPaused      bool `json:"isPaused"`
	TimeRemaining int  `json:"timeRemaining"` // seconds
	SessionCount  int  `json:"sessionCount"`
	LongBreak     bool `json:"longBreak,omitempty"`
}

func (s TimerState) Status() Status {
	switch {
	case s.IsActive:
		return StatusRunning
	case s.IsPaused:
		return StatusPaused
	default:
		return StatusIdle
	}
}
