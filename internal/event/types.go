package event

import "time"

type EventType string

const (
	EventTypeAppStart        EventType = "app_start"
	EventTypeAppStop         EventType = "app_stop"
	EventTypeSessionComplete EventType = "session_complete"
	EventTypeBreakComplete   EventType = "break_complete"
	EventTypeStatsReset      EventType = "stats_reset"
)

// Event is one row of the session history log.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Type      EventType `db:"type" json:"type"`
	Mode      string    `db:"mode" json:"mode,omitempty"`   // focus or break, for leg events
	Value     float64   `db:"value" json:"value,omitempty"` // leg length in minutes
	Notes     string    `db:"notes" json:"notes,omitempty"`
}

// Notification is a user-facing message produced by the daemon.
type Notification struct {
	Title   string
	Message string
}
