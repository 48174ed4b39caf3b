package model

import "time"

// DefaultDailyGoal is the number of focus sessions suggested per day.
const DefaultDailyGoal = 8

// SessionData is the persisted statistics record.
type SessionData struct {
	CompletedSessions    int     `json:"completedSessions"`
	TotalFocusMinutes    float64 `json:"totalFocusTime"`
	LastSessionTimestamp string  `json:"lastSessionDate"`
}

// NewSessionData returns zeroed statistics stamped with now.
func NewSessionData(now time.Time) SessionData {
	return SessionData{LastSessionTimestamp: now.UTC().Format(time.RFC3339Nano)}
}

// LastSession parses LastSessionTimestamp. ok is false for empty or malformed values.
func (d SessionData) LastSession() (t time.Time, ok bool) {
	if d.LastSessionTimestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, d.LastSessionTimestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SessionStats is SessionData with the derived fields shown to users.
type SessionStats struct {
	SessionData
	CurrentStreak int `json:"currentStreak"`
	DailyGoal     int `json:"dailyGoal"`
}
