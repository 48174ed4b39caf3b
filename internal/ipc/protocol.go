package ipc

import (
	"forestfocus/internal/event"
	"forestfocus/internal/metrics"
	"forestfocus/internal/model"
	"forestfocus/internal/storage"
)

const SocketPath = "/tmp/forestfocus.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Argument Structs ---

// ConfigSetArgs carries the fields to change; nil fields are left alone.
type ConfigSetArgs struct {
	FocusMinutes *int `json:"focus_minutes,omitempty"`
	BreakMinutes *int `json:"break_minutes,omitempty"`
}

type HistoryArgs struct {
	Days int `json:"days"`
}

// --- Command Names (Constants) ---

const (
	CmdPing       = "ping"
	CmdTimerStart = "timer_start"
	CmdTimerPause = "timer_pause"
	CmdTimerReset = "timer_reset"
	CmdStatus     = "status"
	CmdConfigGet  = "config_get"
	CmdConfigSet  = "config_set"
	CmdStatsGet   = "stats_get"
	CmdStatsReset = "stats_reset"
	CmdHistory    = "history"
)

// --- Response Data ---

type StatusData struct {
	Timer            model.TimerState      `json:"timer"`
	Status           model.Status          `json:"status"`
	Remaining        string                `json:"remaining"` // MM:SS
	Config           model.TimerConfig     `json:"config"`
	Stats            model.SessionStats    `json:"stats"`
	Drift            metrics.DriftSnapshot `json:"drift"`
	StorageAvailable bool                  `json:"storage_available"`
	StorageWarnings  []StorageWarning      `json:"storage_warnings,omitempty"`
}

// StorageWarning is a record-level storage failure shown to the user.
type StorageWarning struct {
	Record string               `json:"record"`
	Error  *storage.StorageError `json:"error"`
}

type HistoryData struct {
	Events []event.Event `json:"events"`
}
