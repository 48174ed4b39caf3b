package model

import (
	"fmt"
	"time"
)

const (
	MinMinutes = 1
	MaxMinutes = 120

	DefaultFocusMinutes           = 25
	DefaultBreakMinutes           = 5
	DefaultLongBreakMinutes       = 15
	DefaultSessionsUntilLongBreak = 4
)

// TimerConfig is the persisted focus/break configuration.
// LongBreakMinutes and SessionsUntilLongBreak are optional; zero means unset.
type TimerConfig struct {
	FocusMinutes           int `json:"focusTime"`
	BreakMinutes           int `json:"breakTime"`
	LongBreakMinutes       int `json:"longBreakTime,omitempty"`
	SessionsUntilLongBreak int `json:"sessionsUntilLongBreak,omitempty"`
}

// DefaultTimerConfig returns the stock 25/5 configuration with a 15 minute
// long break every fourth session.
func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		FocusMinutes:           DefaultFocusMinutes,
		BreakMinutes:           DefaultBreakMinutes,
		LongBreakMinutes:       DefaultLongBreakMinutes,
		SessionsUntilLongBreak: DefaultSessionsUntilLongBreak,
	}
}

// ValidateMinutes reports whether n is an accepted focus or break length.
func ValidateMinutes(n int) error {
	if n < MinMinutes {
		return fmt.Errorf("time must be at least %d minute", MinMinutes)
	}
	if n > MaxMinutes {
		return fmt.Errorf("time cannot exceed %d minutes", MaxMinutes)
	}
	return nil
}

// Validate checks every field of the configuration.
func (c TimerConfig) Validate() error {
	if err := ValidateMinutes(c.FocusMinutes); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := ValidateMinutes(c.BreakMinutes); err != nil {
		return fmt.Errorf("break: %w", err)
	}
	if c.LongBreakMinutes != 0 {
		if err := ValidateMinutes(c.LongBreakMinutes); err != nil {
			return fmt.Errorf("long break: %w", err)
		}
	}
	if c.SessionsUntilLongBreak < 0 {
		return fmt.Errorf("sessions until long break cannot be negative")
	}
	return nil
}

// Sanitize replaces every invalid field with the corresponding field of defaults.
func (c TimerConfig) Sanitize(defaults TimerConfig) TimerConfig {
	if ValidateMinutes(c.FocusMinutes) != nil {
		c.FocusMinutes = defaults.FocusMinutes
	}
	if ValidateMinutes(c.BreakMinutes) != nil {
		c.BreakMinutes = defaults.BreakMinutes
	}
	if c.LongBreakMinutes != 0 && ValidateMinutes(c.LongBreakMinutes) != nil {
		c.LongBreakMinutes = defaults.LongBreakMinutes
	}
	if c.SessionsUntilLongBreak < 0 {
		c.SessionsUntilLongBreak = defaults.SessionsUntilLongBreak
	}
	return c
}

func (c TimerConfig) FocusDuration() time.Duration {
	return time.Duration(c.FocusMinutes) * time.Minute
}

func (c TimerConfig) BreakDuration() time.Duration {
	return time.Duration(c.BreakMinutes) * time.Minute
}

func (c TimerConfig) LongBreakDuration() time.Duration {
	return time.Duration(c.LongBreakMinutes) * time.Minute
}
