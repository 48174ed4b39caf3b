// Package settings persists the user's timer configuration.
package settings

import (
	"fmt"
	"log"

	"forestfocus/internal/model"
	"forestfocus/internal/persist"
	"forestfocus/internal/storage"
)

const RecordName = "timer-config"

// Store is the validated TimerConfig record. Invalid configurations are
// rejected before they reach storage.
type Store struct {
	record   *persist.Record[model.TimerConfig]
	defaults model.TimerConfig
}

// NewStore loads the configuration. Stored fields that fail validation are
// replaced by the matching field of defaults.
func NewStore(layer *persist.Layer, defaults model.TimerConfig) *Store {
	defaults = defaults.Sanitize(model.DefaultTimerConfig())
	return &Store{
		record:   persist.NewRecord(layer, RecordName, defaults),
		defaults: defaults,
	}
}

// Config returns the current configuration with invalid fields replaced.
func (s *Store) Config() model.TimerConfig {
	return s.sanitize(s.record.Value())
}

func (s *Store) sanitize(cfg model.TimerConfig) model.TimerConfig {
	if err := cfg.Validate(); err != nil {
		log.Printf("settings: stored configuration invalid (%v), using defaults for bad fields", err)
		return cfg.Sanitize(s.defaults)
	}
	return cfg
}

// Save validates and persists cfg. Storage failures are not returned; they
// are reported through Err.
func (s *Store) Save(cfg model.TimerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid timer configuration: %w", err)
	}
	s.record.SetValue(cfg)
	return nil
}

func (s *Store) SetFocusMinutes(n int) error {
	cfg := s.Config()
	cfg.FocusMinutes = n
	return s.Save(cfg)
}

func (s *Store) SetBreakMinutes(n int) error {
	cfg := s.Config()
	cfg.BreakMinutes = n
	return s.Save(cfg)
}

// Reset removes the stored configuration, returning to defaults.
func (s *Store) Reset() {
	s.record.RemoveValue()
}

func (s *Store) Subscribe(buffer int) <-chan model.TimerConfig {
	return s.record.Subscribe(buffer)
}

func (s *Store) Err() *storage.StorageError {
	return s.record.Err()
}

func (s *Store) StorageAvailable() bool {
	return s.record.StorageAvailable()
}

func (s *Store) Close() {
	s.record.Close()
}
