package storage

import (
	"context"
	"errors"
	"time"

	"forestfocus/internal/event"
)

var (
	// ErrQuotaExceeded is returned by Backend.Set when the value does not fit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable is returned by backends that are disabled or closed.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrWatchUnsupported is returned by Watch when the backend cannot observe
	// external writers.
	ErrWatchUnsupported = errors.New("watch unsupported")
)

// Backend is a durable but fallible string key-value store. Keys returns
// keys in iteration order, oldest entry first.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
}

// Change describes a write made to a Backend by another process.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Watcher is implemented by backends that can report external changes.
// Watch blocks until ctx is cancelled or watching fails.
type Watcher interface {
	Watch(ctx context.Context, notify func(Change)) error
}

// EventLog stores the session history.
type EventLog interface {
	SaveEvent(ctx context.Context, e event.Event) (int64, error)
	GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error)
}

// Diff compares two key/value snapshots and returns the changes that turn
// before into after, in no particular order.
func Diff(before, after map[string]string) []Change {
	var changes []Change
	for key, value := range after {
		if old, ok := before[key]; !ok || old != value {
			changes = append(changes, Change{Key: key, Value: value})
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changes = append(changes, Change{Key: key, Deleted: true})
		}
	}
	return changes
}
