// Package stats aggregates completed focus sessions into persisted totals.
package stats

import (
	"log"
	"time"

	"forestfocus/internal/model"
	"forestfocus/internal/persist"
	"forestfocus/internal/storage"
)

// RecordName is the record key under the persistence namespace.
const RecordName = "session-data"

type Options struct {
	// Now defaults to time.Now. The streak is computed in Now's location.
	Now func() time.Time
}

// Tracker owns the session statistics record.
type Tracker struct {
	record *persist.Record[model.SessionData]
	now    func() time.Time
}

func NewTracker(layer *persist.Layer, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		record: persist.NewRecord(layer, RecordName, model.NewSessionData(opts.Now())),
		now:    opts.Now,
	}
}

// IncrementSession counts one completed focus leg.
func (t *Tracker) IncrementSession() model.SessionData {
	now := t.now()
	return t.record.Update(func(d model.SessionData) model.SessionData {
		d.CompletedSessions++
		d.LastSessionTimestamp = now.UTC().Format(time.RFC3339Nano)
		return d
	})
}

// AddFocusMinutes adds to the focus total. Non-positive values are ignored.
func (t *Tracker) AddFocusMinutes(minutes float64) model.SessionData {
	if minutes <= 0 {
		return t.record.Value()
	}
	return t.record.Update(func(d model.SessionData) model.SessionData {
		d.TotalFocusMinutes += minutes
		return d
	})
}

// RecordCompletion books a finished leg. Only focus legs count.
func (t *Tracker) RecordCompletion(mode model.Mode, minutes float64) model.SessionData {
	if mode != model.ModeFocus {
		return t.record.Value()
	}
	now := t.now()
	data := t.record.Update(func(d model.SessionData) model.SessionData {
		d.CompletedSessions++
		if minutes > 0 {
			d.TotalFocusMinutes += minutes
		}
		d.LastSessionTimestamp = now.UTC().Format(time.RFC3339Nano)
		return d
	})
	log.Printf("stats: session %d recorded, %.0f focus minutes total", data.CompletedSessions, data.TotalFocusMinutes)
	return data
}

// CurrentStreak is 1 when the last session happened today or yesterday,
// otherwise 0.
func (t *Tracker) CurrentStreak() int {
	return streak(t.record.Value(), t.now())
}

func streak(data model.SessionData, now time.Time) int {
	if data.CompletedSessions == 0 {
		return 0
	}
	last, ok := data.LastSession()
	if !ok {
		return 0
	}
	today := startOfDay(now)
	lastDay := startOfDay(last.In(now.Location()))
	yesterday := today.AddDate(0, 0, -1)
	if lastDay.Equal(today) || lastDay.Equal(yesterday) {
		return 1
	}
	return 0
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Stats returns the persisted totals plus derived fields.
func (t *Tracker) Stats() model.SessionStats {
	data := t.record.Value()
	return model.SessionStats{
		SessionData:   data,
		CurrentStreak: streak(data, t.now()),
		DailyGoal:     model.DefaultDailyGoal,
	}
}

// Reset zeroes the counters and stamps the reset time.
func (t *Tracker) Reset() {
	t.record.SetValue(model.NewSessionData(t.now()))
	log.Println("stats: statistics reset")
}

func (t *Tracker) Subscribe(buffer int) <-chan model.SessionData {
	return t.record.Subscribe(buffer)
}

func (t *Tracker) Err() *storage.StorageError {
	return t.record.Err()
}

func (t *Tracker) StorageAvailable() bool {
	return t.record.StorageAvailable()
}

func (t *Tracker) Close() {
	t.record.Close()
}
