// Package timer implements the focus/break countdown engine.
//
// Remaining time is always derived from a fixed baseline timestamp and the
// current clock reading, never by decrementing a counter per wake-up. The
// wake-ups only sample the clock; drift correction adjusts when the next
// sample is taken, not the reported value.
package timer

import (
	"fmt"
	"log"
	"sync"
	"time"

	"forestfocus/internal/model"
	"forestfocus/internal/supervise"
)

// Recorder receives the drift of every wake-up.
type Recorder interface {
	Observe(drift time.Duration)
}

// Options configures a new Engine.
type Options struct {
	FocusMinutes           int
	BreakMinutes           int
	LongBreakMinutes       int
	SessionsUntilLongBreak int

	TickInterval time.Duration
	Clock        Clock

	// OnSessionComplete fires once per focus leg, after SessionCount has been
	// incremented, with the new count and the length the leg was started with.
	OnSessionComplete func(sessionCount int, leg time.Duration)

	// AutoAdvance starts the next leg immediately when one expires. When false
	// every leg needs an explicit Start.
	AutoAdvance bool

	Recorder Recorder
}

// Engine is a drift-corrected focus/break countdown.
type Engine struct {
	mu sync.Mutex

	clock        Clock
	tickInterval time.Duration
	onComplete   func(int, time.Duration)
	autoAdvance  bool
	recorder     Recorder

	focusMinutes     int
	breakMinutes     int
	longBreakMinutes int
	longBreakEvery   int

	mode         model.Mode
	longBreak    bool
	active       bool
	paused       bool
	remaining    int
	sessionCount int
	legSeconds   int // fixed when a leg starts, kept across pause

	baseline   time.Time
	elapsed    time.Duration // captured on pause
	expected   time.Time
	driftAccum time.Duration
	pending    Stopper
	generation uint64

	closed      bool
	subscribers []chan Update
}

// New creates an idle engine displaying the full focus duration.
// Out-of-range minute values fall back to the defaults.
func New(options Options) *Engine {
	if options.TickInterval <= 0 {
		options.TickInterval = DefaultTickInterval
	}
	if options.Clock == nil {
		options.Clock = WallClock()
	}
	if model.ValidateMinutes(options.FocusMinutes) != nil {
		options.FocusMinutes = model.DefaultFocusMinutes
	}
	if model.ValidateMinutes(options.BreakMinutes) != nil {
		options.BreakMinutes = model.DefaultBreakMinutes
	}
	if options.LongBreakMinutes != 0 && model.ValidateMinutes(options.LongBreakMinutes) != nil {
		options.LongBreakMinutes = 0
	}
	if options.SessionsUntilLongBreak < 0 {
		options.SessionsUntilLongBreak = 0
	}

	e := &Engine{
		clock:            options.Clock,
		tickInterval:     options.TickInterval,
		onComplete:       options.OnSessionComplete,
		autoAdvance:      options.AutoAdvance,
		recorder:         options.Recorder,
		focusMinutes:     options.FocusMinutes,
		breakMinutes:     options.BreakMinutes,
		longBreakMinutes: options.LongBreakMinutes,
		longBreakEvery:   options.SessionsUntilLongBreak,
		mode:             model.ModeFocus,
	}
	e.remaining = e.totalSecondsLocked()
	return e
}

// Start begins or resumes the countdown. It does nothing when the engine is
// already running or there is no time left.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.active || e.remaining <= 0 {
		return
	}
	now := e.clock.Now()
	e.startLocked(now)
	e.emitLocked(UpdateState, now)
}

// Pause stops the countdown and remembers the elapsed time so the next
// Start resumes from the same point.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	e.cancelLocked()
	now := e.clock.Now()
	if !e.baseline.IsZero() {
		e.elapsed = now.Sub(e.baseline)
	}
	e.baseline = time.Time{}
	e.expected = time.Time{}
	e.driftAccum = 0
	e.active = false
	e.paused = true
	e.emitLocked(UpdateState, now)
}

// Reset cancels any pending wake-up and returns to an idle focus leg.
// SessionCount is kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.clearTimingLocked()
	e.active = false
	e.paused = false
	e.mode = model.ModeFocus
	e.longBreak = false
	e.remaining = e.focusMinutes * 60
	e.emitLocked(UpdateState, e.clock.Now())
}

// SetFocusMinutes changes the focus length. Values outside [1,120] are
// rejected and false is returned. A leg that is running or paused keeps the
// length it was started with.
func (e *Engine) SetFocusMinutes(n int) bool {
	if model.ValidateMinutes(n) != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focusMinutes = n
	if e.idleLocked() && e.mode == model.ModeFocus {
		e.remaining = n * 60
		e.emitLocked(UpdateState, e.clock.Now())
	}
	return true
}

// SetBreakMinutes changes the short break length. Values outside [1,120]
// are rejected and false is returned.
func (e *Engine) SetBreakMinutes(n int) bool {
	if model.ValidateMinutes(n) != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakMinutes = n
	if e.idleLocked() && e.mode == model.ModeBreak && !e.longBreak {
		e.remaining = n * 60
		e.emitLocked(UpdateState, e.clock.Now())
	}
	return true
}

// SetLongBreak configures a long break of minutes after every n-th focus
// leg. A zero for either argument disables long breaks.
func (e *Engine) SetLongBreak(minutes, every int) bool {
	if minutes != 0 && model.ValidateMinutes(minutes) != nil {
		return false
	}
	if every < 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.longBreakMinutes = minutes
	e.longBreakEvery = every
	if e.idleLocked() && e.mode == model.ModeBreak && e.longBreak {
		if minutes == 0 {
			e.longBreak = false
		}
		e.remaining = e.totalSecondsLocked()
		e.emitLocked(UpdateState, e.clock.Now())
	}
	return true
}

// State returns a snapshot of the runtime state.
func (e *Engine) State() model.TimerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Status returns the lifecycle state.
func (e *Engine) Status() model.Status {
	return e.State().Status()
}

// Subscribe registers an observer channel. Updates are dropped when the
// channel buffer is full.
func (e *Engine) Subscribe(buffer int) <-chan Update {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Update, buffer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Close stops the engine for good and closes all subscriber channels.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.cancelLocked()
	e.active = false
	e.closed = true
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}

func (e *Engine) startLocked(now time.Time) {
	if !e.paused {
		e.legSeconds = e.totalSecondsLocked()
	}
	e.active = true
	e.paused = false
	e.baseline = now.Add(-e.elapsed)
	e.expected = now.Add(e.tickInterval)
	e.driftAccum = 0
	e.scheduleLocked(e.tickInterval)
}

func (e *Engine) wake(generation uint64) {
	var (
		completed   bool
		sessionDone int
		leg         time.Duration
	)

	e.mu.Lock()
	if generation != e.generation || !e.active || e.closed {
		// Cancelled after the wake-up was already in flight.
		e.mu.Unlock()
		return
	}
	e.pending = nil
	err := supervise.Run("timer tick", func() error {
		completed, sessionDone, leg = e.tickLocked(e.clock.Now())
		return nil
	}, func(err error) {
		log.Printf("timer: tick failed, continuing at nominal period: %v", err)
	})
	if err != nil && e.active && e.pending == nil {
		e.expected = e.clock.Now().Add(e.tickInterval)
		e.driftAccum = 0
		e.scheduleLocked(e.tickInterval)
	}
	onComplete := e.onComplete
	e.mu.Unlock()

	if completed && onComplete != nil {
		supervise.Do("session complete callback", func() {
			onComplete(sessionDone, leg)
		}, func(err error) {
			log.Printf("timer: session complete callback failed: %v", err)
		})
	}
}

// tickLocked samples the clock, updates the remaining time and either
// expires the leg or schedules the next wake-up.
func (e *Engine) tickLocked(now time.Time) (completed bool, sessionCount int, leg time.Duration) {
	elapsed := now.Sub(e.baseline)
	remaining := e.legSeconds - int(elapsed/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	changed := remaining != e.remaining
	e.remaining = remaining

	if remaining == 0 {
		return e.expireLocked(now)
	}
	if changed {
		e.emitLocked(UpdateTick, now)
	}

	drift := now.Sub(e.expected)
	next, accumulated := correctDelay(e.tickInterval, e.driftAccum, drift)
	e.driftAccum = accumulated
	e.expected = now.Add(e.tickInterval)
	if e.recorder != nil {
		e.recorder.Observe(drift)
	}
	e.scheduleLocked(next)
	return false, 0, 0
}

func (e *Engine) expireLocked(now time.Time) (completed bool, sessionCount int, leg time.Duration) {
	legSeconds := e.legSeconds
	e.cancelLocked()
	e.clearTimingLocked()
	e.active = false
	e.paused = false

	if e.mode == model.ModeFocus {
		e.sessionCount++
		e.mode = model.ModeBreak
		e.longBreak = e.longBreakDueLocked()
		completed = true
		sessionCount = e.sessionCount
		log.Printf("timer: focus leg %d complete", e.sessionCount)
	} else {
		e.mode = model.ModeFocus
		e.longBreak = false
		log.Printf("timer: break complete")
	}
	e.remaining = e.totalSecondsLocked()

	if completed {
		e.emitLegLocked(UpdateSessionComplete, now, legSeconds)
	} else {
		e.emitLegLocked(UpdateBreakComplete, now, legSeconds)
	}
	if e.autoAdvance && e.remaining > 0 {
		e.startLocked(now)
	}
	e.emitLocked(UpdateState, now)
	return completed, sessionCount, time.Duration(legSeconds) * time.Second
}

func (e *Engine) scheduleLocked(delay time.Duration) {
	e.generation++
	generation := e.generation
	e.pending = e.clock.AfterFunc(delay, func() {
		e.wake(generation)
	})
}

// cancelLocked stops the pending wake-up and invalidates any that already fired.
func (e *Engine) cancelLocked() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.generation++
}

func (e *Engine) clearTimingLocked() {
	e.baseline = time.Time{}
	e.elapsed = 0
	e.expected = time.Time{}
	e.driftAccum = 0
	e.legSeconds = 0
}

func (e *Engine) idleLocked() bool {
	return !e.active && !e.paused
}

func (e *Engine) longBreakDueLocked() bool {
	return e.longBreakMinutes > 0 && e.longBreakEvery > 0 && e.sessionCount%e.longBreakEvery == 0
}

func (e *Engine) totalSecondsLocked() int {
	switch {
	case e.mode == model.ModeFocus:
		return e.focusMinutes * 60
	case e.longBreak:
		return e.longBreakMinutes * 60
	default:
		return e.breakMinutes * 60
	}
}

func (e *Engine) stateLocked() model.TimerState {
	return model.TimerState{
		Mode:          e.mode,
		IsActive:      e.active,
		IsPaused:      e.paused,
		TimeRemaining: e.remaining,
		SessionCount:  e.sessionCount,
		LongBreak:     e.longBreak,
	}
}

func (e *Engine) emitLocked(kind UpdateKind, at time.Time) {
	e.emitLegLocked(kind, at, 0)
}

func (e *Engine) emitLegLocked(kind UpdateKind, at time.Time, legSeconds int) {
	update := Update{Kind: kind, State: e.stateLocked(), At: at, LegSeconds: legSeconds}
	for _, ch := range e.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

// FormatRemaining renders seconds as MM:SS, or H:MM:SS past an hour.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
