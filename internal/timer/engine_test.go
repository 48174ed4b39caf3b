package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestfocus/internal/model"
)

func newTestEngine(t *testing.T, options Options) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	options.Clock = clock
	if options.FocusMinutes == 0 {
		options.FocusMinutes = 25
	}
	if options.BreakMinutes == 0 {
		options.BreakMinutes = 5
	}
	engine := New(options)
	t.Cleanup(engine.Close)
	return engine, clock
}

func TestNewEngineIsIdleOnFocus(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	assert.Equal(t, model.TimerState{Mode: model.ModeFocus, TimeRemaining: 1500}, engine.State())
	assert.Equal(t, model.StatusIdle, engine.Status())
}

func TestNewEngineFallsBackOnInvalidMinutes(t *testing.T) {
	engine := New(Options{FocusMinutes: 500, BreakMinutes: -1, Clock: newFakeClock()})
	defer engine.Close()
	assert.Equal(t, model.DefaultFocusMinutes*60, engine.State().TimeRemaining)
}

func TestSetMinutesAcceptsOnlyValidRange(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	for n := 1; n <= 120; n++ {
		require.True(t, engine.SetFocusMinutes(n), "focus %d", n)
		require.Equal(t, n*60, engine.State().TimeRemaining)
		require.True(t, engine.SetBreakMinutes(n), "break %d", n)
	}

	engine.SetFocusMinutes(30)
	before := engine.State()
	for _, n := range []int{0, -1, 121, 999} {
		assert.False(t, engine.SetFocusMinutes(n))
		assert.False(t, engine.SetBreakMinutes(n))
		assert.Equal(t, before, engine.State())
	}
}

func TestStartWithNoTimeRemainingIsNoop(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	engine.mu.Lock()
	engine.remaining = 0
	engine.mu.Unlock()

	engine.Start()

	assert.Equal(t, model.StatusIdle, engine.Status())
	assert.Zero(t, clock.pendingCount())
}

func TestFocusLegCompletesAfterFullDuration(t *testing.T) {
	var calls []int
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      25,
		OnSessionComplete: func(n int, _ time.Duration) { calls = append(calls, n) },
	})

	engine.Start()
	require.Equal(t, model.StatusRunning, engine.Status())

	clock.Advance(1499 * time.Second)
	state := engine.State()
	assert.Equal(t, model.ModeFocus, state.Mode)
	assert.Equal(t, 1, state.TimeRemaining)
	assert.Empty(t, calls)

	clock.Advance(time.Second)
	state = engine.State()
	assert.Equal(t, model.ModeBreak, state.Mode)
	assert.Equal(t, 1, state.SessionCount)
	assert.False(t, state.IsActive)
	assert.Equal(t, 5*60, state.TimeRemaining)
	assert.Equal(t, []int{1}, calls)
	assert.Zero(t, clock.pendingCount())

	clock.Advance(time.Hour)
	assert.Equal(t, []int{1}, calls)
}

func TestBreakLegReturnsToFocus(t *testing.T) {
	calls := 0
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      1,
		BreakMinutes:      2,
		OnSessionComplete: func(int, time.Duration) { calls++ },
	})

	engine.Start()
	clock.Advance(time.Minute)
	require.Equal(t, model.ModeBreak, engine.State().Mode)

	engine.Start()
	clock.Advance(2 * time.Minute)

	state := engine.State()
	assert.Equal(t, model.ModeFocus, state.Mode)
	assert.Equal(t, 60, state.TimeRemaining)
	assert.Equal(t, 1, state.SessionCount)
	assert.False(t, state.IsActive)
	assert.Equal(t, 1, calls)
}

func TestPauseResumeKeepsElapsedTime(t *testing.T) {
	completed := 0
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      25,
		OnSessionComplete: func(int, time.Duration) { completed++ },
	})

	engine.Start()
	clock.Advance(600 * time.Second)
	engine.Pause()

	state := engine.State()
	assert.Equal(t, model.StatusPaused, state.Status())
	assert.Equal(t, 900, state.TimeRemaining)
	assert.Zero(t, clock.pendingCount())

	clock.Advance(time.Hour)
	assert.Equal(t, 900, engine.State().TimeRemaining)

	engine.Start()
	clock.Advance(899 * time.Second)
	assert.Equal(t, 1, engine.State().TimeRemaining)
	assert.Zero(t, completed)

	clock.Advance(time.Second)
	assert.Equal(t, model.ModeBreak, engine.State().Mode)
	assert.Equal(t, 1, completed)
}

func TestPauseWhenIdleIsNoop(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	engine.Pause()
	assert.Equal(t, model.StatusIdle, engine.Status())
}

func TestResetFromAnyState(t *testing.T) {
	engine, clock := newTestEngine(t, Options{FocusMinutes: 10, BreakMinutes: 3})
	want := func() {
		t.Helper()
		state := engine.State()
		assert.Equal(t, model.ModeFocus, state.Mode)
		assert.False(t, state.IsActive)
		assert.False(t, state.IsPaused)
		assert.Equal(t, 600, state.TimeRemaining)
		assert.Zero(t, clock.pendingCount())
	}

	engine.Reset()
	want()

	engine.Start()
	clock.Advance(30 * time.Second)
	engine.Reset()
	want()

	engine.Start()
	clock.Advance(30 * time.Second)
	engine.Pause()
	engine.Reset()
	want()

	engine.Start()
	clock.Advance(10 * time.Minute)
	require.Equal(t, model.ModeBreak, engine.State().Mode)
	engine.Reset()
	want()
	assert.Equal(t, 1, engine.State().SessionCount)

	// A fresh start after reset counts the full duration again.
	engine.Start()
	clock.Advance(599 * time.Second)
	assert.Equal(t, 1, engine.State().TimeRemaining)
}

func TestStaleWakeupAfterPauseDoesNothing(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	engine.Start()
	clock.Advance(250 * time.Millisecond)

	pending := clock.lastTimer()
	require.NotNil(t, pending)
	engine.Pause()
	before := engine.State()

	clock.Advance(30 * time.Minute)
	pending.fn()

	assert.Equal(t, before, engine.State())
	assert.Zero(t, clock.pendingCount())
}

func TestStaleWakeupAfterResetDoesNothing(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	engine.Start()
	clock.Advance(250 * time.Millisecond)
	pending := clock.lastTimer()
	engine.Reset()

	clock.Advance(30 * time.Minute)
	pending.fn()

	assert.Equal(t, model.StatusIdle, engine.Status())
	assert.Equal(t, 1500, engine.State().TimeRemaining)
}

func TestRemainingTracksWallClockDespiteLateWakeups(t *testing.T) {
	engine, clock := newTestEngine(t, Options{FocusMinutes: 1})
	clock.setLateness(37 * time.Millisecond)

	engine.Start()
	clock.Advance(30 * time.Second)

	// Counting ticks would report ~22s elapsed; the baseline says 30s.
	remaining := engine.State().TimeRemaining
	assert.InDelta(t, 30, remaining, 1)
}

func TestLateWakeupsShortenNextDelay(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	clock.setLateness(20 * time.Millisecond)

	engine.Start()
	clock.Advance(time.Second)

	delays := clock.requestedDelays()
	require.Greater(t, len(delays), 3)
	assert.Equal(t, DefaultTickInterval, delays[0])
	for _, d := range delays[1:] {
		assert.Less(t, d, DefaultTickInterval)
		assert.GreaterOrEqual(t, d, DefaultTickInterval-maxDriftCorrection)
	}
}

func TestSetBreakMinutesWhileRunningKeepsRemaining(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	engine.Start()
	clock.Advance(10 * time.Second)
	require.True(t, engine.SetBreakMinutes(9))
	assert.Equal(t, 1490, engine.State().TimeRemaining)

	clock.Advance(1490 * time.Second)
	assert.Equal(t, 9*60, engine.State().TimeRemaining)
}

func TestSetFocusMinutesWhileRunningKeepsLeg(t *testing.T) {
	var legs []time.Duration
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      25,
		OnSessionComplete: func(_ int, leg time.Duration) { legs = append(legs, leg) },
	})

	engine.Start()
	clock.Advance(10 * time.Minute)
	require.True(t, engine.SetFocusMinutes(5))
	clock.Advance(200 * time.Millisecond)

	state := engine.State()
	assert.Equal(t, model.ModeFocus, state.Mode)
	assert.Equal(t, 15*60, state.TimeRemaining)
	assert.Empty(t, legs)

	// Pausing and resuming still counts down the original leg.
	engine.Pause()
	engine.Start()
	clock.Advance(15 * time.Minute)
	state = engine.State()
	assert.Equal(t, model.ModeBreak, state.Mode)
	assert.Equal(t, 1, state.SessionCount)
	assert.Equal(t, []time.Duration{25 * time.Minute}, legs)

	// The next focus leg picks up the new length.
	engine.Start()
	clock.Advance(5 * time.Minute)
	engine.Start()
	clock.Advance(5 * time.Minute)
	assert.Equal(t, []time.Duration{25 * time.Minute, 5 * time.Minute}, legs)
}

func TestSetBreakMinutesUpdatesIdleBreakDisplay(t *testing.T) {
	engine, clock := newTestEngine(t, Options{FocusMinutes: 1})
	engine.Start()
	clock.Advance(time.Minute)
	require.Equal(t, model.ModeBreak, engine.State().Mode)

	require.True(t, engine.SetFocusMinutes(40))
	assert.Equal(t, 5*60, engine.State().TimeRemaining)
	require.True(t, engine.SetBreakMinutes(7))
	assert.Equal(t, 7*60, engine.State().TimeRemaining)
}

func TestAutoAdvanceStartsNextLeg(t *testing.T) {
	calls := 0
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      1,
		BreakMinutes:      1,
		AutoAdvance:       true,
		OnSessionComplete: func(int, time.Duration) { calls++ },
	})

	engine.Start()
	clock.Advance(time.Minute)
	state := engine.State()
	assert.Equal(t, model.ModeBreak, state.Mode)
	assert.True(t, state.IsActive)

	clock.Advance(time.Minute)
	state = engine.State()
	assert.Equal(t, model.ModeFocus, state.Mode)
	assert.True(t, state.IsActive)

	clock.Advance(time.Minute)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, engine.State().SessionCount)
}

func TestLongBreakEveryNthSession(t *testing.T) {
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:           1,
		BreakMinutes:           1,
		LongBreakMinutes:       15,
		SessionsUntilLongBreak: 2,
		AutoAdvance:            true,
	})

	engine.Start()
	clock.Advance(time.Minute)
	state := engine.State()
	assert.False(t, state.LongBreak)
	assert.Equal(t, 60, state.TimeRemaining)

	clock.Advance(2 * time.Minute)
	state = engine.State()
	assert.Equal(t, model.ModeBreak, state.Mode)
	assert.True(t, state.LongBreak)
	assert.Equal(t, 15*60, state.TimeRemaining)
	assert.Equal(t, 2, state.SessionCount)
}

func TestCallbackPanicDoesNotStopEngine(t *testing.T) {
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      1,
		OnSessionComplete: func(int, time.Duration) { panic("listener exploded") },
	})

	engine.Start()
	assert.NotPanics(t, func() { clock.Advance(time.Minute) })
	assert.Equal(t, model.ModeBreak, engine.State().Mode)

	engine.Start()
	clock.Advance(5 * time.Minute)
	assert.Equal(t, model.ModeFocus, engine.State().Mode)
}

type panickingRecorder struct{ calls atomic.Int32 }

func (r *panickingRecorder) Observe(time.Duration) {
	r.calls.Add(1)
	panic("recorder broken")
}

func TestTickFailureKeepsCountingDown(t *testing.T) {
	recorder := &panickingRecorder{}
	completed := 0
	engine, clock := newTestEngine(t, Options{
		FocusMinutes:      1,
		Recorder:          recorder,
		OnSessionComplete: func(int, time.Duration) { completed++ },
	})

	engine.Start()
	clock.Advance(30 * time.Second)
	assert.Equal(t, 30, engine.State().TimeRemaining)
	assert.Greater(t, recorder.calls.Load(), int32(100))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, completed)
	assert.Equal(t, model.ModeBreak, engine.State().Mode)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	engine, clock := newTestEngine(t, Options{FocusMinutes: 1})
	updates := engine.Subscribe(256)

	engine.Start()
	clock.Advance(time.Minute)
	engine.Close()

	var kinds []UpdateKind
	for update := range updates {
		kinds = append(kinds, update.Kind)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, UpdateState, kinds[0])
	assert.Contains(t, kinds, UpdateTick)
	assert.Contains(t, kinds, UpdateSessionComplete)
	assert.Equal(t, UpdateState, kinds[len(kinds)-1])
}

func TestCompletionUpdatesCarryLegLength(t *testing.T) {
	engine, clock := newTestEngine(t, Options{FocusMinutes: 2, BreakMinutes: 1})
	updates := engine.Subscribe(4096)

	engine.Start()
	clock.Advance(2 * time.Minute)
	engine.Start()
	clock.Advance(time.Minute)
	engine.Close()

	var legs []Update
	for update := range updates {
		if update.Kind == UpdateSessionComplete || update.Kind == UpdateBreakComplete {
			legs = append(legs, update)
		}
	}
	require.Len(t, legs, 2)
	assert.Equal(t, UpdateSessionComplete, legs[0].Kind)
	assert.Equal(t, 120, legs[0].LegSeconds)
	assert.Equal(t, model.ModeBreak, legs[0].State.Mode)
	assert.Equal(t, UpdateBreakComplete, legs[1].Kind)
	assert.Equal(t, 60, legs[1].LegSeconds)
	assert.Equal(t, model.ModeFocus, legs[1].State.Mode)
}

func TestCloseStopsEngine(t *testing.T) {
	engine, clock := newTestEngine(t, Options{})
	engine.Start()
	engine.Close()
	assert.Zero(t, clock.pendingCount())

	engine.Start()
	assert.Equal(t, model.StatusIdle, engine.Status())

	ch := engine.Subscribe(1)
	_, open := <-ch
	assert.False(t, open)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "25:00", FormatRemaining(1500))
	assert.Equal(t, "00:00", FormatRemaining(-3))
	assert.Equal(t, "1:00:05", FormatRemaining(3605))
}
