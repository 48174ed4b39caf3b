package app

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestfocus/internal/config"
	"forestfocus/internal/event"
	"forestfocus/internal/ipc"
	"forestfocus/internal/model"
	"forestfocus/internal/storage/filestore"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabasePath: filepath.Join(dir, "forestfocus.db"),
		SocketPath:   filepath.Join(dir, "ff.sock"),
		Storage: config.StorageConfig{
			Backend:          backend,
			FilePath:         filepath.Join(dir, "forestfocus.yaml"),
			Namespace:        "forestfocus-",
			RecoveryInterval: 30 * time.Second,
			WatchInterval:    time.Second,
		},
		Timer: config.TimerConfig{
			FocusMinutes:           25,
			BreakMinutes:           5,
			LongBreakMinutes:       15,
			SessionsUntilLongBreak: 4,
			TickInterval:           100 * time.Millisecond,
		},
	}
}

func newTestApp(t *testing.T, backend string) *App {
	t.Helper()
	a, err := NewApp(testConfig(t, backend))
	require.NoError(t, err)
	t.Cleanup(a.cleanup)
	return a
}

func TestPing(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)
	resp := a.processCommand(ipc.Command{Name: ipc.CmdPing})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)
}

func TestUnknownCommand(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)
	resp := a.processCommand(ipc.Command{Name: "launch_rockets"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Unknown command")
}

func TestTimerCommands(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdTimerPause})
	assert.False(t, resp.Success, "pausing an idle timer")

	resp = a.processCommand(ipc.Command{Name: ipc.CmdTimerStart})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, model.StatusRunning, a.engine.Status())

	resp = a.processCommand(ipc.Command{Name: ipc.CmdTimerPause})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, model.StatusPaused, a.engine.Status())

	resp = a.processCommand(ipc.Command{Name: ipc.CmdTimerReset})
	require.True(t, resp.Success)
	state, ok := resp.Data.(model.TimerState)
	require.True(t, ok)
	assert.Equal(t, model.StatusIdle, state.Status())
	assert.Equal(t, model.ModeFocus, state.Mode)
	assert.Equal(t, 25*60, state.TimeRemaining)
}

func TestConfigSetUpdatesEngineAndStorage(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: map[string]interface{}{"focus_minutes": 50}})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, 50, a.settings.Config().FocusMinutes)
	assert.Equal(t, 5, a.settings.Config().BreakMinutes)
	assert.Equal(t, 50*60, a.engine.State().TimeRemaining)

	raw, ok, err := a.backend.Get("forestfocus-timer-config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"focusTime":50`)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdConfigGet})
	require.True(t, resp.Success)
	assert.Equal(t, 50, resp.Data.(model.TimerConfig).FocusMinutes)
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: map[string]interface{}{"break_minutes": 0}})
	assert.False(t, resp.Success)
	resp = a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: map[string]interface{}{"focus_minutes": 121}})
	assert.False(t, resp.Success)
	resp = a.processCommand(ipc.Command{Name: ipc.CmdConfigSet})
	assert.False(t, resp.Success)
	resp = a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: "not an object"})
	assert.False(t, resp.Success)

	assert.Equal(t, model.DefaultTimerConfig(), a.settings.Config())
	assert.Equal(t, 25*60, a.engine.State().TimeRemaining)
}

func TestSessionCompleteRecordsStatsAndEvent(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	a.onSessionComplete(1, 25*time.Minute)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdStatsGet})
	require.True(t, resp.Success)
	stats := resp.Data.(model.SessionStats)
	assert.Equal(t, 1, stats.CompletedSessions)
	assert.Equal(t, 25.0, stats.TotalFocusMinutes)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, model.DefaultDailyGoal, stats.DailyGoal)

	select {
	case e := <-a.eventChan:
		assert.Equal(t, event.EventTypeSessionComplete, e.Type)
		assert.Equal(t, "focus", e.Mode)
		assert.Equal(t, 25.0, e.Value)
	default:
		t.Fatal("expected a session_complete event")
	}

	resp = a.processCommand(ipc.Command{Name: ipc.CmdStatsReset})
	require.True(t, resp.Success)
	assert.Equal(t, 0, a.stats.Stats().CompletedSessions)
	assert.Equal(t, event.EventTypeStatsReset, (<-a.eventChan).Type)
}

func TestSessionCompleteCreditsLegLength(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: ipc.ConfigSetArgs{FocusMinutes: intPtr(5)}})
	require.True(t, resp.Success, resp.Message)

	// The leg started before the change, at the old length.
	a.onSessionComplete(1, 25*time.Minute)

	assert.Equal(t, 25.0, a.stats.Stats().TotalFocusMinutes)
	e := <-a.eventChan
	assert.Equal(t, event.EventTypeSessionComplete, e.Type)
	assert.Equal(t, 25.0, e.Value)
}

func TestStatusReportsEverything(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdStatus})
	require.True(t, resp.Success)
	status, ok := resp.Data.(ipc.StatusData)
	require.True(t, ok)
	assert.Equal(t, model.StatusIdle, status.Status)
	assert.Equal(t, "25:00", status.Remaining)
	assert.Equal(t, model.DefaultTimerConfig(), status.Config)
	assert.True(t, status.StorageAvailable)
	assert.Empty(t, status.StorageWarnings)
}

func TestHistoryReturnsLoggedEvents(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)
	ctx := context.Background()

	now := time.Now()
	_, err := a.events.SaveEvent(ctx, event.Event{Timestamp: now.Add(-time.Hour), Type: event.EventTypeSessionComplete, Mode: "focus", Value: 25})
	require.NoError(t, err)
	_, err = a.events.SaveEvent(ctx, event.Event{Timestamp: now.AddDate(0, 0, -10), Type: event.EventTypeSessionComplete, Mode: "focus", Value: 25})
	require.NoError(t, err)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdHistory, Args: ipc.HistoryArgs{Days: 1}})
	require.True(t, resp.Success, resp.Message)
	assert.Len(t, resp.Data.(ipc.HistoryData).Events, 1)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdHistory, Args: map[string]interface{}{"days": 30}})
	require.True(t, resp.Success, resp.Message)
	assert.Len(t, resp.Data.(ipc.HistoryData).Events, 2)
}

func TestSQLiteBackendPersistsConfig(t *testing.T) {
	a := newTestApp(t, config.BackendSQLite)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: ipc.ConfigSetArgs{BreakMinutes: intPtr(10)}})
	require.True(t, resp.Success, resp.Message)

	raw, ok, err := a.events.Get("forestfocus-timer-config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"breakTime":10`)
}

func TestFileBackendPersistsStats(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(a.cleanup)

	a.onSessionComplete(1, 25*time.Minute)

	store := filestore.New(afero.NewOsFs(), cfg.Storage.FilePath, 0)
	raw, ok, err := store.Get("forestfocus-session-data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"completedSessions":1`)
}

func TestSocketRoundTrip(t *testing.T) {
	a := newTestApp(t, config.BackendMemory)
	require.NoError(t, a.setupSocket())
	a.wg.Go(a.listenForCommands)

	conn, err := net.DialTimeout("unix", a.socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(ipc.Command{Name: ipc.CmdPing}))
	var resp ipc.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	// A second instance must refuse the live socket.
	other, err := NewApp(testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	other.socketPath = a.socketPath
	assert.Error(t, other.setupSocket())
	other.cleanup()

	a.Shutdown()
	require.NoError(t, a.listener.Close())
	a.wg.Wait()
}

func intPtr(n int) *int { return &n }
