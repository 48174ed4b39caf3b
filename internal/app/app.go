package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"forestfocus/internal/config"
	"forestfocus/internal/event"
	"forestfocus/internal/ipc"
	"forestfocus/internal/metrics"
	"forestfocus/internal/model"
	"forestfocus/internal/persist"
	"forestfocus/internal/settings"
	"forestfocus/internal/stats"
	"forestfocus/internal/storage"
	"forestfocus/internal/storage/filestore"
	"forestfocus/internal/timer"

	sqlitestore "forestfocus/internal/storage/sqlite"
)

const defaultHistoryDays = 7

type App struct {
	cfg *config.Config

	// events is the session history log. With the sqlite backend it also
	// holds the persisted records.
	events   *sqlitestore.SQLiteStore
	backend  storage.Backend
	layer    *persist.Layer
	settings *settings.Store
	stats    *stats.Tracker
	engine   *timer.Engine
	drift    *metrics.DriftCollector

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// Communication channels
	eventChan     chan event.Event
	engineUpdates <-chan timer.Update
	configUpdates <-chan model.TimerConfig

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		eventChan:  make(chan event.Event, 100),
		socketPath: cfg.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.SocketPath
	}

	// Initialize Storage
	a.events = sqlitestore.NewSQLiteStore(cfg.DatabasePath,
		sqlitestore.WithQuota(cfg.Storage.QuotaBytes),
		sqlitestore.WithPollInterval(cfg.Storage.WatchInterval))
	if err := a.events.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.backend = a.openBackend()

	a.layer = persist.NewLayer(a.backend, persist.Options{
		Namespace:        cfg.Storage.Namespace,
		RecoveryInterval: cfg.Storage.RecoveryInterval,
	})
	if !a.layer.Available() {
		log.Printf("Warning: %s storage unavailable, settings and statistics are kept in memory only.", cfg.Storage.Backend)
	}
	a.settings = settings.NewStore(a.layer, cfg.Timer.Defaults())
	a.stats = stats.NewTracker(a.layer, stats.Options{})

	a.drift = metrics.NewDriftCollector()
	a.drift.Init()

	timerCfg := a.settings.Config()
	a.engine = timer.New(timer.Options{
		FocusMinutes:           timerCfg.FocusMinutes,
		BreakMinutes:           timerCfg.BreakMinutes,
		LongBreakMinutes:       timerCfg.LongBreakMinutes,
		SessionsUntilLongBreak: timerCfg.SessionsUntilLongBreak,
		TickInterval:           cfg.Timer.TickInterval,
		AutoAdvance:            cfg.Timer.AutoAdvance,
		OnSessionComplete:      a.onSessionComplete,
		Recorder:               a.drift,
	})
	a.engineUpdates = a.engine.Subscribe(64)
	a.configUpdates = a.settings.Subscribe(8)

	return a, nil
}

func (a *App) openBackend() storage.Backend {
	switch a.cfg.Storage.Backend {
	case config.BackendFile:
		log.Printf("Persisting records to file: %s", a.cfg.Storage.FilePath)
		return filestore.New(afero.NewOsFs(), a.cfg.Storage.FilePath, int(a.cfg.Storage.QuotaBytes))
	case config.BackendMemory:
		log.Println("Persisting records in memory only.")
		return storage.NewMemoryBackend(int(a.cfg.Storage.QuotaBytes))
	default:
		return a.events
	}
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			// Connection successful - another instance is likely running
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	if a.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				log.Println("Listener closing due to context cancellation.")
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				log.Println("Listener closed, stopping.")
				return
			}
			log.Printf("Failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)
	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdTimerStart:
		a.engine.Start()
		state := a.engine.State()
		if !state.IsActive {
			return ipc.Response{Success: false, Message: "Timer could not be started", Data: state}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("%s started, %s remaining", state.Mode, timer.FormatRemaining(state.TimeRemaining)), Data: state}

	case ipc.CmdTimerPause:
		if a.engine.Status() != model.StatusRunning {
			return ipc.Response{Success: false, Message: "Timer is not running"}
		}
		a.engine.Pause()
		state := a.engine.State()
		return ipc.Response{Success: true, Message: fmt.Sprintf("Paused with %s remaining", timer.FormatRemaining(state.TimeRemaining)), Data: state}

	case ipc.CmdTimerReset:
		a.engine.Reset()
		return ipc.Response{Success: true, Message: "Timer reset", Data: a.engine.State()}

	case ipc.CmdStatus:
		return ipc.Response{Success: true, Data: a.status()}

	case ipc.CmdConfigGet:
		return ipc.Response{Success: true, Data: a.settings.Config(), Message: a.storageMessage()}

	case ipc.CmdConfigSet:
		var args ipc.ConfigSetArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.FocusMinutes == nil && args.BreakMinutes == nil {
			return ipc.Response{Success: false, Message: "Nothing to change: set focus and/or break minutes"}
		}
		cfg := a.settings.Config()
		if args.FocusMinutes != nil {
			cfg.FocusMinutes = *args.FocusMinutes
		}
		if args.BreakMinutes != nil {
			cfg.BreakMinutes = *args.BreakMinutes
		}
		if err := a.settings.Save(cfg); err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		a.applyConfig(a.settings.Config())
		msg := fmt.Sprintf("Focus %d min, break %d min", cfg.FocusMinutes, cfg.BreakMinutes)
		if warning := a.storageMessage(); warning != "" {
			msg += " (" + warning + ")"
		}
		return ipc.Response{Success: true, Message: msg, Data: a.settings.Config()}

	case ipc.CmdStatsGet:
		return ipc.Response{Success: true, Data: a.stats.Stats(), Message: a.storageMessage()}

	case ipc.CmdStatsReset:
		a.stats.Reset()
		a.queueEvent(event.Event{Timestamp: time.Now(), Type: event.EventTypeStatsReset})
		return ipc.Response{Success: true, Message: "Statistics reset", Data: a.stats.Stats()}

	case ipc.CmdHistory:
		var args ipc.HistoryArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Days <= 0 {
			args.Days = defaultHistoryDays
		}
		end := time.Now()
		start := end.AddDate(0, 0, -args.Days)
		events, err := a.events.GetEvents(a.ctx, start, end)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to read history: %v", err)}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("%d events in the last %d days", len(events), args.Days), Data: ipc.HistoryData{Events: events}}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) status() ipc.StatusData {
	state := a.engine.State()
	return ipc.StatusData{
		Timer:            state,
		Status:           state.Status(),
		Remaining:        timer.FormatRemaining(state.TimeRemaining),
		Config:           a.settings.Config(),
		Stats:            a.stats.Stats(),
		Drift:            a.drift.Snapshot(),
		StorageAvailable: a.layer.Available(),
		StorageWarnings:  a.storageWarnings(),
	}
}

func (a *App) storageWarnings() []ipc.StorageWarning {
	var warnings []ipc.StorageWarning
	if err := a.settings.Err(); err != nil {
		warnings = append(warnings, ipc.StorageWarning{Record: settings.RecordName, Error: err})
	}
	if err := a.stats.Err(); err != nil {
		warnings = append(warnings, ipc.StorageWarning{Record: stats.RecordName, Error: err})
	}
	return warnings
}

func (a *App) storageMessage() string {
	if !a.layer.Available() {
		return "storage unavailable, changes are kept in memory only"
	}
	if warnings := a.storageWarnings(); len(warnings) > 0 {
		return "storage warning: " + warnings[0].Error.Message
	}
	return ""
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

// onSessionComplete runs on the engine's wake-up goroutine after each focus
// leg. The leg is credited with the length it started with, not the current
// configuration.
func (a *App) onSessionComplete(sessionCount int, leg time.Duration) {
	minutes := leg.Minutes()
	data := a.stats.RecordCompletion(model.ModeFocus, minutes)
	if err := a.stats.Err(); err != nil {
		log.Printf("Warning: session %d kept in memory only: %v", sessionCount, err)
	}
	a.queueEvent(event.Event{
		Timestamp: time.Now(),
		Type:      event.EventTypeSessionComplete,
		Mode:      string(model.ModeFocus),
		Value:     minutes,
		Notes:     fmt.Sprintf("Session %d, %d completed in total", sessionCount, data.CompletedSessions),
	})
}

func (a *App) queueEvent(e event.Event) {
	select {
	case a.eventChan <- e:
	case <-a.ctx.Done():
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Timeout queueing event (Type: %s)", e.Type)
	}
}

// applyConfig pushes a stored configuration into the running engine.
func (a *App) applyConfig(cfg model.TimerConfig) {
	a.engine.SetFocusMinutes(cfg.FocusMinutes)
	a.engine.SetBreakMinutes(cfg.BreakMinutes)
	a.engine.SetLongBreak(cfg.LongBreakMinutes, cfg.SessionsUntilLongBreak)
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting ForestFocus daemon...")
	log.Printf("Config: %+v", a.cfg)

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()

	a.wg.Go(a.processEvents)
	a.wg.Go(a.mainLoop)
	a.wg.Go(a.listenForCommands)
	a.wg.Go(func() { a.layer.RunRecovery(a.ctx) })
	a.wg.Go(a.watchStorage)

	a.queueEvent(event.Event{Timestamp: time.Now(), Type: event.EventTypeAppStart})

	log.Println("ForestFocus daemon running. Send commands via forestfocus or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Close the listener before waiting so accept() returns
	if a.listener != nil {
		log.Println("Closing command socket listener...")
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	log.Println("ForestFocus daemon finished.")
	return nil
}

// watchStorage republishes records changed by other processes.
func (a *App) watchStorage() {
	err := a.layer.Watch(a.ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrWatchUnsupported):
		log.Printf("External change detection not supported by %s backend.", a.cfg.Storage.Backend)
	default:
		log.Printf("Storage watch stopped: %v", err)
	}
}

// mainLoop reacts to engine updates and configuration changes
func (a *App) mainLoop() {
	defer log.Println("Main application loop stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case update, ok := <-a.engineUpdates:
			if !ok {
				return
			}
			a.handleUpdate(update)
		case cfg, ok := <-a.configUpdates:
			if !ok {
				return
			}
			log.Printf("Timer configuration changed: focus %d min, break %d min", cfg.FocusMinutes, cfg.BreakMinutes)
			a.applyConfig(cfg.Sanitize(a.cfg.Timer.Defaults()))
		}
	}
}

func (a *App) handleUpdate(update timer.Update) {
	switch update.Kind {
	case timer.UpdateSessionComplete:
		a.notify(event.Notification{
			Title:   "Focus session complete",
			Message: fmt.Sprintf("Session %d done. Break for %s.", update.State.SessionCount, timer.FormatRemaining(update.State.TimeRemaining)),
		})
	case timer.UpdateBreakComplete:
		a.notify(event.Notification{Title: "Break over", Message: "Ready for the next focus session."})
		a.queueEvent(event.Event{
			Timestamp: update.At,
			Type:      event.EventTypeBreakComplete,
			Mode:      string(model.ModeBreak),
			Value:     float64(update.LegSeconds) / 60,
		})
	case timer.UpdateState:
		log.Printf("Timer %s: %s, %s remaining", update.State.Status(), update.State.Mode, timer.FormatRemaining(update.State.TimeRemaining))
	}
}

func (a *App) notify(n event.Notification) {
	log.Printf("Notification: [%s] %s", n.Title, n.Message)
}

func (a *App) processEvents() {
	defer log.Println("Event processor stopped.")

	for {
		select {
		case <-a.ctx.Done():
			log.Println("Event processor shutting down.")
			return
		case e := <-a.eventChan:
			a.saveEvent(a.ctx, e)
		}
	}
}

func (a *App) saveEvent(ctx context.Context, e event.Event) {
	if _, err := a.events.SaveEvent(ctx, e); err != nil {
		log.Printf("Error saving event (Type: %s): %v", e.Type, err)
		return
	}
	log.Printf("Event saved: Type=%s, Mode=%s, Notes=%s", e.Type, e.Mode, e.Notes)
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown stops a running daemon as if it had received SIGTERM.
func (a *App) Shutdown() {
	a.cancel()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")
	a.cancel()

	if a.engine != nil {
		a.engine.Close()
	}
	if a.drift != nil {
		a.drift.Close()
	}

	// Drain events queued before shutdown, then record the stop.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	for drained := false; !drained; {
		select {
		case e := <-a.eventChan:
			a.saveEvent(saveCtx, e)
		default:
			drained = true
		}
	}
	a.saveEvent(saveCtx, event.Event{Timestamp: time.Now(), Type: event.EventTypeAppStop})

	if a.settings != nil {
		a.settings.Close()
	}
	if a.stats != nil {
		a.stats.Close()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}

	if a.listener != nil {
		if _, err := os.Stat(a.socketPath); err == nil {
			log.Printf("Removing socket file: %s", a.socketPath)
			if err := os.Remove(a.socketPath); err != nil {
				log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
			}
		}
	}

	log.Println("Cleanup finished.")
}
