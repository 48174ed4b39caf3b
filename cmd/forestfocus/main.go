package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"forestfocus/internal/ipc"
	"forestfocus/internal/model"
	"forestfocus/internal/timer"
)

var (
	socketPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "forestfocus",
	Short: "CLI tool to control the forestfocusd focus timer",
	Long:  `A command-line interface to start, pause and reset the focus timer, change its configuration and read session statistics from the running forestfocusd daemon via its Unix socket.`,
}

// --- Client Helper Functions ---

func request(cmd ipc.Command) (ipc.Response, error) {
	var resp ipc.Response
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return resp, fmt.Errorf("connecting to daemon socket (%s): %w\nIs forestfocusd running?", socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return resp, fmt.Errorf("sending command: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("receiving response: %w", err)
	}
	return resp, nil
}

// sendCommand sends cmd and exits non-zero when the daemon reports failure.
func sendCommand(cmd ipc.Command) ipc.Response {
	resp, err := request(cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	return resp
}

// printResponse prints the message and pretty-printed data.
func printResponse(resp ipc.Response) {
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if resp.Data != nil {
		prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
		if err == nil {
			fmt.Println(string(prettyData))
		} else {
			fmt.Println("Data (raw):", resp.Data)
		}
	}
}

func decodeData(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if forestfocusd is running",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(sendCommand(ipc.Command{Name: ipc.CmdPing}))
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start or resume the current leg",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(sendCommand(ipc.Command{Name: ipc.CmdTimerStart}).Message)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running timer",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(sendCommand(ipc.Command{Name: ipc.CmdTimerPause}).Message)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop the timer and return to a fresh focus leg",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(sendCommand(ipc.Command{Name: ipc.CmdTimerReset}).Message)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer, configuration and statistics",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdStatus})
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			printResponse(resp)
			return
		}
		var status ipc.StatusData
		if err := decodeData(resp.Data, &status); err != nil {
			log.Fatalf("Error decoding status: %v", err)
		}
		fmt.Print(formatStatus(status))
	},
}

func formatStatus(s ipc.StatusData) string {
	mode := string(s.Timer.Mode)
	if s.Timer.LongBreak {
		mode = "long break"
	}
	out := fmt.Sprintf("%s %s (%s)\n", mode, timer.FormatRemaining(s.Timer.TimeRemaining), s.Status)
	out += fmt.Sprintf("Focus %d min, break %d min\n", s.Config.FocusMinutes, s.Config.BreakMinutes)
	out += fmt.Sprintf("Sessions this run: %d\n", s.Timer.SessionCount)
	out += fmt.Sprintf("Completed: %d/%d, %.0f focus minutes, streak %d\n",
		s.Stats.CompletedSessions, s.Stats.DailyGoal, s.Stats.TotalFocusMinutes, s.Stats.CurrentStreak)
	if !s.StorageAvailable {
		out += "Warning: storage unavailable, data is kept in memory only\n"
	}
	for _, w := range s.StorageWarnings {
		out += fmt.Sprintf("Warning: %s: [%s] %s\n", w.Record, w.Error.Kind, w.Error.Message)
	}
	return out
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the timer configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the timer configuration",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdConfigGet})
		var cfg model.TimerConfig
		if err := decodeData(resp.Data, &cfg); err != nil {
			log.Fatalf("Error decoding config: %v", err)
		}
		fmt.Printf("Focus: %d min\nBreak: %d min\n", cfg.FocusMinutes, cfg.BreakMinutes)
		if cfg.LongBreakMinutes > 0 && cfg.SessionsUntilLongBreak > 0 {
			fmt.Printf("Long break: %d min every %d sessions\n", cfg.LongBreakMinutes, cfg.SessionsUntilLongBreak)
		}
		if resp.Message != "" {
			fmt.Println(resp.Message)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change focus and/or break minutes (1-120)",
	RunE: func(cmd *cobra.Command, args []string) error {
		setArgs, err := configSetArgs(cmd)
		if err != nil {
			return err
		}
		fmt.Println(sendCommand(ipc.Command{Name: ipc.CmdConfigSet, Args: setArgs}).Message)
		return nil
	},
}

// configSetArgs validates the flags locally before anything is sent.
func configSetArgs(cmd *cobra.Command) (ipc.ConfigSetArgs, error) {
	var setArgs ipc.ConfigSetArgs
	if cmd.Flags().Changed("focus") {
		n, _ := cmd.Flags().GetInt("focus")
		if err := model.ValidateMinutes(n); err != nil {
			return setArgs, fmt.Errorf("--focus: %w", err)
		}
		setArgs.FocusMinutes = &n
	}
	if cmd.Flags().Changed("break") {
		n, _ := cmd.Flags().GetInt("break")
		if err := model.ValidateMinutes(n); err != nil {
			return setArgs, fmt.Errorf("--break: %w", err)
		}
		setArgs.BreakMinutes = &n
	}
	if setArgs.FocusMinutes == nil && setArgs.BreakMinutes == nil {
		return setArgs, fmt.Errorf("set at least one of --focus or --break")
	}
	return setArgs, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Session statistics",
}

var statsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show completed sessions, focus minutes and streak",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdStatsGet})
		var stats model.SessionStats
		if err := decodeData(resp.Data, &stats); err != nil {
			log.Fatalf("Error decoding stats: %v", err)
		}
		fmt.Printf("Completed sessions: %d (daily goal %d)\n", stats.CompletedSessions, stats.DailyGoal)
		fmt.Printf("Focus time: %.0f min\n", stats.TotalFocusMinutes)
		fmt.Printf("Streak: %d\n", stats.CurrentStreak)
		if last, ok := stats.LastSession(); ok {
			fmt.Printf("Last session: %s\n", last.Local().Format("2006-01-02 15:04"))
		}
		if resp.Message != "" {
			fmt.Println(resp.Message)
		}
	},
}

var statsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the session statistics",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(sendCommand(ipc.Command{Name: ipc.CmdStatsReset}).Message)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List logged session events",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		resp := sendCommand(ipc.Command{Name: ipc.CmdHistory, Args: ipc.HistoryArgs{Days: days}})
		var history ipc.HistoryData
		if err := decodeData(resp.Data, &history); err != nil {
			log.Fatalf("Error decoding history: %v", err)
		}
		fmt.Println(resp.Message)
		for _, e := range history.Events {
			line := fmt.Sprintf("%s  %-16s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type)
			if e.Mode != "" {
				line += fmt.Sprintf(" %-5s %5.1f min", e.Mode, e.Value)
			}
			if e.Notes != "" {
				line += "  " + e.Notes
			}
			fmt.Println(line)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.SocketPath, "Path to the forestfocusd control socket")

	statusCmd.Flags().Bool("json", false, "Print the raw status document")

	configSetCmd.Flags().IntP("focus", "f", 0, "Focus minutes (1-120)")
	configSetCmd.Flags().IntP("break", "b", 0, "Break minutes (1-120)")
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	statsCmd.AddCommand(statsShowCmd)
	statsCmd.AddCommand(statsResetCmd)

	historyCmd.Flags().IntP("days", "d", 7, "Number of past days to list")

	reportCmd.PersistentFlags().StringVar(&dbPath, "db", "forestfocus.db", "Path to the forestfocusd database file")
	reportCmd.Flags().IntP("days", "d", 7, "Number of past days to include in the report")

	rootCmd.AddCommand(pingCmd, startCmd, pauseCmd, resetCmd, statusCmd, configCmd, statsCmd, historyCmd, reportCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
