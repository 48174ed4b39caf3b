package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sevlyar/go-daemon"

	"forestfocus/internal/app"
	"forestfocus/internal/config"
)

var (
	// Define command-line flags
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/forestfocus/config.yaml, /etc/forestfocus/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, defaults to stderr)")
	daemonize  = flag.Bool("d", false, "Detach and run in the background")
	pidPath    = flag.String("pid", "forestfocusd.pid", "PID file used with -d")
)

// setupLogging configures the log output destination.
func setupLogging(logFilePath string) (*os.File, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if logFilePath == "" {
		log.SetOutput(os.Stderr) // Default: log to standard error
		log.Println("Logging to stderr")
		return nil, nil
	}

	// Ensure the directory for the log file exists
	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0750); err != nil { // Use 0750 for permissions
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	// Open the log file for appending, create if it doesn't exist
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(file)
	log.Printf("Logging to file: %s", logFilePath)
	return file, nil
}

func main() {

	// Parse the command-line flags provided by the user
	flag.Parse()

	// Detach before logging is set up so the child opens its own log file.
	// The child re-runs main with the same flags; the parent exits here.
	if *daemonize {
		cntxt := &daemon.Context{
			PidFileName: *pidPath,
			PidFilePerm: 0644,
			WorkDir:     "./",
			Umask:       027,
			Args:        os.Args,
		}
		child, err := cntxt.Reborn()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to daemonize: %v\n", err)
			os.Exit(1)
		}
		if child != nil {
			fmt.Printf("forestfocusd started in background (pid %d)\n", child.Pid)
			return
		}
		// Remove the PID file when the child exits
		defer cntxt.Release()
	}

	// Set up logging based on the -log flag
	logFile, logErr := setupLogging(*logPath)
	if logErr != nil {
		// If file logging fails, log the error to stderr and continue logging to stderr
		fmt.Fprintf(os.Stderr, "Error setting up file logging: %v. Logging to stderr instead.\n", logErr)
		log.SetOutput(os.Stderr)
	}
	// If a log file was successfully opened, ensure it's closed upon exit
	if logFile != nil {
		defer logFile.Close()
	}

	// Load the application configuration
	// Uses viper which checks env vars (FORESTFOCUS_*) and config files (./, ~/.config/forestfocus/, /etc/forestfocus/)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// Create the main application instance
	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to create application: %v", err)
	}

	// Run the application. This will block until the app exits (e.g., via Ctrl+C).
	if err := application.Run(); err != nil {
		// Log the error that caused the application to exit abnormally
		log.Fatalf("FATAL: Application exited with error: %v", err)
	}

	// Application exited gracefully
	log.Println("forestfocusd finished successfully.")
}
