package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"forestfocus/internal/model"
)

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

type TimerConfig struct {
	FocusMinutes           int           `mapstructure:"focus_minutes"`
	BreakMinutes           int           `mapstructure:"break_minutes"`
	LongBreakMinutes       int           `mapstructure:"long_break_minutes"`
	SessionsUntilLongBreak int           `mapstructure:"sessions_until_long_break"`
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	AutoAdvance            bool          `mapstructure:"auto_advance"`
}

type StorageConfig struct {
	Backend          string        `mapstructure:"backend"` // "sqlite", "file" or "memory"
	FilePath         string        `mapstructure:"file_path"`
	Namespace        string        `mapstructure:"namespace"`
	QuotaBytes       int64         `mapstructure:"quota_bytes"` // 0 means unlimited
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	WatchInterval    time.Duration `mapstructure:"watch_interval"`
}

type Config struct {
	DatabasePath string        `mapstructure:"database_path"`
	SocketPath   string        `mapstructure:"socket_path"`
	Storage      StorageConfig `mapstructure:"storage"`
	Timer        TimerConfig   `mapstructure:"timer"`
}

// Defaults returns the timer section as the initial persisted configuration.
func (t TimerConfig) Defaults() model.TimerConfig {
	return model.TimerConfig{
		FocusMinutes:           t.FocusMinutes,
		BreakMinutes:           t.BreakMinutes,
		LongBreakMinutes:       t.LongBreakMinutes,
		SessionsUntilLongBreak: t.SessionsUntilLongBreak,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "forestfocus.db")
	v.SetDefault("socket_path", "/tmp/forestfocus.sock")
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.file_path", "forestfocus.yaml")
	v.SetDefault("storage.namespace", "forestfocus-")
	v.SetDefault("storage.quota_bytes", 5*1024*1024)
	v.SetDefault("storage.recovery_interval", 30*time.Second)
	v.SetDefault("storage.watch_interval", time.Second)
	v.SetDefault("timer.focus_minutes", model.DefaultFocusMinutes)
	v.SetDefault("timer.break_minutes", model.DefaultBreakMinutes)
	v.SetDefault("timer.long_break_minutes", model.DefaultLongBreakMinutes)
	v.SetDefault("timer.sessions_until_long_break", model.DefaultSessionsUntilLongBreak)
	v.SetDefault("timer.tick_interval", 100*time.Millisecond)
	v.SetDefault("timer.auto_advance", false)
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/forestfocus")
		v.AddConfigPath("/etc/forestfocus/")
	}

	v.SetEnvPrefix("FORESTFOCUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

// validate rejects timer lengths outside the accepted range and repairs
// everything else with a warning.
func (c *Config) validate() error {
	if err := c.Timer.Defaults().Validate(); err != nil {
		return fmt.Errorf("invalid timer config: %w", err)
	}
	if c.Timer.SessionsUntilLongBreak < 0 {
		return fmt.Errorf("invalid timer config: sessions_until_long_break cannot be negative")
	}
	if c.Timer.TickInterval < 10*time.Millisecond {
		log.Printf("Warning: timer.tick_interval %s too low, setting to 100ms", c.Timer.TickInterval)
		c.Timer.TickInterval = 100 * time.Millisecond
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		log.Printf("Warning: invalid storage.backend '%s', defaulting to '%s'", c.Storage.Backend, BackendSQLite)
		c.Storage.Backend = BackendSQLite
	}
	if c.Storage.Namespace == "" {
		log.Println("Warning: storage.namespace empty, using 'forestfocus-'")
		c.Storage.Namespace = "forestfocus-"
	}
	if c.Storage.QuotaBytes < 0 {
		log.Println("Warning: storage.quota_bytes negative, disabling quota")
		c.Storage.QuotaBytes = 0
	}
	if c.Storage.RecoveryInterval < time.Second {
		log.Printf("Warning: storage.recovery_interval %s too low, setting to 1s", c.Storage.RecoveryInterval)
		c.Storage.RecoveryInterval = time.Second
	}
	if c.Storage.WatchInterval <= 0 {
		c.Storage.WatchInterval = time.Second
	}
	if c.SocketPath == "" {
		c.SocketPath = "/tmp/forestfocus.sock"
	}
	return nil
}
