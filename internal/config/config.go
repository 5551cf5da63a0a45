// Package config handles service configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

type Config struct {
	HTTPAddr  string
	GRPCAddr  string
	LogLevel  string
	LogFormat string

	CaptureDisplay int
	CaptureTarget  *frame.Region // nil captures the whole display
	MonitorRegion  *frame.Region // nil monitors the whole capture

	TickInterval         time.Duration
	TileSize             int
	ChangeThreshold      float64
	CaptureTimeout       time.Duration
	FailureWarnThreshold int

	CountdownSeconds int

	PollTimeout          time.Duration
	PollRetryDelay       time.Duration
	CommandDrainInterval time.Duration

	CredentialsFile string
	SettingsFile    string
	TelegramAPIURL  string

	SoundEnabled bool
	AutoStart    bool
}

func Load() *Config {
	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:  getEnv("GRPC_ADDR", ":50061"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CaptureDisplay: getEnvInt("CAPTURE_DISPLAY", 0),
		CaptureTarget:  getEnvRegion("CAPTURE_TARGET"),
		MonitorRegion:  getEnvRegion("MONITOR_REGION"),

		TickInterval:         getEnvDuration("TICK_INTERVAL", time.Second),
		TileSize:             getEnvInt("TILE_SIZE", 100),
		ChangeThreshold:      getEnvFloat("CHANGE_THRESHOLD", 10),
		CaptureTimeout:       getEnvDuration("CAPTURE_TIMEOUT", 5*time.Second),
		FailureWarnThreshold: getEnvInt("FAILURE_WARN_THRESHOLD", 5),

		CountdownSeconds: getEnvInt("COUNTDOWN_SECONDS", 20),

		PollTimeout:          getEnvDuration("POLL_TIMEOUT", 30*time.Second),
		PollRetryDelay:       getEnvDuration("POLL_RETRY_DELAY", 5*time.Second),
		CommandDrainInterval: getEnvDuration("COMMAND_DRAIN_INTERVAL", time.Second),

		CredentialsFile: getEnv("CREDENTIALS_FILE", "telegram_config.json"),
		SettingsFile:    getEnv("SETTINGS_FILE", "alert_settings.yaml"),
		TelegramAPIURL:  strings.TrimRight(getEnv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),

		SoundEnabled: getEnvBool("SOUND_ENABLED", true),
		AutoStart:    getEnvBool("AUTO_START", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getEnvRegion(key string) *frame.Region {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	r, err := frame.ParseRegion(v)
	if err != nil {
		slog.Warn("ignoring invalid region", "env", key, "value", v, "error", err)
		return nil
	}
	return &r
}
