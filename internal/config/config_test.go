package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

func TestLoad(t *testing.T) {
	// Clear environment
	envVars := []string{
		"HTTP_ADDR", "GRPC_ADDR", "TICK_INTERVAL", "TILE_SIZE", "CHANGE_THRESHOLD",
		"CAPTURE_TARGET", "MONITOR_REGION", "COUNTDOWN_SECONDS", "POLL_TIMEOUT",
		"SOUND_ENABLED", "AUTO_START", "TELEGRAM_API_URL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Check defaults
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.GRPCAddr != ":50061" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":50061")
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.TickInterval)
	}
	if cfg.TileSize != 100 {
		t.Errorf("TileSize = %d, want %d", cfg.TileSize, 100)
	}
	if cfg.ChangeThreshold != 10 {
		t.Errorf("ChangeThreshold = %f, want %f", cfg.ChangeThreshold, 10.0)
	}
	if cfg.CountdownSeconds != 20 {
		t.Errorf("CountdownSeconds = %d, want 20", cfg.CountdownSeconds)
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want 30s", cfg.PollTimeout)
	}
	if cfg.CaptureTarget != nil || cfg.MonitorRegion != nil {
		t.Error("regions should default to nil")
	}
	if !cfg.SoundEnabled {
		t.Error("SoundEnabled should default to true")
	}
	if cfg.AutoStart {
		t.Error("AutoStart should default to false")
	}
	if cfg.TelegramAPIURL != "https://api.telegram.org" {
		t.Errorf("TelegramAPIURL = %q", cfg.TelegramAPIURL)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("TILE_SIZE", "64")
	t.Setenv("CHANGE_THRESHOLD", "12.5")
	t.Setenv("MONITOR_REGION", "10,20,300,200")
	t.Setenv("CAPTURE_TARGET", "garbage")
	t.Setenv("SOUND_ENABLED", "false")
	t.Setenv("AUTO_START", "1")
	t.Setenv("TELEGRAM_API_URL", "http://localhost:8081/")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %v, want 250ms", cfg.TickInterval)
	}
	if cfg.TileSize != 64 {
		t.Errorf("TileSize = %d, want 64", cfg.TileSize)
	}
	if cfg.ChangeThreshold != 12.5 {
		t.Errorf("ChangeThreshold = %f, want 12.5", cfg.ChangeThreshold)
	}
	want := frame.Region{Left: 10, Top: 20, Width: 300, Height: 200}
	if cfg.MonitorRegion == nil || *cfg.MonitorRegion != want {
		t.Errorf("MonitorRegion = %v, want %v", cfg.MonitorRegion, want)
	}
	if cfg.CaptureTarget != nil {
		t.Error("invalid CAPTURE_TARGET should be ignored")
	}
	if cfg.SoundEnabled {
		t.Error("SoundEnabled should be false")
	}
	if !cfg.AutoStart {
		t.Error("AutoStart should be true")
	}
	if cfg.TelegramAPIURL != "http://localhost:8081" {
		t.Errorf("TelegramAPIURL = %q, trailing slash should be trimmed", cfg.TelegramAPIURL)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if v := getEnv("TEST_STRING", "default"); v != "hello" {
		t.Errorf("getEnv = %q, want %q", v, "hello")
	}
	if v := getEnv("NONEXISTENT", "default"); v != "default" {
		t.Errorf("getEnv = %q, want %q", v, "default")
	}

	t.Setenv("TEST_INT_INVALID", "not-a-number")
	if v := getEnvInt("TEST_INT_INVALID", 100); v != 100 {
		t.Errorf("getEnvInt with invalid = %d, want %d", v, 100)
	}

	t.Setenv("TEST_DURATION_NEG", "-5s")
	if v := getEnvDuration("TEST_DURATION_NEG", time.Second); v != time.Second {
		t.Errorf("getEnvDuration with negative = %v, want 1s", v)
	}

	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_FALSE", "false")
	if !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool should return true for '1'")
	}
	if getEnvBool("TEST_BOOL_FALSE", true) {
		t.Error("getEnvBool should return false for 'false'")
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_config.json")

	c, err := LoadCredentials(path)
	if err != nil || c != nil {
		t.Fatalf("missing file = %v, %v, want nil, nil", c, err)
	}

	if err := SaveCredentials(path, Credentials{BotToken: " 123:abc ", ChatID: "42"}); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	c, err = LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if c.BotToken != "123:abc" || c.ChatID != "42" {
		t.Errorf("credentials = %+v", c)
	}

	if err := RemoveCredentials(path); err != nil {
		t.Fatalf("RemoveCredentials: %v", err)
	}
	if err := RemoveCredentials(path); err != nil {
		t.Errorf("removing twice: %v", err)
	}
}

func TestSaveCredentialsRequiresBothFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	err := SaveCredentials(path, Credentials{BotToken: "x"})
	if !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestLoadCredentialsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad json":      "{",
		"missing field": `{"bot_token":"x"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadCredentials(path); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
				t.Errorf("err = %v, want ConfigInvalid", err)
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadSettings(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if s != DefaultSettings() {
		t.Errorf("missing file = %+v, want defaults", s)
	}

	path := filepath.Join(dir, "alert_settings.yaml")
	body := "min_change_percent: 5\ncooldown_period: 1.5\ntelegram_alerts: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.MinChangePercent != 5 || s.TelegramAlerts {
		t.Errorf("settings = %+v", s)
	}
	if !s.NotificationSound || !s.DesktopNotifications {
		t.Error("unset fields should keep defaults")
	}
	if s.Cooldown() != 1500*time.Millisecond {
		t.Errorf("Cooldown() = %v, want 1.5s", s.Cooldown())
	}
}

func TestLoadSettingsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_settings.json")
	body := `{"min_change_percent": 2, "notification_sound": false}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.MinChangePercent != 2 || s.NotificationSound {
		t.Errorf("settings = %+v", s)
	}
}

func TestLoadSettingsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte("min_change_percent: 150\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("err = %v, want ConfigInvalid", err)
	}
	if s != DefaultSettings() {
		t.Error("invalid file should fall back to defaults")
	}
}
