package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
)

// Credentials identify the Telegram bot and the chat it reports to.
type Credentials struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.BotToken) != "" && strings.TrimSpace(c.ChatID) != ""
}

// LoadCredentials reads the credentials file. A missing file returns nil, nil.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "read %s", path)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse %s", path)
	}
	c.BotToken, c.ChatID = strings.TrimSpace(c.BotToken), strings.TrimSpace(c.ChatID)
	if !c.Valid() {
		return nil, apperrors.Newf(apperrors.ConfigInvalid, "%s: bot_token and chat_id are required", path)
	}
	return &c, nil
}

// SaveCredentials writes c to path with owner-only permissions.
func SaveCredentials(path string, c Credentials) error {
	c.BotToken, c.ChatID = strings.TrimSpace(c.BotToken), strings.TrimSpace(c.ChatID)
	if !c.Valid() {
		return apperrors.New(apperrors.InvalidArgument, "bot_token and chat_id are required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode credentials")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apperrors.Wrapf(err, apperrors.Internal, "write %s", path)
	}
	return nil
}

// RemoveCredentials deletes the credentials file. Removing a missing file is not an error.
func RemoveCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrapf(err, apperrors.Internal, "remove %s", path)
	}
	return nil
}

// Settings are the persisted alert preferences.
type Settings struct {
	MinChangePercent     float64 `yaml:"min_change_percent" json:"min_change_percent"`
	CooldownPeriod       float64 `yaml:"cooldown_period" json:"cooldown_period"` // seconds
	NotificationSound    bool    `yaml:"notification_sound" json:"notification_sound"`
	TelegramAlerts       bool    `yaml:"telegram_alerts" json:"telegram_alerts"`
	DesktopNotifications bool    `yaml:"desktop_notifications" json:"desktop_notifications"`
}

// DefaultSettings enables every alert channel with no gating.
func DefaultSettings() Settings {
	return Settings{
		NotificationSound:    true,
		TelegramAlerts:       true,
		DesktopNotifications: true,
	}
}

// Cooldown returns CooldownPeriod as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownPeriod * float64(time.Second))
}

// LoadSettings reads the settings file over the defaults. A missing file
// returns the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, apperrors.Wrapf(err, apperrors.ConfigInvalid, "read %s", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse %s", path)
	}
	if s.MinChangePercent < 0 || s.MinChangePercent > 100 {
		return DefaultSettings(), apperrors.Newf(apperrors.ConfigInvalid, "min_change_percent %v out of range", s.MinChangePercent)
	}
	if s.CooldownPeriod < 0 {
		return DefaultSettings(), apperrors.Newf(apperrors.ConfigInvalid, "cooldown_period %v is negative", s.CooldownPeriod)
	}
	return s, nil
}
