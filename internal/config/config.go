// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"github.com/soundwatch/noisemeter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort        = 8080
	DefaultSPLReference   = 94.0
	DefaultFloorDB        = 20.0
	DefaultCeilingDB      = 140.0
	DefaultUpdateRateHz   = 60
	DefaultAlertThreshold = 85.0
	DefaultAlertTriggerMs = 5000 // 5 seconds above threshold before alerting
	DefaultAlertRecoverMs = 3000 // 3 seconds below threshold before recovery
	DefaultHistoryLimit   = 500  // sessions kept before the oldest are pruned
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port       int    `json:"port"`        // HTTP server port
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	DataDir    string `json:"data_dir"`    // Directory for database and event log
}

// AudioConfig holds audio input settings.
type AudioConfig struct {
	Input string `json:"input"` // Audio input device identifier
}

// MeterConfig holds the level conversion parameters. The SPL reference is
// an empirical tunable, not a traceable calibration.
type MeterConfig struct {
	SPLReference float64 `json:"spl_reference"`  // dB added to 20*log10(rms)
	FloorDB      float64 `json:"floor_db"`       // Lowest displayable level
	CeilingDB    float64 `json:"ceiling_db"`     // Highest displayable level
	UpdateRateHz int     `json:"update_rate_hz"` // Maximum readings per second
}

// SessionConfig holds measurement session settings.
type SessionConfig struct {
	ExtendedSessions bool `json:"extended_sessions"` // Allow 300s sessions instead of 30s
	HistoryLimit     int  `json:"history_limit"`     // Max stored session summaries
}

// AlertConfig holds loud-environment alert thresholds and timing.
type AlertConfig struct {
	ThresholdDB float64 `json:"threshold_db"` // Level above which the alert arms
	TriggerMs   int64   `json:"trigger_ms"`   // Time above threshold before alerting
	RecoveryMs  int64   `json:"recovery_ms"`  // Time below threshold before recovery
	WebhookURL  string  `json:"webhook_url"`  // Webhook for alert notifications
}

// MQTTConfig holds optional reading/summary publishing settings.
// Username and password may also come from NOISEMETER_MQTT_USERNAME and
// NOISEMETER_MQTT_PASSWORD in the environment or a .env file.
type MQTTConfig struct {
	Broker       string `json:"broker"`        // e.g. tcp://localhost:1883, empty disables
	ClientID     string `json:"client_id"`     // MQTT client identifier
	Username     string `json:"username"`      // Broker username
	Password     string `json:"password"`      // Broker password
	ReadingTopic string `json:"reading_topic"` // Topic for periodic readings
	SummaryTopic string `json:"summary_topic"` // Topic for session summaries
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System  SystemConfig  `json:"system"`
	Audio   AudioConfig   `json:"audio"`
	Meter   MeterConfig   `json:"meter"`
	Session SessionConfig `json:"session"`
	Alert   AlertConfig   `json:"alert"`
	MQTT    MQTTConfig    `json:"mqtt"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:    DefaultWebPort,
			DataDir: filepath.Dir(filePath),
		},
		Meter: MeterConfig{
			SPLReference: DefaultSPLReference,
			FloorDB:      DefaultFloorDB,
			CeilingDB:    DefaultCeilingDB,
			UpdateRateHz: DefaultUpdateRateHz,
		},
		Session: SessionConfig{
			HistoryLimit: DefaultHistoryLimit,
		},
		Alert: AlertConfig{
			ThresholdDB: DefaultAlertThreshold,
			TriggerMs:   DefaultAlertTriggerMs,
			RecoveryMs:  DefaultAlertRecoverMs,
		},
		MQTT: MQTTConfig{
			ClientID:     "noisemeter",
			ReadingTopic: "noisemeter/reading",
			SummaryTopic: "noisemeter/summary",
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default one if none exists,
// then applies environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyEnvLocked()
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaultsLocked()
	c.applyEnvLocked()

	return c.validateLocked()
}

// applyEnvLocked merges broker credentials from the environment. A .env
// file next to the config is loaded first when present.
func (c *Config) applyEnvLocked() {
	envPath := filepath.Join(filepath.Dir(c.filePath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
	if v := os.Getenv("NOISEMETER_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("NOISEMETER_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// validateLocked checks all configuration fields for correctness.
func (c *Config) validateLocked() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if c.Meter.FloorDB >= c.Meter.CeilingDB {
		return fmt.Errorf("invalid meter range: floor %.1f must be below ceiling %.1f",
			c.Meter.FloorDB, c.Meter.CeilingDB)
	}
	if c.Meter.UpdateRateHz < 1 || c.Meter.UpdateRateHz > 240 {
		return fmt.Errorf("invalid update_rate_hz %d: must be 1-240", c.Meter.UpdateRateHz)
	}
	if c.Alert.ThresholdDB < c.Meter.FloorDB || c.Alert.ThresholdDB > c.Meter.CeilingDB {
		return fmt.Errorf("invalid alert threshold %.1f: must be within the meter range",
			c.Alert.ThresholdDB)
	}
	return nil
}

// applyDefaultsLocked sets default values for zero-value fields.
func (c *Config) applyDefaultsLocked() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.DataDir == "" {
		c.System.DataDir = filepath.Dir(c.filePath)
	}
	if c.Meter.SPLReference == 0 {
		c.Meter.SPLReference = DefaultSPLReference
	}
	if c.Meter.FloorDB == 0 {
		c.Meter.FloorDB = DefaultFloorDB
	}
	if c.Meter.CeilingDB == 0 {
		c.Meter.CeilingDB = DefaultCeilingDB
	}
	if c.Meter.UpdateRateHz == 0 {
		c.Meter.UpdateRateHz = DefaultUpdateRateHz
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = DefaultHistoryLimit
	}
	if c.Alert.ThresholdDB == 0 {
		c.Alert.ThresholdDB = DefaultAlertThreshold
	}
	if c.Alert.TriggerMs == 0 {
		c.Alert.TriggerMs = DefaultAlertTriggerMs
	}
	if c.Alert.RecoveryMs == 0 {
		c.Alert.RecoveryMs = DefaultAlertRecoverMs
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "noisemeter"
	}
	if c.MQTT.ReadingTopic == "" {
		c.MQTT.ReadingTopic = "noisemeter/reading"
	}
	if c.MQTT.SummaryTopic == "" {
		c.MQTT.SummaryTopic = "noisemeter/summary"
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	// Write-then-rename keeps a torn write from corrupting the file.
	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		return util.WrapError("replace config", err)
	}
	return nil
}

// Snapshot holds a consistent copy of the configuration values.
type Snapshot struct {
	System  SystemConfig
	Audio   AudioConfig
	Meter   MeterConfig
	Session SessionConfig
	Alert   AlertConfig
	MQTT    MQTTConfig
}

// Snapshot returns a consistent copy of all settings.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		System:  c.System,
		Audio:   c.Audio,
		Meter:   c.Meter,
		Session: c.Session,
		Alert:   c.Alert,
		MQTT:    c.MQTT,
	}
}

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// SetAudioInput updates the audio input device and saves.
func (c *Config) SetAudioInput(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = device
	return c.saveLocked()
}

// SetAlert updates the alert settings and saves.
func (c *Config) SetAlert(alert AlertConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.Alert
	c.Alert = alert
	if err := c.validateLocked(); err != nil {
		c.Alert = prev
		return err
	}
	return c.saveLocked()
}

// SetExtendedSessions toggles the extended session tier and saves.
func (c *Config) SetExtendedSessions(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session.ExtendedSessions = enabled
	return c.saveLocked()
}
