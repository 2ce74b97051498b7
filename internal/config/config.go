package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/edge-companion/internal/logging"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region types

// Config is the companion's on-disk configuration. Durations are Go duration
// strings ("3s", "6h").
type Config struct {
	DatabasePath   string `yaml:"database_path"`
	UserID         string `yaml:"user_id"`
	MaxPendingLogs int    `yaml:"max_pending_logs"` // 0 disables eviction
	Seed           uint64 `yaml:"seed"`             // 0 seeds the sampler randomly
	Engine         string `yaml:"engine"`           // rule-based | greedy

	Log           logging.LogConfig   `yaml:"log"`
	Learning      LearningConfig      `yaml:"learning"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Device        DeviceConfig        `yaml:"device"`
	Sensor        SensorConfig        `yaml:"sensor"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Responder     ResponderConfig     `yaml:"responder"`
}

type LearningConfig struct {
	EvaluationWindow  string  `yaml:"evaluation_window"`
	EvaluationGrace   string  `yaml:"evaluation_grace"`
	RealtimeThreshold float64 `yaml:"realtime_threshold"`
	BatchThreshold    float64 `yaml:"batch_threshold"`
	MaxParameterSum   float64 `yaml:"max_parameter_sum"`
}

type ConsolidationConfig struct {
	BatchLimit      int    `yaml:"batch_limit"`
	DiaryRetention  string `yaml:"diary_retention"`
	Interval        string `yaml:"interval"`
	InitialDelay    string `yaml:"initial_delay"`
	RetryBackoff    string `yaml:"retry_backoff"`
	RecheckInterval string `yaml:"recheck_interval"`
}

// DeviceConfig selects the device monitor and which preconditions apply.
type DeviceConfig struct {
	Monitor              string  `yaml:"monitor"` // sysfs | static
	PowerSupplyRoot      string  `yaml:"power_supply_root"`
	Unmetered            bool    `yaml:"unmetered"`
	Charging             bool    `yaml:"charging"`      // static monitor only
	BatteryLevel         float64 `yaml:"battery_level"` // static monitor only
	RequireCharging      bool    `yaml:"require_charging"`
	RequireUnmetered     bool    `yaml:"require_unmetered"`
	RequireBatteryNotLow bool    `yaml:"require_battery_not_low"`
}

// SensorConfig points at a remote reward sensor. An empty address means no sensor.
type SensorConfig struct {
	Address string `yaml:"address"`
	Grace   string `yaml:"grace"`
}

type MetricsConfig struct {
	Address string `yaml:"address"` // empty disables the /metrics listener
}

type ResponderConfig struct {
	GreetingChance float64 `yaml:"greeting_chance"`
}

// #endregion types

// #region defaults

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		DatabasePath:   "data/companion.db",
		UserID:         state.DefaultUserID,
		MaxPendingLogs: 10000,
		Engine:         "rule-based",
		Log:            logging.DefaultLogConfig(),
		Learning: LearningConfig{
			EvaluationWindow:  "3s",
			EvaluationGrace:   "2s",
			RealtimeThreshold: 0.3,
			BatchThreshold:    0.2,
			MaxParameterSum:   100,
		},
		Consolidation: ConsolidationConfig{
			BatchLimit:      1000,
			DiaryRetention:  "2160h",
			Interval:        "6h",
			RetryBackoff:    "10m",
			RecheckInterval: "15m",
		},
		Device: DeviceConfig{
			Monitor:              "sysfs",
			PowerSupplyRoot:      "/sys/class/power_supply",
			Unmetered:            true,
			RequireCharging:      true,
			RequireUnmetered:     true,
			RequireBatteryNotLow: true,
		},
		Sensor:    SensorConfig{Grace: "1s"},
		Metrics:   MetricsConfig{Address: "127.0.0.1:9464"},
		Responder: ResponderConfig{GreetingChance: 0.3},
	}
}

// #endregion defaults

// #region load-save

// Load reads path over the defaults and applies COMPANION_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.DatabasePath = envOr("COMPANION_DB", c.DatabasePath)
	c.UserID = envOr("COMPANION_USER", c.UserID)
	c.Engine = envOr("COMPANION_ENGINE", c.Engine)
	c.Log.Level = envOr("COMPANION_LOG_LEVEL", c.Log.Level)
	c.Sensor.Address = envOr("COMPANION_SENSOR_ADDR", c.Sensor.Address)
	c.Metrics.Address = envOr("COMPANION_METRICS_ADDR", c.Metrics.Address)
	c.Consolidation.Interval = envOr("COMPANION_CONSOLIDATION_INTERVAL", c.Consolidation.Interval)
	c.Device.Monitor = envOr("COMPANION_DEVICE_MONITOR", c.Device.Monitor)
	if v := os.Getenv("COMPANION_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Seed = seed
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load-save

// #region validate

// Validate checks enumerations, thresholds and every duration string.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	switch c.Engine {
	case "rule-based", "greedy":
	default:
		return fmt.Errorf("invalid engine %q (valid: rule-based, greedy)", c.Engine)
	}
	switch c.Device.Monitor {
	case "sysfs", "static":
	default:
		return fmt.Errorf("invalid device monitor %q (valid: sysfs, static)", c.Device.Monitor)
	}
	for name, v := range map[string]float64{
		"learning.realtime_threshold": c.Learning.RealtimeThreshold,
		"learning.batch_threshold":    c.Learning.BatchThreshold,
		"responder.greeting_chance":   c.Responder.GreetingChance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	for name, v := range map[string]string{
		"learning.evaluation_window":     c.Learning.EvaluationWindow,
		"learning.evaluation_grace":      c.Learning.EvaluationGrace,
		"consolidation.diary_retention":  c.Consolidation.DiaryRetention,
		"consolidation.interval":         c.Consolidation.Interval,
		"consolidation.initial_delay":    c.Consolidation.InitialDelay,
		"consolidation.retry_backoff":    c.Consolidation.RetryBackoff,
		"consolidation.recheck_interval": c.Consolidation.RecheckInterval,
		"sensor.grace":                   c.Sensor.Grace,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// #endregion validate

// #region durations

// Duration parses s, returning zero for empty or invalid values. Components
// replace zero with their own default.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) EvaluationWindow() time.Duration { return Duration(c.Learning.EvaluationWindow) }
func (c *Config) EvaluationGrace() time.Duration  { return Duration(c.Learning.EvaluationGrace) }
func (c *Config) DiaryRetention() time.Duration   { return Duration(c.Consolidation.DiaryRetention) }
func (c *Config) Interval() time.Duration         { return Duration(c.Consolidation.Interval) }
func (c *Config) InitialDelay() time.Duration     { return Duration(c.Consolidation.InitialDelay) }
func (c *Config) RetryBackoff() time.Duration     { return Duration(c.Consolidation.RetryBackoff) }
func (c *Config) RecheckInterval() time.Duration  { return Duration(c.Consolidation.RecheckInterval) }
func (c *Config) SensorGrace() time.Duration      { return Duration(c.Sensor.Grace) }

// #endregion durations
