// Package config loads the focusmon configuration from a YAML file, a .env
// file and FOCUSMON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/focus_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/infra"
	"github.com/eliteGoblin/focusd/focus_mon/internal/policy"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
)

// EnvPrefix prefixes environment overrides, e.g. FOCUSMON_ANALYSIS_MODEL.
const EnvPrefix = "FOCUSMON"

// Config is the complete monitor configuration.
type Config struct {
	Capture       CaptureConfig       `mapstructure:"capture" yaml:"capture"`
	Coordinator   CoordinatorConfig   `mapstructure:"coordinator" yaml:"coordinator"`
	Focus         FocusConfig         `mapstructure:"focus" yaml:"focus"`
	Analysis      AnalysisConfig      `mapstructure:"analysis" yaml:"analysis"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Overlay       OverlayConfig       `mapstructure:"overlay" yaml:"overlay"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
}

// CaptureConfig drives the capture scheduler and its exclusion lists.
type CaptureConfig struct {
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`
	CallThrottle        int           `mapstructure:"call_throttle" yaml:"call_throttle"`
	FailureThreshold    int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryInterval    time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
	RecoveryAttempts    int           `mapstructure:"recovery_attempts" yaml:"recovery_attempts"`
	HostileRounds       int           `mapstructure:"hostile_rounds" yaml:"hostile_rounds"`
	BackgroundInterval  time.Duration `mapstructure:"background_interval" yaml:"background_interval"`
	BackgroundAttempts  int           `mapstructure:"background_attempts" yaml:"background_attempts"`
	SessionPollInterval time.Duration `mapstructure:"session_poll_interval" yaml:"session_poll_interval"`
	PrivacyApps         []string      `mapstructure:"privacy_apps" yaml:"privacy_apps"`
	CallingApps         []string      `mapstructure:"calling_apps" yaml:"calling_apps"`
	HostileApps         []string      `mapstructure:"hostile_apps" yaml:"hostile_apps"`
	CallHelpers         []string      `mapstructure:"call_helpers" yaml:"call_helpers"`
	BundleID            string        `mapstructure:"bundle_id" yaml:"bundle_id"`
	Display             string        `mapstructure:"display" yaml:"display"`
}

// CoordinatorConfig tunes frame distribution.
type CoordinatorConfig struct {
	AnalysisDelay time.Duration `mapstructure:"analysis_delay" yaml:"analysis_delay"`
}

// FocusConfig tunes the focus analyzer.
type FocusConfig struct {
	Task             string        `mapstructure:"task" yaml:"task"`
	CooldownInterval time.Duration `mapstructure:"cooldown_interval" yaml:"cooldown_interval"`
	BackoffBase      time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	HistorySize      int           `mapstructure:"history_size" yaml:"history_size"`
	ExcludedApps     []string      `mapstructure:"excluded_apps" yaml:"excluded_apps"`
}

// AnalysisConfig points at the vision-language service.
type AnalysisConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// OverlayConfig controls the renderer websocket endpoint.
type OverlayConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Previews bool   `mapstructure:"previews" yaml:"previews"`
}

// StorageConfig locates the encrypted event database.
type StorageConfig struct {
	DataDir           string        `mapstructure:"data_dir" yaml:"data_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// LoggingConfig controls the daemon log.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// Default returns the built-in configuration rooted at the detected data dir.
func Default() *Config {
	paths := infra.DetectPaths()
	sched := daemon.DefaultSchedulerConfig()
	focus := usecase.DefaultFocusConfig()
	analysis := infra.DefaultOllamaConfig()
	monitor := daemon.DefaultMonitorConfig()

	return &Config{
		Capture: CaptureConfig{
			Interval:            sched.Interval,
			CallThrottle:        sched.CallThrottle,
			FailureThreshold:    sched.FailureThreshold,
			RecoveryInterval:    sched.RecoveryInterval,
			RecoveryAttempts:    sched.RecoveryAttempts,
			HostileRounds:       sched.HostileRounds,
			BackgroundInterval:  sched.BackgroundInterval,
			BackgroundAttempts:  sched.BackgroundAttempts,
			SessionPollInterval: monitor.SessionPollInterval,
			CallHelpers:         infra.DefaultCallHelpers,
			BundleID:            infra.DefaultBundleID,
		},
		Focus: FocusConfig{
			CooldownInterval: focus.CooldownInterval,
			BackoffBase:      focus.BackoffBase,
			BackoffMax:       focus.BackoffMax,
			HistorySize:      focus.HistorySize,
		},
		Analysis: AnalysisConfig{
			BaseURL:     analysis.BaseURL,
			Model:       analysis.Model,
			Timeout:     analysis.Timeout,
			Temperature: analysis.Temperature,
		},
		Notifications: NotificationsConfig{
			Enabled:  true,
			Cooldown: focus.NotificationCooldown,
		},
		Overlay: OverlayConfig{
			Addr: monitor.OverlayAddr,
		},
		Storage: StorageConfig{
			DataDir:           paths.DataDir,
			HeartbeatInterval: monitor.HeartbeatInterval,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  paths.LogPath,
		},
	}
}

// Load reads the configuration at path, writing the defaults there first
// when the file does not exist. An empty path uses the default location.
// Variables from a .env file in the working directory are applied before
// FOCUSMON_* overrides are read.
func Load(path string) (*Config, error) {
	// A missing .env file is normal.
	_ = godotenv.Load()

	defaults := Default()
	if path == "" {
		path = infra.DetectPaths().ConfigPath
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := defaults.Save(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := c.ToYAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ToYAML renders the configuration with human-readable durations.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(settings(reflect.ValueOf(*c)))
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"capture.interval":              c.Capture.Interval,
		"capture.recovery_interval":     c.Capture.RecoveryInterval,
		"capture.background_interval":   c.Capture.BackgroundInterval,
		"capture.session_poll_interval": c.Capture.SessionPollInterval,
		"storage.heartbeat_interval":    c.Storage.HeartbeatInterval,
		"focus.backoff_base":            c.Focus.BackoffBase,
		"analysis.timeout":              c.Analysis.Timeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	counts := map[string]int{
		"capture.call_throttle":       c.Capture.CallThrottle,
		"capture.failure_threshold":   c.Capture.FailureThreshold,
		"capture.recovery_attempts":   c.Capture.RecoveryAttempts,
		"capture.hostile_rounds":      c.Capture.HostileRounds,
		"capture.background_attempts": c.Capture.BackgroundAttempts,
		"focus.history_size":          c.Focus.HistorySize,
	}
	for name, n := range counts {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, n))
		}
	}

	if c.Coordinator.AnalysisDelay < 0 {
		errs = append(errs, fmt.Errorf("coordinator.analysis_delay must not be negative"))
	}
	if c.Focus.CooldownInterval < 0 {
		errs = append(errs, fmt.Errorf("focus.cooldown_interval must not be negative"))
	}
	if c.Focus.BackoffMax < c.Focus.BackoffBase {
		errs = append(errs, fmt.Errorf("focus.backoff_max (%s) is below focus.backoff_base (%s)",
			c.Focus.BackoffMax, c.Focus.BackoffBase))
	}
	if c.Analysis.BaseURL == "" || c.Analysis.Model == "" {
		errs = append(errs, fmt.Errorf("analysis.base_url and analysis.model are required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, fmt.Errorf("storage.data_dir is required"))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SchedulerConfig converts the capture section.
func (c *Config) SchedulerConfig() daemon.SchedulerConfig {
	return daemon.SchedulerConfig{
		Interval:           c.Capture.Interval,
		CallThrottle:       c.Capture.CallThrottle,
		FailureThreshold:   c.Capture.FailureThreshold,
		RecoveryInterval:   c.Capture.RecoveryInterval,
		RecoveryAttempts:   c.Capture.RecoveryAttempts,
		HostileRounds:      c.Capture.HostileRounds,
		BackgroundInterval: c.Capture.BackgroundInterval,
		BackgroundAttempts: c.Capture.BackgroundAttempts,
	}
}

// CoordinatorConfig converts the coordinator section.
func (c *Config) CoordinatorConfig() usecase.CoordinatorConfig {
	return usecase.CoordinatorConfig{AnalysisDelay: c.Coordinator.AnalysisDelay}
}

// FocusConfig converts the focus section.
func (c *Config) FocusConfig() usecase.FocusConfig {
	focus := usecase.DefaultFocusConfig()
	focus.Task = c.Focus.Task
	focus.CooldownInterval = c.Focus.CooldownInterval
	focus.BackoffBase = c.Focus.BackoffBase
	focus.BackoffMax = c.Focus.BackoffMax
	focus.HistorySize = c.Focus.HistorySize
	focus.AnalysisTimeout = c.Analysis.Timeout
	focus.NotificationCooldown = c.Notifications.Cooldown
	return focus
}

// OllamaConfig converts the analysis section.
func (c *Config) OllamaConfig() infra.OllamaConfig {
	return infra.OllamaConfig{
		BaseURL:     c.Analysis.BaseURL,
		Model:       c.Analysis.Model,
		Timeout:     c.Analysis.Timeout,
		Temperature: c.Analysis.Temperature,
	}
}

// MonitorConfig converts the monitor-level settings.
func (c *Config) MonitorConfig(version string) daemon.MonitorConfig {
	return daemon.MonitorConfig{
		HeartbeatInterval:   c.Storage.HeartbeatInterval,
		SessionPollInterval: c.Capture.SessionPollInterval,
		OverlayAddr:         c.Overlay.Addr,
		AppVersion:          version,
	}
}

// Policies builds the app rule registry: built-ins plus configured patterns.
func (c *Config) Policies() *policy.Registry {
	r := policy.NewRegistry()
	r.RegisterPatterns(domain.KindPrivacy, c.Capture.PrivacyApps, nil)
	r.RegisterPatterns(domain.KindCalling, c.Capture.CallingApps, nil)
	r.RegisterPatterns(domain.KindHostile, c.Capture.HostileApps, nil)
	r.RegisterPatterns(domain.KindAnalysisExclusion, c.Focus.ExcludedApps, nil)
	return r
}

// setDefaults registers every leaf so that environment overrides apply
// even to keys absent from the file.
func setDefaults(v *viper.Viper, defaults *Config) {
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := prefix + k
			if sub, ok := val.(map[string]any); ok {
				walk(key+".", sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", settings(reflect.ValueOf(*defaults)))
}

// settings flattens a config struct into nested maps keyed by yaml tag,
// rendering durations as strings such as "5m0s".
func settings(rv reflect.Value) map[string]any {
	out := make(map[string]any)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if key == "" {
			continue
		}
		fv := rv.Field(i)
		switch {
		case field.Type == reflect.TypeOf(time.Duration(0)):
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			out[key] = settings(fv)
		case fv.Kind() == reflect.Slice && fv.IsNil():
			out[key] = []string{}
		default:
			out[key] = fv.Interface()
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return filepath.Join(infra.RealUserHome(), strings.TrimPrefix(path, "~"))
	}
	return path
}
