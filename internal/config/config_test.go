package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/policy"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FOCUSMON_HOME", dir)
	// Keep a developer's .env out of the test.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestDefault(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	assert.Equal(t, time.Second, cfg.Capture.Interval)
	assert.Equal(t, 5, cfg.Capture.CallThrottle)
	assert.Equal(t, 5, cfg.Capture.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Capture.RecoveryInterval)
	assert.Equal(t, 6, cfg.Capture.RecoveryAttempts)
	assert.Equal(t, 12, cfg.Capture.HostileRounds)
	assert.Equal(t, 60*time.Second, cfg.Capture.BackgroundInterval)
	assert.Equal(t, 5, cfg.Capture.BackgroundAttempts)
	assert.Equal(t, time.Duration(0), cfg.Coordinator.AnalysisDelay)
	assert.Equal(t, 5*time.Minute, cfg.Focus.CooldownInterval)
	assert.Equal(t, 5*time.Second, cfg.Focus.BackoffBase)
	assert.Equal(t, 300*time.Second, cfg.Focus.BackoffMax)
	assert.Equal(t, 10, cfg.Focus.HistorySize)
	assert.Equal(t, 60*time.Second, cfg.Notifications.Cooldown)
	assert.Equal(t, dir, cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(dir, "focusmon.log"), cfg.Logging.File)

	require.NoError(t, cfg.Validate())
}

func TestLoad_WritesDefaultFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	defaults := Default()
	assert.Equal(t, defaults.SchedulerConfig(), cfg.SchedulerConfig())
	assert.Equal(t, defaults.FocusConfig(), cfg.FocusConfig())
	assert.Equal(t, defaults.OllamaConfig(), cfg.OllamaConfig())
	assert.Equal(t, defaults.Storage, cfg.Storage)
	assert.Equal(t, defaults.Capture.CallHelpers, cfg.Capture.CallHelpers)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cooldown_interval: 5m0s")
	assert.Contains(t, string(data), "interval: 1s")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_FileValues(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	content := `
capture:
  interval: 2s
  privacy_apps: [Signal]
focus:
  task: "write the quarterly report"
  cooldown_interval: 10m
  excluded_apps: [Music]
analysis:
  model: llava
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Capture.Interval)
	assert.Equal(t, []string{"Signal"}, cfg.Capture.PrivacyApps)
	assert.Equal(t, "write the quarterly report", cfg.Focus.Task)
	assert.Equal(t, 10*time.Minute, cfg.Focus.CooldownInterval)
	assert.Equal(t, "llava", cfg.Analysis.Model)
	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Capture.CallThrottle)
	assert.Equal(t, "http://localhost:11434", cfg.Analysis.BaseURL)

	registry := cfg.Policies()
	store := policy.NewPolicyStore(registry)
	assert.True(t, store.Matches(domain.KindPrivacy, "Signal", ""))
	assert.True(t, store.Matches(domain.KindAnalysisExclusion, "Music", ""))
	assert.True(t, store.Matches(domain.KindPrivacy, "1Password", ""))
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	t.Setenv("FOCUSMON_ANALYSIS_MODEL", "qwen2.5vl")
	t.Setenv("FOCUSMON_CAPTURE_CALL_THROTTLE", "3")
	t.Setenv("FOCUSMON_FOCUS_TASK", "review pull requests")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5vl", cfg.Analysis.Model)
	assert.Equal(t, 3, cfg.Capture.CallThrottle)
	assert.Equal(t, "review pull requests", cfg.Focus.Task)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOCUSMON_OVERLAY_ADDR=127.0.0.1:9999\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("FOCUSMON_OVERLAY_ADDR") })

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Overlay.Addr)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  interval: 0s\n"), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "capture.interval must be positive")
}

func TestLoad_RejectsZeroPollIntervals(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	data := "capture:\n  session_poll_interval: 0s\nstorage:\n  heartbeat_interval: 0s\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "capture.session_poll_interval must be positive")
	assert.ErrorContains(t, err, "storage.heartbeat_interval must be positive")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero throttle", func(c *Config) { c.Capture.CallThrottle = 0 }, "capture.call_throttle"},
		{"negative delay", func(c *Config) { c.Coordinator.AnalysisDelay = -time.Second }, "analysis_delay"},
		{"backoff max below base", func(c *Config) { c.Focus.BackoffMax = time.Second }, "backoff_max"},
		{"no model", func(c *Config) { c.Analysis.Model = "" }, "analysis.model"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"no history", func(c *Config) { c.Focus.HistorySize = 0 }, "focus.history_size"},
		{"zero session poll", func(c *Config) { c.Capture.SessionPollInterval = 0 }, "capture.session_poll_interval"},
		{"negative heartbeat", func(c *Config) { c.Storage.HeartbeatInterval = -time.Second }, "storage.heartbeat_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConverters(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Focus.Task = "ship the release"
	cfg.Analysis.Timeout = 30 * time.Second
	cfg.Coordinator.AnalysisDelay = 2 * time.Second

	sched := cfg.SchedulerConfig()
	assert.Equal(t, cfg.Capture.Interval, sched.Interval)
	assert.Equal(t, cfg.Capture.BackgroundAttempts, sched.BackgroundAttempts)

	focus := cfg.FocusConfig()
	assert.Equal(t, "ship the release", focus.Task)
	assert.Equal(t, 30*time.Second, focus.AnalysisTimeout)
	assert.Equal(t, cfg.Notifications.Cooldown, focus.NotificationCooldown)
	assert.Positive(t, focus.EffectTimeout)

	assert.Equal(t, 2*time.Second, cfg.CoordinatorConfig().AnalysisDelay)
	assert.Equal(t, cfg.Analysis.Model, cfg.OllamaConfig().Model)

	monitor := cfg.MonitorConfig("1.2.3")
	assert.Equal(t, "1.2.3", monitor.AppVersion)
	assert.Equal(t, cfg.Overlay.Addr, monitor.OverlayAddr)
	assert.Equal(t, cfg.Capture.SessionPollInterval, monitor.SessionPollInterval)
}

func TestToYAML_RoundTrip(t *testing.T) {
	isolate(t)
	data, err := Default().ToYAML()
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "5m0s", doc["focus"]["cooldown_interval"])
	assert.Equal(t, "minicpm-v", doc["analysis"]["model"])
}
