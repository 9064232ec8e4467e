package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// LaunchAgentLabel identifies the monitor's login item.
const LaunchAgentLabel = "com.focusmon.agent"

// launchd runs the hidden daemon command directly and restarts it only
// after a crash.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{html .ExecutablePath}}</string>
        <string>daemon</string>
        <string>--config</string>
        <string>{{html .ConfigPath}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardErrorPath</key>
    <string>{{html .ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

var launchAgentTmpl = template.Must(template.New("plist").Parse(launchAgentTemplate))

type plistConfig struct {
	Label          string
	ExecutablePath string
	ConfigPath     string
	ErrorLogPath   string
}

// LaunchAgentManagerImpl implements domain.LaunchAgentManager with a
// per-user LaunchAgent and launchctl.
type LaunchAgentManagerImpl struct {
	runner    CommandRunner
	plistPath string
	dataDir   string
	logger    *zap.Logger
}

// NewLaunchAgentManager manages ~/Library/LaunchAgents/<label>.plist for
// the user owning home. Launchd stderr goes to dataDir.
func NewLaunchAgentManager(runner CommandRunner, home, dataDir string, logger *zap.Logger) *LaunchAgentManagerImpl {
	return &LaunchAgentManagerImpl{
		runner:    runner,
		plistPath: filepath.Join(home, "Library", "LaunchAgents", LaunchAgentLabel+".plist"),
		dataDir:   dataDir,
		logger:    logger.Named("launchd"),
	}
}

func (m *LaunchAgentManagerImpl) render(execPath, configPath string) ([]byte, error) {
	var buf bytes.Buffer
	err := launchAgentTmpl.Execute(&buf, plistConfig{
		Label:          LaunchAgentLabel,
		ExecutablePath: execPath,
		ConfigPath:     configPath,
		ErrorLogPath:   filepath.Join(m.dataDir, "launchd.err.log"),
	})
	if err != nil {
		return nil, fmt.Errorf("render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing agent is unloaded
// first so a changed binary or config path takes effect.
func (m *LaunchAgentManagerImpl) Install(ctx context.Context, execPath, configPath string) error {
	content, err := m.render(execPath, configPath)
	if err != nil {
		return err
	}

	if m.IsInstalled() {
		if err := m.runner.Run(ctx, "launchctl", "unload", m.plistPath); err != nil {
			m.logger.Debug("unload before reinstall", zap.Error(err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(m.plistPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}

	if err := m.runner.Run(ctx, "launchctl", "load", m.plistPath); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}
	m.logger.Info("launch agent installed", zap.String("plist", m.plistPath))
	return nil
}

// Uninstall unloads and removes the plist. A missing plist is not an error.
func (m *LaunchAgentManagerImpl) Uninstall(ctx context.Context) error {
	if !m.IsInstalled() {
		return nil
	}
	if err := m.runner.Run(ctx, "launchctl", "unload", m.plistPath); err != nil {
		m.logger.Debug("unload launch agent", zap.Error(err))
	}
	if err := os.Remove(m.plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	m.logger.Info("launch agent removed", zap.String("plist", m.plistPath))
	return nil
}

// IsInstalled checks whether the plist exists.
func (m *LaunchAgentManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate compares the installed plist with the expected content.
func (m *LaunchAgentManagerImpl) NeedsUpdate(execPath, configPath string) bool {
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return false
	}
	expected, err := m.render(execPath, configPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// PlistPath returns the plist file path.
func (m *LaunchAgentManagerImpl) PlistPath() string {
	return m.plistPath
}

// Ensure LaunchAgentManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchAgentManagerImpl)(nil)
