package infra

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

const (
	// osascriptTimeout bounds AppleScript calls that can hang when
	// System Events is unresponsive.
	osascriptTimeout = 2 * time.Second

	// DefaultBundleID is the TCC registration reset on permission repair.
	DefaultBundleID = "com.focusd.focusmon"
)

const frontmostScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set appPID to unix id of frontApp
	set winTitle to ""
	try
		set winTitle to name of front window of frontApp
	end try
end tell
return appName & tab & winTitle & tab & appPID`

// MacWindowInfo implements domain.WindowInfo using osascript.
type MacWindowInfo struct {
	runner CommandRunner
}

// NewMacWindowInfo creates a window info reader.
func NewMacWindowInfo(runner CommandRunner) *MacWindowInfo {
	return &MacWindowInfo{runner: runner}
}

// ActiveWindow returns the frontmost application and its front window title.
func (w *MacWindowInfo) ActiveWindow(ctx context.Context) (domain.WindowSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, osascriptTimeout)
	defer cancel()

	out, err := w.runner.Output(ctx, "osascript", "-e", frontmostScript)
	if err != nil {
		return domain.WindowSnapshot{}, fmt.Errorf("frontmost app: %w", err)
	}
	return parseFrontmost(string(out))
}

func parseFrontmost(out string) (domain.WindowSnapshot, error) {
	parts := strings.SplitN(strings.TrimRight(out, "\r\n"), "\t", 3)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return domain.WindowSnapshot{}, fmt.Errorf("frontmost app: empty response")
	}

	snap := domain.WindowSnapshot{AppName: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		snap.WindowTitle = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		if pid, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
			snap.PID = pid
		}
	}
	return snap, nil
}

// MacScreenCapture implements domain.FrameSource and domain.PermissionManager
// with the screencapture and tccutil tools.
type MacScreenCapture struct {
	runner   CommandRunner
	bundleID string
	tempDir  string
	logger   *zap.Logger
}

// NewMacScreenCapture creates a capture source. bundleID may be empty.
func NewMacScreenCapture(runner CommandRunner, bundleID string, logger *zap.Logger) *MacScreenCapture {
	if bundleID == "" {
		bundleID = DefaultBundleID
	}
	return &MacScreenCapture{
		runner:   runner,
		bundleID: bundleID,
		tempDir:  os.TempDir(),
		logger:   logger.Named("capture"),
	}
}

// MimeType returns the encoding of captured frames.
func (c *MacScreenCapture) MimeType() string {
	return "image/png"
}

// Capture grabs the main display. screencapture cannot stream to stdout
// reliably, so the image goes through a temp file.
func (c *MacScreenCapture) Capture(ctx context.Context, window domain.WindowSnapshot) ([]byte, error) {
	f, err := os.CreateTemp(c.tempDir, "focusmon-*.png")
	if err != nil {
		return nil, fmt.Errorf("%w: temp file: %w", domain.ErrCaptureFailed, err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	// -x: no sound, -o: no window shadow
	if err := c.runner.Run(ctx, "screencapture", "-x", "-o", "-t", "png", path); err != nil {
		return nil, fmt.Errorf("%w: screencapture: %w", domain.ErrCaptureFailed, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read capture: %w", domain.ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		// screencapture exits cleanly but writes nothing when the grant is missing.
		return nil, domain.ErrPermissionDenied
	}
	return data, nil
}

// HasPermission probes with a real capture.
func (c *MacScreenCapture) HasPermission(ctx context.Context) bool {
	_, err := c.Capture(ctx, domain.WindowSnapshot{})
	if err != nil {
		c.logger.Debug("capture permission probe failed", zap.Error(err))
		return false
	}
	return true
}

// Repair resets the Screen Recording grant so the next capture re-prompts.
func (c *MacScreenCapture) Repair(ctx context.Context) error {
	c.logger.Info("resetting screen capture permission", zap.String("bundle_id", c.bundleID))
	if err := c.runner.Run(ctx, "tccutil", "reset", "ScreenCapture", c.bundleID); err != nil {
		return fmt.Errorf("tccutil reset: %w", err)
	}
	return nil
}

// MacSessionDetector implements domain.SessionDetector by reading the
// CGSSessionScreenIsLocked flag from the IORegistry root.
type MacSessionDetector struct {
	runner CommandRunner
}

// NewMacSessionDetector creates a lock detector.
func NewMacSessionDetector(runner CommandRunner) *MacSessionDetector {
	return &MacSessionDetector{runner: runner}
}

// IsLocked reports whether the login session's screen is locked.
func (d *MacSessionDetector) IsLocked(ctx context.Context) (bool, error) {
	out, err := d.runner.Output(ctx, "ioreg", "-n", "Root", "-d1")
	if err != nil {
		return false, fmt.Errorf("ioreg: %w", err)
	}
	return strings.Contains(string(out), `"CGSSessionScreenIsLocked"=Yes`) ||
		strings.Contains(string(out), `"CGSSessionScreenIsLocked" = Yes`), nil
}

// Ensure the macOS adapters implement their interfaces.
var (
	_ domain.WindowInfo        = (*MacWindowInfo)(nil)
	_ domain.FrameSource       = (*MacScreenCapture)(nil)
	_ domain.PermissionManager = (*MacScreenCapture)(nil)
	_ domain.SessionDetector   = (*MacSessionDetector)(nil)
)
