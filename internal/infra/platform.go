package infra

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// Platform bundles the OS-specific adapters the monitor needs.
type Platform struct {
	Window      domain.WindowInfo
	Source      domain.FrameSource
	Permissions domain.PermissionManager
	Session     domain.SessionDetector
	Closer      io.Closer // nil when nothing needs closing
}

// PlatformOptions tunes platform construction.
type PlatformOptions struct {
	BundleID string // macOS permission identity, empty uses DefaultBundleID
	Display  string // X11 display, empty uses $DISPLAY
}

// NewPlatform returns the adapters for the running OS.
func NewPlatform(runner CommandRunner, opts PlatformOptions, logger *zap.Logger) (*Platform, error) {
	switch runtime.GOOS {
	case "darwin":
		capture := NewMacScreenCapture(runner, opts.BundleID, logger)
		return &Platform{
			Window:      NewMacWindowInfo(runner),
			Source:      capture,
			Permissions: capture,
			Session:     NewMacSessionDetector(runner),
		}, nil
	case "linux":
		x11, err := NewX11Session(opts.Display, logger)
		if err != nil {
			return nil, err
		}
		return &Platform{
			Window:      x11,
			Source:      x11,
			Permissions: x11,
			Session:     NewLinuxSessionDetector(runner, os.Getenv("XDG_SESSION_ID")),
			Closer:      x11,
		}, nil
	default:
		return nil, fmt.Errorf("screen capture is not supported on %s", runtime.GOOS)
	}
}
