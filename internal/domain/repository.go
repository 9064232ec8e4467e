package domain

import (
	"context"
	"encoding/json"
	"time"
)

// FrameSource wraps the platform capture primitive.
type FrameSource interface {
	// Capture grabs the given window (or the active display when the platform
	// cannot address single windows) and returns encoded image bytes.
	Capture(ctx context.Context, window WindowSnapshot) ([]byte, error)

	// MimeType is the encoding of the bytes returned by Capture.
	MimeType() string
}

// WindowInfo reports the frontmost application and window.
type WindowInfo interface {
	ActiveWindow(ctx context.Context) (WindowSnapshot, error)
}

// PermissionManager checks and repairs the OS screen-capture grant.
type PermissionManager interface {
	// HasPermission reports whether capture is currently allowed.
	HasPermission(ctx context.Context) bool

	// Repair re-registers the app with the OS permission database.
	Repair(ctx context.Context) error
}

// SystemModeDetector detects OS modes during which capture is expected to fail
// (window switchers, mission control, screen saver).
type SystemModeDetector interface {
	IsCaptureBlocked(ctx context.Context, window WindowSnapshot) bool
}

// SessionDetector reports whether the user session is locked.
type SessionDetector interface {
	IsLocked(ctx context.Context) (bool, error)
}

// CallDetector reports whether a video call is in progress.
type CallDetector interface {
	InCall(ctx context.Context, window WindowSnapshot) bool
}

// AnalysisRequest is one call to the vision-language analysis service.
type AnalysisRequest struct {
	Image    []byte
	MimeType string
	Prompt   string
	History  string          // Serialized recent results, most recent first
	Schema   json.RawMessage // JSON schema the answer must satisfy
}

// AnalysisService analyzes an image with a text prompt and returns structured JSON.
type AnalysisService interface {
	Analyze(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)
}

// NotificationSink delivers user-visible notifications.
// The sink enforces its own cooldown per CooldownPolicy.Key.
type NotificationSink interface {
	Send(ctx context.Context, n Notification, policy CooldownPolicy) error
}

// OverlaySink renders the focus indicator overlay.
type OverlaySink interface {
	ShowIndicator(ctx context.Context, mode IndicatorMode) error
}

// PersistenceSink records focus transitions.
type PersistenceSink interface {
	RecordEvent(ctx context.Context, event FocusEvent) error
}

// EventStore is the persistence sink plus the read side used by the CLI and daemon.
type EventStore interface {
	PersistenceSink

	// Recent returns the newest events first.
	Recent(ctx context.Context, limit int) ([]FocusEvent, error)

	// CountSince counts events per status recorded at or after since.
	CountSince(ctx context.Context, since time.Time) (map[Status]int, error)

	// SetDaemonState records the running monitor.
	SetDaemonState(ctx context.Context, state DaemonState) error

	// Heartbeat refreshes the monitor liveness timestamp.
	Heartbeat(ctx context.Context) error

	// GetDaemonState returns ErrNotRunning when nothing was recorded.
	GetDaemonState(ctx context.Context) (*DaemonState, error)

	// ClearDaemonState removes the liveness record on clean shutdown.
	ClearDaemonState(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// PolicyStore answers whether an app/window matches a rule of some kind.
type PolicyStore interface {
	// Matches reports whether any policy of kind matches app or title.
	Matches(kind PolicyKind, appName, windowTitle string) bool

	// List returns IDs of all policies of kind.
	List(kind PolicyKind) []string
}

// Analyzer is a pluggable consumer of captured frames.
type Analyzer interface {
	// Name identifies the analyzer in logs.
	Name() string

	// Start prepares internal state; called once when monitoring starts.
	Start(ctx context.Context)

	// Analyze decides whether to analyze the frame and returns immediately.
	Analyze(frame CapturedFrame)

	// NeedsFrameDuringDelay reports whether the analyzer wants frames while the
	// coordinator suppresses distribution after a context switch.
	NeedsFrameDuringDelay() bool

	// ClearPendingWork cancels in-flight work whose frames are now stale.
	ClearPendingWork()

	// NotifyAppSwitch informs the analyzer of a coarse app change.
	NotifyAppSwitch(appName string)

	// Stop cancels everything and resets state.
	Stop()
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager registers the monitor to start at login (macOS).
type LaunchAgentManager interface {
	// Install writes the agent plist for execPath and loads it.
	Install(ctx context.Context, execPath, configPath string) error

	// Uninstall unloads and removes the agent plist.
	Uninstall(ctx context.Context) error

	// IsInstalled reports whether the agent plist exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed plist differs from the
	// one Install would write for execPath and configPath.
	NeedsUpdate(execPath, configPath string) bool

	// PlistPath returns the agent plist location.
	PlistPath() string
}
