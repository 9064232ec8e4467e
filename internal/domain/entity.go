// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Status is the focus classification of a single analyzed frame.
type Status string

const (
	StatusFocused    Status = "focused"
	StatusDistracted Status = "distracted"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusFocused || s == StatusDistracted
}

// CapturedFrame is one successful capture of the active window.
// Frames are shared read-only between analyzers; nobody may modify Image.
type CapturedFrame struct {
	Image          []byte
	MimeType       string
	AppName        string
	WindowTitle    string
	SequenceNumber uint64 // Strictly increasing within a capture session
	CaptureTime    time.Time
}

// Context returns the (app, title) pair the frame was captured in.
func (f CapturedFrame) Context() AppContext {
	return AppContext{AppName: f.AppName, WindowTitle: f.WindowTitle}
}

// AppContext identifies what the user is doing: an app plus its window title.
type AppContext struct {
	AppName     string
	WindowTitle string
}

// WindowSnapshot describes the frontmost window at a point in time.
type WindowSnapshot struct {
	AppName     string
	WindowTitle string
	WindowID    uint32
	PID         int
}

// ScreenAnalysis is the structured answer of the analysis service for one frame.
type ScreenAnalysis struct {
	Status      Status `json:"status"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Message     string `json:"message,omitempty"`
}

// FocusEvent is a persisted status transition.
type FocusEvent struct {
	ID          string
	Status      Status
	Subject     string
	Description string
	Message     string
	AppName     string
	WindowTitle string
	RecordedAt  time.Time
}

// IndicatorMode selects the color of the on-screen overlay.
type IndicatorMode string

const (
	IndicatorFocused    IndicatorMode = "focused"
	IndicatorDistracted IndicatorMode = "distracted"
)

// Notification is a user-visible desktop notification.
type Notification struct {
	Title   string
	Message string
}

// CooldownPolicy tells a NotificationSink how often a notification with the same
// key may be delivered.
type CooldownPolicy struct {
	Key      string
	Interval time.Duration
}

// SchedulerState is the capture scheduler lifecycle state.
type SchedulerState string

const (
	StateIdle              SchedulerState = "idle"
	StateRunning           SchedulerState = "running"
	StatePaused            SchedulerState = "paused"
	StateRecovering        SchedulerState = "recovering"
	StateBackgroundPolling SchedulerState = "background_polling"
	StateFatal             SchedulerState = "fatal"
)

// PolicyKind groups app rules by what the pipeline does with a match.
type PolicyKind string

const (
	// KindPrivacy apps are never captured.
	KindPrivacy PolicyKind = "privacy"
	// KindCalling apps are captured at a reduced rate.
	KindCalling PolicyKind = "calling"
	// KindHostile matches system UIs during which capture is expected to fail.
	KindHostile PolicyKind = "hostile"
	// KindAnalysisExclusion apps are captured but never analyzed for focus.
	KindAnalysisExclusion PolicyKind = "analysis_exclusion"
)

// DaemonState is the liveness record of the background monitor.
type DaemonState struct {
	PID           int
	AppVersion    string
	StartedAt     time.Time
	LastHeartbeat time.Time
}
