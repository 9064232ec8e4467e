// Package fixtures provides fakes for driving the capture pipeline in
// integration tests without a display or a model server.
package fixtures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// ErrScreenUnavailable is the capture failure injected by FailCaptures.
var ErrScreenUnavailable = errors.New("fake screen unavailable")

// Screen is a fake display: it implements domain.WindowInfo,
// domain.FrameSource and domain.PermissionManager. Captured images encode
// the app and title so the fake analysis service can classify them.
type Screen struct {
	mu         sync.Mutex
	window     domain.WindowSnapshot
	failing    bool
	denied     bool
	captures   int
	repairs    int
	repairHeal bool
}

// NewScreen creates a screen showing app/title.
func NewScreen(app, title string) *Screen {
	return &Screen{window: domain.WindowSnapshot{AppName: app, WindowTitle: title, WindowID: 1}}
}

// Show switches the frontmost window.
func (s *Screen) Show(app, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = domain.WindowSnapshot{AppName: app, WindowTitle: title, WindowID: s.window.WindowID + 1}
}

// FailCaptures makes every capture fail until Restore.
func (s *Screen) FailCaptures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = true
}

// Restore makes captures succeed again.
func (s *Screen) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = false
}

// HealOnRepair makes a permission repair restore captures.
func (s *Screen) HealOnRepair() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairHeal = true
}

// Deny revokes capture permission.
func (s *Screen) Deny() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = true
}

// Captures returns the number of successful captures.
func (s *Screen) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// Repairs returns how often Repair was called.
func (s *Screen) Repairs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repairs
}

func (s *Screen) ActiveWindow(ctx context.Context) (domain.WindowSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window, nil
}

func (s *Screen) Capture(ctx context.Context, window domain.WindowSnapshot) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return nil, domain.ErrPermissionDenied
	}
	if s.failing {
		return nil, ErrScreenUnavailable
	}
	s.captures++
	return EncodeFrame(window.AppName, window.WindowTitle), nil
}

func (s *Screen) MimeType() string {
	return "image/x-fake"
}

func (s *Screen) HasPermission(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.denied
}

func (s *Screen) Repair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs++
	if s.repairHeal {
		s.failing = false
		s.denied = false
	}
	return nil
}

// EncodeFrame builds the fake image bytes for app/title.
func EncodeFrame(app, title string) []byte {
	return []byte(app + "\x00" + title)
}

// DecodeFrame returns the app a fake image was captured from.
func DecodeFrame(image []byte) string {
	app, _, _ := bytes.Cut(image, []byte{0})
	return string(app)
}

// Judge is a fake analysis service that calls an app distracting when it
// is in its list and focused otherwise.
type Judge struct {
	mu          sync.Mutex
	distracting map[string]bool
	failing     bool
	calls       []string
}

// NewJudge creates a judge that flags the given apps as distracting.
func NewJudge(distracting ...string) *Judge {
	j := &Judge{distracting: make(map[string]bool)}
	for _, app := range distracting {
		j.distracting[app] = true
	}
	return j
}

// SetFailing makes the service return errors.
func (j *Judge) SetFailing(failing bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failing = failing
}

// Calls returns the apps of every analyzed frame in call order.
func (j *Judge) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.calls))
	copy(out, j.calls)
	return out
}

// CallCount returns the number of analysis requests.
func (j *Judge) CallCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.calls)
}

func (j *Judge) Analyze(ctx context.Context, req domain.AnalysisRequest) (json.RawMessage, error) {
	app := DecodeFrame(req.Image)

	j.mu.Lock()
	j.calls = append(j.calls, app)
	failing := j.failing
	distracted := j.distracting[app]
	j.mu.Unlock()

	if failing {
		return nil, errors.New("model server unavailable")
	}

	analysis := domain.ScreenAnalysis{Status: domain.StatusFocused, Subject: app, Description: app + " in use"}
	if distracted {
		analysis.Status = domain.StatusDistracted
		analysis.Message = "Looks like " + app + ". Back to work?"
	}
	return json.Marshal(analysis)
}

// Notifications records delivered notifications by cooldown key.
type Notifications struct {
	mu   sync.Mutex
	keys []string
	sent []domain.Notification
}

func (n *Notifications) Send(ctx context.Context, note domain.Notification, policy domain.CooldownPolicy) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, policy.Key)
	n.sent = append(n.sent, note)
	return nil
}

// Keys returns the cooldown keys of every notification sent.
func (n *Notifications) Keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Messages returns the message of every notification sent.
func (n *Notifications) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, note := range n.sent {
		out = append(out, note.Message)
	}
	return out
}

// Ensure the fakes implement their interfaces.
var (
	_ domain.WindowInfo        = (*Screen)(nil)
	_ domain.FrameSource       = (*Screen)(nil)
	_ domain.PermissionManager = (*Screen)(nil)
	_ domain.AnalysisService   = (*Judge)(nil)
	_ domain.NotificationSink  = (*Notifications)(nil)
)
