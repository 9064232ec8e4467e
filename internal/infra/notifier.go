package infra

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

const (
	// DefaultNotificationCooldown applies when a CooldownPolicy has no interval.
	DefaultNotificationCooldown = 60 * time.Second

	notifyTimeout = 5 * time.Second
)

// DesktopNotifier implements domain.NotificationSink with the platform
// notification tool. Notifications sharing a cooldown key are delivered at
// most once per interval.
type DesktopNotifier struct {
	runner   CommandRunner
	goos     string
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDesktopNotifier creates a notifier for the running OS.
func NewDesktopNotifier(runner CommandRunner, logger *zap.Logger) *DesktopNotifier {
	return newDesktopNotifier(runner, runtime.GOOS, logger)
}

func newDesktopNotifier(runner CommandRunner, goos string, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		runner:   runner,
		goos:     goos,
		logger:   logger.Named("notifier"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// WithClock replaces the time source (for testing).
func (n *DesktopNotifier) WithClock(now func() time.Time) *DesktopNotifier {
	n.now = now
	return n
}

// Send delivers the notification unless its key is cooling down.
// Suppressed notifications are not errors.
func (n *DesktopNotifier) Send(ctx context.Context, note domain.Notification, policy domain.CooldownPolicy) error {
	interval := policy.Interval
	if interval <= 0 {
		interval = DefaultNotificationCooldown
	}

	n.mu.Lock()
	last, ok := n.lastSent[policy.Key]
	n.mu.Unlock()
	if ok && n.now().Sub(last) < interval {
		n.logger.Debug("notification suppressed", zap.String("key", policy.Key))
		return nil
	}

	name, args := n.command(note)
	if name == "" {
		n.logger.Info("notification", zap.String("title", note.Title), zap.String("message", note.Message))
		n.markSent(policy.Key)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := n.runner.Run(cctx, name, args...); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	n.markSent(policy.Key)
	return nil
}

// markSent starts the cooldown for key. Only delivered notifications count.
func (n *DesktopNotifier) markSent(key string) {
	n.mu.Lock()
	n.lastSent[key] = n.now()
	n.mu.Unlock()
}

func (n *DesktopNotifier) command(note domain.Notification) (string, []string) {
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(note.Message), appleScriptString(note.Title))
		return "osascript", []string{"-e", script}
	case "linux":
		return "notify-send", []string{"--app-name=focusmon", note.Title, note.Message}
	default:
		return "", nil
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Ensure DesktopNotifier implements domain.NotificationSink.
var _ domain.NotificationSink = (*DesktopNotifier)(nil)
