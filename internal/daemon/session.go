package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// Pausable is implemented by CaptureScheduler.
type Pausable interface {
	Pause(reason string)
	Resume()
}

// SessionWatcher pauses capture while the screen is locked or the machine
// sleeps, and resumes it afterwards.
//
// Sleep is inferred from the wall clock: a gap of more than three poll
// intervals between two polls means the process was suspended.
type SessionWatcher struct {
	detector domain.SessionDetector
	target   Pausable
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	lastPoll time.Time
	paused   bool
}

// NewSessionWatcher creates a session watcher polling every interval.
func NewSessionWatcher(detector domain.SessionDetector, target Pausable, interval time.Duration, logger *zap.Logger) *SessionWatcher {
	return &SessionWatcher{
		detector: detector,
		target:   target,
		interval: interval,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
}

// WithClock replaces the time source (for testing).
func (w *SessionWatcher) WithClock(now func() time.Time) *SessionWatcher {
	w.now = now
	return w
}

// Run polls until ctx is canceled.
func (w *SessionWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.lastPoll = w.now()
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *SessionWatcher) poll(ctx context.Context) {
	now := w.now()
	gap := now.Sub(w.lastPoll)
	w.lastPoll = now
	woke := gap > 3*w.interval

	locked, err := w.detector.IsLocked(ctx)
	if err != nil {
		w.logger.Debug("lock state unavailable", zap.Error(err))
		locked = false
	}

	switch {
	case woke && !w.paused:
		// The wake poll itself keeps capture paused; the next regular poll resumes.
		w.logger.Info("system wake detected", zap.Duration("gap", gap))
		w.target.Pause("system sleep")
		w.paused = true
	case locked && !w.paused:
		w.target.Pause("screen locked")
		w.paused = true
	case !woke && !locked && w.paused:
		w.target.Resume()
		w.paused = false
	}
}
