// Package daemon implements the capture scheduler and the monitor daemon
// that wires it to the analysis pipeline.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
)

// SchedulerConfig holds capture scheduler configuration.
type SchedulerConfig struct {
	Interval           time.Duration // Normal capture interval (default 1s)
	CallThrottle       int           // Capture 1 in N ticks while in a call (default 5)
	FailureThreshold   int           // Consecutive failures before recovery (default 5)
	RecoveryInterval   time.Duration // Poll interval while recovering (default 5s)
	RecoveryAttempts   int           // Attempts before background polling (default 6)
	HostileRounds      int           // Hostile-mode polls before the attempt counter resets (default 12)
	BackgroundInterval time.Duration // Poll interval while background polling (default 60s)
	BackgroundAttempts int           // Attempts before repair or fatal (default 5)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:           1 * time.Second,
		CallThrottle:       5,
		FailureThreshold:   5,
		RecoveryInterval:   5 * time.Second,
		RecoveryAttempts:   6,
		HostileRounds:      12,
		BackgroundInterval: 60 * time.Second,
		BackgroundAttempts: 5,
	}
}

// FrameSink receives every captured frame. Implemented by usecase.Coordinator.
type FrameSink interface {
	ProcessFrame(frame domain.CapturedFrame)
}

// SchedulerDeps bundles the scheduler's collaborators. SystemMode, Calls,
// Policies and Previews may be nil.
type SchedulerDeps struct {
	Source      domain.FrameSource
	Window      domain.WindowInfo
	Permissions domain.PermissionManager
	SystemMode  domain.SystemModeDetector
	Calls       domain.CallDetector
	Policies    domain.PolicyStore
	Sink        FrameSink
	Previews    *usecase.FrameProcessor
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	State               domain.SchedulerState `json:"state"`
	Captured            uint64                `json:"captured"`
	Skipped             uint64                `json:"skipped"`
	Throttled           uint64                `json:"throttled"`
	Failures            uint64                `json:"failures"`
	Recoveries          uint64                `json:"recoveries"`
	Repairs             uint64                `json:"repairs"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	LastSequence        uint64                `json:"last_sequence"`
}

const (
	skipHostile = "hostile"
	skipPrivacy = "privacy"
)

// CaptureScheduler drives the sampling loop and keeps it alive through
// permission loss, system overlays and sleep/lock cycles.
//
// State machine: Idle -> Running -> Recovering -> BackgroundPolling ->
// (Running | Fatal). Pause/Resume suspend ticking without escalation.
type CaptureScheduler struct {
	config SchedulerConfig
	deps   SchedulerDeps
	logger *zap.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               domain.SchedulerState
	running             bool
	paused              bool
	consecutiveFailures int
	attempts            int
	hostileRounds       int
	callTicks           int
	repairAttempted     bool
	sequence            uint64
	stats               SchedulerStats

	wake chan struct{}
}

// NewCaptureScheduler creates a scheduler in the Idle state.
func NewCaptureScheduler(config SchedulerConfig, deps SchedulerDeps, logger *zap.Logger) *CaptureScheduler {
	return &CaptureScheduler{
		config: config,
		deps:   deps,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		state:  domain.StateIdle,
		wake:   make(chan struct{}, 1),
	}
}

// WithClock replaces the time source (for testing).
func (s *CaptureScheduler) WithClock(now func() time.Time) *CaptureScheduler {
	s.now = now
	return s
}

// Run validates capture permission and runs the capture loop until ctx is
// canceled or every recovery phase is exhausted.
// Returns domain.ErrPermissionDenied or an error wrapping domain.ErrCaptureFatal.
func (s *CaptureScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.paused = false
		if s.state != domain.StateFatal {
			s.state = domain.StateIdle
		}
		s.mu.Unlock()
	}()

	if !s.deps.Permissions.HasPermission(ctx) {
		s.logger.Error("screen capture permission not granted")
		return domain.ErrPermissionDenied
	}

	s.mu.Lock()
	s.resetLocked()
	s.repairAttempted = false
	s.setStateLocked(domain.StateRunning)
	s.mu.Unlock()

	s.logger.Info("capture scheduler started", zap.Duration("interval", s.config.Interval))

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("capture scheduler stopping")
			return ctx.Err()

		case <-s.wake:
			stopTimer(timer)
			if !s.isPaused() {
				timer.Reset(s.nextInterval())
			}

		case <-timer.C:
			if s.isPaused() {
				continue
			}
			if err := s.tick(ctx); err != nil {
				return err
			}
			timer.Reset(s.nextInterval())
		}
	}
}

// Pause suspends capturing (screen locked, system asleep). Failures are not
// counted while paused.
func (s *CaptureScheduler) Pause(reason string) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.mu.Unlock()

	s.logger.Info("capture paused", zap.String("reason", reason))
	s.signal()
}

// Resume restarts capturing after Pause. Failures seen around the pause are
// forgotten and the scheduler returns to Running.
func (s *CaptureScheduler) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	if s.state != domain.StateFatal && s.state != domain.StateIdle {
		s.consecutiveFailures = 0
		s.attempts = 0
		s.hostileRounds = 0
		s.setStateLocked(domain.StateRunning)
	}
	s.mu.Unlock()

	s.logger.Info("capture resumed")
	s.signal()
}

// State returns the current scheduler state.
func (s *CaptureScheduler) State() domain.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Stats returns a snapshot of the scheduler counters.
func (s *CaptureScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.State = s.stateLocked()
	stats.ConsecutiveFailures = s.consecutiveFailures
	stats.LastSequence = s.sequence
	return stats
}

func (s *CaptureScheduler) stateLocked() domain.SchedulerState {
	if s.paused && s.state != domain.StateFatal {
		return domain.StatePaused
	}
	return s.state
}

// tick runs one timer callback for the current state.
func (s *CaptureScheduler) tick(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case domain.StateRunning:
		s.runningTick(ctx)
		return nil
	case domain.StateRecovering, domain.StateBackgroundPolling:
		return s.recoveryTick(ctx, state)
	default:
		return nil
	}
}

func (s *CaptureScheduler) runningTick(ctx context.Context) {
	snap, skip, err := s.inspect(ctx)
	if err != nil {
		s.recordFailure(err)
		return
	}
	if skip != "" {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return
	}
	if s.throttled(ctx, snap) {
		return
	}

	frame, err := s.capture(ctx, snap)
	if err != nil {
		s.recordFailure(err)
		return
	}

	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
	s.deliver(ctx, frame)
}

func (s *CaptureScheduler) recoveryTick(ctx context.Context, state domain.SchedulerState) error {
	snap, skip, err := s.inspect(ctx)
	if err == nil {
		switch skip {
		case skipHostile:
			s.hostileRound(state)
			return nil
		case skipPrivacy:
			return nil
		}
	}

	var frame domain.CapturedFrame
	if err == nil {
		frame, err = s.capture(ctx, snap)
	}
	if err == nil {
		s.mu.Lock()
		s.stats.Recoveries++
		s.resetLocked()
		s.setStateLocked(domain.StateRunning)
		s.mu.Unlock()

		s.logger.Info("capture recovered", zap.String("from", string(state)))
		s.deliver(ctx, frame)
		return nil
	}

	return s.recoveryFailed(ctx, state, err)
}

// inspect reads the frontmost window and decides whether this tick should
// be skipped without counting a failure.
func (s *CaptureScheduler) inspect(ctx context.Context) (domain.WindowSnapshot, string, error) {
	snap, err := s.deps.Window.ActiveWindow(ctx)
	if err != nil {
		return snap, "", fmt.Errorf("%w: active window: %w", domain.ErrCaptureFailed, err)
	}
	if s.deps.SystemMode != nil && s.deps.SystemMode.IsCaptureBlocked(ctx, snap) {
		return snap, skipHostile, nil
	}
	if s.deps.Policies != nil && s.deps.Policies.Matches(domain.KindPrivacy, snap.AppName, snap.WindowTitle) {
		return snap, skipPrivacy, nil
	}
	return snap, "", nil
}

// throttled reports whether this tick is dropped for call throttling.
// While in a call only the first of every CallThrottle ticks captures.
func (s *CaptureScheduler) throttled(ctx context.Context, snap domain.WindowSnapshot) bool {
	inCall := s.deps.Calls != nil && s.deps.Calls.InCall(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !inCall {
		s.callTicks = 0
		return false
	}
	s.callTicks++
	if s.config.CallThrottle <= 1 || (s.callTicks-1)%s.config.CallThrottle == 0 {
		return false
	}
	s.stats.Throttled++
	return true
}

func (s *CaptureScheduler) capture(ctx context.Context, snap domain.WindowSnapshot) (domain.CapturedFrame, error) {
	image, err := s.deps.Source.Capture(ctx, snap)
	if err != nil {
		return domain.CapturedFrame{}, err
	}

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.stats.Captured++
	s.mu.Unlock()

	return domain.CapturedFrame{
		Image:          image,
		MimeType:       s.deps.Source.MimeType(),
		AppName:        snap.AppName,
		WindowTitle:    snap.WindowTitle,
		SequenceNumber: seq,
		CaptureTime:    s.now(),
	}, nil
}

func (s *CaptureScheduler) deliver(ctx context.Context, frame domain.CapturedFrame) {
	s.deps.Sink.ProcessFrame(frame)
	if s.deps.Previews != nil {
		s.deps.Previews.Submit(ctx, frame)
	}
}

func (s *CaptureScheduler) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
	s.stats.Failures++

	s.logger.Debug("capture failed",
		zap.Int("consecutive", s.consecutiveFailures),
		zap.Error(err))

	if s.consecutiveFailures >= s.config.FailureThreshold {
		s.attempts = 0
		s.hostileRounds = 0
		s.setStateLocked(domain.StateRecovering)
		s.logger.Warn("capture failing, entering recovery",
			zap.Int("failures", s.consecutiveFailures),
			zap.Error(err))
	}
}

// hostileRound counts a recovery poll explained by a capture-hostile system
// mode. Such polls never consume recovery attempts; after HostileRounds of
// them the attempt counter is reset and waiting continues.
func (s *CaptureScheduler) hostileRound(state domain.SchedulerState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Skipped++
	s.hostileRounds++
	if s.hostileRounds >= s.config.HostileRounds {
		s.logger.Info("capture still blocked by system UI, waiting",
			zap.String("state", string(state)),
			zap.Int("rounds", s.hostileRounds))
		s.hostileRounds = 0
		s.attempts = 0
	}
}

func (s *CaptureScheduler) recoveryFailed(ctx context.Context, state domain.SchedulerState, err error) error {
	s.mu.Lock()
	s.attempts++
	s.stats.Failures++
	attempts := s.attempts

	s.logger.Debug("recovery attempt failed",
		zap.String("state", string(state)),
		zap.Int("attempt", attempts),
		zap.Error(err))

	switch state {
	case domain.StateRecovering:
		if attempts >= s.config.RecoveryAttempts {
			s.attempts = 0
			s.setStateLocked(domain.StateBackgroundPolling)
		}
		s.mu.Unlock()
		return nil

	case domain.StateBackgroundPolling:
		if attempts < s.config.BackgroundAttempts {
			s.mu.Unlock()
			return nil
		}
		if s.repairAttempted {
			s.setStateLocked(domain.StateFatal)
			s.mu.Unlock()
			s.logger.Error("capture recovery exhausted", zap.Error(err))
			return fmt.Errorf("%w: %w", domain.ErrCaptureFatal, err)
		}
		s.repairAttempted = true
		s.stats.Repairs++
		s.mu.Unlock()

		return s.repair(ctx)
	}

	s.mu.Unlock()
	return nil
}

// repair re-registers capture permission once per session and restarts
// the normal loop.
func (s *CaptureScheduler) repair(ctx context.Context) error {
	s.logger.Warn("capture recovery exhausted, repairing permission registration")
	if err := s.deps.Permissions.Repair(ctx); err != nil {
		s.logger.Error("permission repair failed", zap.Error(err))
	}

	s.mu.Lock()
	s.resetLocked()
	s.setStateLocked(domain.StateRunning)
	s.mu.Unlock()
	return nil
}

func (s *CaptureScheduler) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateRecovering:
		return s.config.RecoveryInterval
	case domain.StateBackgroundPolling:
		return s.config.BackgroundInterval
	default:
		return s.config.Interval
	}
}

func (s *CaptureScheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *CaptureScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *CaptureScheduler) resetLocked() {
	s.consecutiveFailures = 0
	s.attempts = 0
	s.hostileRounds = 0
	s.callTicks = 0
}

func (s *CaptureScheduler) setStateLocked(state domain.SchedulerState) {
	if s.state == state {
		return
	}
	s.logger.Info("scheduler state changed",
		zap.String("from", string(s.state)),
		zap.String("to", string(state)))
	s.state = state
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
