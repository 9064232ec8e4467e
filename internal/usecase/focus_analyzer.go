package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// FocusConfig holds focus analyzer configuration.
type FocusConfig struct {
	Task                 string        // What the user is supposed to be working on
	CooldownInterval     time.Duration // Analysis pause after a distraction in the same context
	BackoffBase          time.Duration // First error backoff window
	BackoffMax           time.Duration // Error backoff cap
	HistorySize          int           // Results fed back into each prompt
	AnalysisTimeout      time.Duration // Per-request deadline
	NotificationCooldown time.Duration // Passed to the notification sink
	EffectTimeout        time.Duration // Deadline for persistence/overlay/notification calls
}

// DefaultFocusConfig returns default focus analyzer configuration.
func DefaultFocusConfig() FocusConfig {
	return FocusConfig{
		CooldownInterval:     5 * time.Minute,
		BackoffBase:          5 * time.Second,
		BackoffMax:           300 * time.Second,
		HistorySize:          DefaultHistorySize,
		AnalysisTimeout:      60 * time.Second,
		NotificationCooldown: 60 * time.Second,
		EffectTimeout:        10 * time.Second,
	}
}

// FocusSinks bundles the side-effect collaborators of the focus analyzer.
type FocusSinks struct {
	Notifier domain.NotificationSink
	Overlay  domain.OverlaySink
	Store    domain.PersistenceSink
}

// FocusState is a read-only copy of the analyzer state.
type FocusState struct {
	LastStatus          *domain.Status
	LastNotifiedStatus  *domain.Status
	LastAnalyzedContext *domain.AppContext
	CooldownUntil       time.Time
	ErrorBackoffUntil   time.Time
	ConsecutiveErrors   int
	LastProcessedFrame  uint64
	History             []domain.ScreenAnalysis
	PendingAnalyses     int
	Running             bool
}

// transition describes the side effects owed for one status change.
type transition struct {
	status   domain.Status
	previous *domain.Status
	analysis domain.ScreenAnalysis
	frame    domain.CapturedFrame
}

// FocusAnalyzer classifies frames as focused or distracted and turns status
// transitions into notifications, overlays and persisted events.
//
// All state is guarded by mu and only changed by the analyzer itself.
// Analyses run concurrently; their results are applied under mu in the order
// they complete, with stale frames and cleared generations discarded.
type FocusAnalyzer struct {
	config   FocusConfig
	service  domain.AnalysisService
	sinks    FocusSinks
	policies domain.PolicyStore
	logger   *zap.Logger
	now      func() time.Time

	mu                  sync.Mutex
	baseCtx             context.Context
	baseCancel          context.CancelFunc
	lastStatus          *domain.Status
	lastNotifiedStatus  *domain.Status
	lastAnalyzedContext *domain.AppContext
	cooldownUntil       time.Time
	errorBackoffUntil   time.Time
	consecutiveErrors   int
	lastProcessedFrame  uint64
	history             *History
	generation          uint64
	nextTaskID          uint64
	pending             map[uint64]context.CancelFunc

	wg sync.WaitGroup
}

// NewFocusAnalyzer creates a focus analyzer. policies may be nil.
func NewFocusAnalyzer(
	config FocusConfig,
	service domain.AnalysisService,
	sinks FocusSinks,
	policies domain.PolicyStore,
	logger *zap.Logger,
) *FocusAnalyzer {
	return &FocusAnalyzer{
		config:   config,
		service:  service,
		sinks:    sinks,
		policies: policies,
		logger:   logger.Named("focus"),
		now:      time.Now,
		history:  NewHistory(config.HistorySize),
		pending:  make(map[uint64]context.CancelFunc),
	}
}

// WithClock replaces the time source (for testing).
func (a *FocusAnalyzer) WithClock(now func() time.Time) *FocusAnalyzer {
	a.now = now
	return a
}

// Name identifies the analyzer in logs.
func (a *FocusAnalyzer) Name() string {
	return "focus"
}

// Start creates fresh state. Analyses are bound to ctx.
func (a *FocusAnalyzer) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.baseCtx != nil {
		return
	}
	a.resetLocked()
	a.baseCtx, a.baseCancel = context.WithCancel(ctx)
	a.logger.Info("focus analyzer started", zap.String("task", a.config.Task))
}

// Stop cancels all pending analyses and resets every piece of state.
func (a *FocusAnalyzer) Stop() {
	a.mu.Lock()
	if a.baseCtx == nil {
		a.mu.Unlock()
		return
	}
	a.cancelPendingLocked()
	a.baseCancel()
	a.baseCtx, a.baseCancel = nil, nil
	a.resetLocked()
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("focus analyzer stopped")
}

// Wait blocks until every dispatched analysis has finished.
func (a *FocusAnalyzer) Wait() {
	a.wg.Wait()
}

// Analyze dispatches an asynchronous analysis for frame unless it is excluded
// or suppressed. It never blocks on the analysis service.
func (a *FocusAnalyzer) Analyze(frame domain.CapturedFrame) {
	if a.policies != nil && a.policies.Matches(domain.KindAnalysisExclusion, frame.AppName, frame.WindowTitle) {
		return
	}

	a.mu.Lock()
	if a.baseCtx == nil {
		a.mu.Unlock()
		return
	}
	if reason, skip := a.shouldSkipAnalysisLocked(frame); skip {
		a.mu.Unlock()
		a.logger.Debug("analysis skipped",
			zap.String("reason", reason),
			zap.String("app", frame.AppName),
			zap.Uint64("seq", frame.SequenceNumber))
		return
	}

	// Recorded before dispatch so frames of the same context arriving during
	// the round trip are not queued again.
	ctxOfFrame := frame.Context()
	a.lastAnalyzedContext = &ctxOfFrame

	taskCtx, cancel := context.WithTimeout(a.baseCtx, a.config.AnalysisTimeout)
	a.nextTaskID++
	id := a.nextTaskID
	a.pending[id] = cancel
	generation := a.generation
	req := domain.AnalysisRequest{
		Image:    frame.Image,
		MimeType: frame.MimeType,
		Prompt:   BuildFocusPrompt(a.config.Task, frame.AppName, frame.WindowTitle),
		History:  a.history.PromptContext(),
		Schema:   ScreenAnalysisSchema(),
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go a.runAnalysis(taskCtx, id, generation, frame, req)
}

// shouldSkipAnalysisLocked applies the suppression rules in order:
// error backoff, first result, context switch, cooldown, stable focus.
func (a *FocusAnalyzer) shouldSkipAnalysisLocked(frame domain.CapturedFrame) (string, bool) {
	now := a.now()

	if now.Before(a.errorBackoffUntil) {
		return "error_backoff", true
	}
	if a.lastStatus == nil {
		return "", false
	}
	last := a.lastAnalyzedContext
	if last == nil || DidContextChange(last.AppName, last.WindowTitle, frame.AppName, frame.WindowTitle) {
		if !a.cooldownUntil.IsZero() {
			a.logger.Debug("context switch clears cooldown", zap.String("app", frame.AppName))
		}
		a.cooldownUntil = time.Time{}
		return "", false
	}
	if now.Before(a.cooldownUntil) {
		return "cooldown", true
	}
	if *a.lastStatus == domain.StatusFocused {
		return "focused_stable", true
	}
	return "", false
}

func (a *FocusAnalyzer) runAnalysis(
	ctx context.Context,
	id, generation uint64,
	frame domain.CapturedFrame,
	req domain.AnalysisRequest,
) {
	defer a.wg.Done()
	defer a.finishTask(id)

	start := a.now()
	raw, err := a.service.Analyze(ctx, req)
	var analysis domain.ScreenAnalysis
	if err == nil {
		analysis, err = DecodeScreenAnalysis(raw)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			a.logger.Debug("analysis canceled", zap.Uint64("seq", frame.SequenceNumber))
			return
		}
		a.recordFailure(generation, fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err))
		return
	}

	a.logger.Debug("analysis completed",
		zap.Uint64("seq", frame.SequenceNumber),
		zap.String("status", string(analysis.Status)),
		zap.Duration("latency", a.now().Sub(start)))

	if t := a.applyResult(generation, frame, analysis); t != nil {
		a.performEffects(*t)
	}
}

func (a *FocusAnalyzer) finishTask(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.pending[id]; ok {
		cancel()
		delete(a.pending, id)
	}
}

// recordFailure extends the error backoff: min(base * 2^(n-1), max).
func (a *FocusAnalyzer) recordFailure(generation uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.baseCtx == nil || generation != a.generation {
		return
	}
	a.consecutiveErrors++
	backoff := BackoffDuration(a.config.BackoffBase, a.config.BackoffMax, a.consecutiveErrors)
	a.errorBackoffUntil = a.now().Add(backoff)

	a.logger.Warn("analysis failed",
		zap.Error(err),
		zap.Int("consecutive_errors", a.consecutiveErrors),
		zap.Duration("backoff", backoff))
}

// applyResult updates state for a completed analysis and returns the side
// effects owed, or nil when the result is stale or changes nothing visible.
func (a *FocusAnalyzer) applyResult(generation uint64, frame domain.CapturedFrame, analysis domain.ScreenAnalysis) *transition {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.baseCtx == nil || generation != a.generation {
		a.logger.Debug("discarding result of cleared work", zap.Uint64("seq", frame.SequenceNumber))
		return nil
	}

	a.consecutiveErrors = 0
	a.errorBackoffUntil = time.Time{}

	if frame.SequenceNumber <= a.lastProcessedFrame {
		a.logger.Debug("discarding stale result",
			zap.Error(domain.ErrStaleResult),
			zap.Uint64("seq", frame.SequenceNumber),
			zap.Uint64("last_processed", a.lastProcessedFrame))
		return nil
	}
	a.lastProcessedFrame = frame.SequenceNumber
	a.history.Append(analysis)

	status := analysis.Status
	a.lastStatus = &status

	previous := a.lastNotifiedStatus
	if previous != nil && *previous == status {
		if status == domain.StatusDistracted {
			// Still distracted in the same place: keep quiet and hold off re-analysis.
			a.cooldownUntil = a.now().Add(a.config.CooldownInterval)
		}
		return nil
	}

	a.lastNotifiedStatus = &status
	if status == domain.StatusDistracted {
		a.cooldownUntil = a.now().Add(a.config.CooldownInterval)
	}

	a.logger.Info("focus status changed",
		zap.String("status", string(status)),
		zap.String("subject", analysis.Subject),
		zap.String("app", frame.AppName),
		zap.Uint64("seq", frame.SequenceNumber))

	return &transition{status: status, previous: previous, analysis: analysis, frame: frame}
}

// performEffects runs persistence, overlay and notification for a transition.
// Failures are logged; they never affect analyzer state.
func (a *FocusAnalyzer) performEffects(t transition) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.EffectTimeout)
	defer cancel()

	event := domain.FocusEvent{
		ID:          uuid.NewString(),
		Status:      t.status,
		Subject:     t.analysis.Subject,
		Description: t.analysis.Description,
		Message:     t.analysis.Message,
		AppName:     t.frame.AppName,
		WindowTitle: t.frame.WindowTitle,
		RecordedAt:  a.now(),
	}
	if a.sinks.Store != nil {
		if err := a.sinks.Store.RecordEvent(ctx, event); err != nil {
			a.logger.Warn("failed to persist focus event", zap.Error(err))
		}
	}

	switch t.status {
	case domain.StatusDistracted:
		a.showIndicator(ctx, domain.IndicatorDistracted)
		message := t.analysis.Message
		if message == "" {
			message = fmt.Sprintf("Looks like %s. Back to work?", t.analysis.Subject)
		}
		a.notify(ctx, domain.Notification{Title: "Distracted", Message: message}, "focus.distracted")

	case domain.StatusFocused:
		if t.previous == nil || *t.previous != domain.StatusDistracted {
			return
		}
		a.showIndicator(ctx, domain.IndicatorFocused)
		a.notify(ctx, domain.Notification{
			Title:   "Back on track",
			Message: fmt.Sprintf("Nice, back to %s.", t.analysis.Subject),
		}, "focus.recovered")
	}
}

func (a *FocusAnalyzer) showIndicator(ctx context.Context, mode domain.IndicatorMode) {
	if a.sinks.Overlay == nil {
		return
	}
	if err := a.sinks.Overlay.ShowIndicator(ctx, mode); err != nil {
		a.logger.Warn("failed to show overlay", zap.String("mode", string(mode)), zap.Error(err))
	}
}

func (a *FocusAnalyzer) notify(ctx context.Context, n domain.Notification, key string) {
	if a.sinks.Notifier == nil {
		return
	}
	policy := domain.CooldownPolicy{Key: key, Interval: a.config.NotificationCooldown}
	if err := a.sinks.Notifier.Send(ctx, n, policy); err != nil {
		a.logger.Warn("failed to send notification", zap.String("key", key), zap.Error(err))
	}
}

// NeedsFrameDuringDelay is true while distracted so an early return to work is
// noticed even during the coordinator's post-switch delay.
func (a *FocusAnalyzer) NeedsFrameDuringDelay() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastNotifiedStatus != nil && *a.lastNotifiedStatus == domain.StatusDistracted
}

// ClearPendingWork cancels every in-flight analysis and invalidates results
// that have already completed but not yet been applied.
func (a *FocusAnalyzer) ClearPendingWork() {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.pending)
	a.cancelPendingLocked()
	if n > 0 {
		a.logger.Debug("cleared pending analyses", zap.Int("count", n))
	}
}

// NotifyAppSwitch logs coarse app changes.
func (a *FocusAnalyzer) NotifyAppSwitch(appName string) {
	a.logger.Debug("app switch", zap.String("app", appName))
}

// State returns a copy of the analyzer state.
func (a *FocusAnalyzer) State() FocusState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return FocusState{
		LastStatus:          copyStatus(a.lastStatus),
		LastNotifiedStatus:  copyStatus(a.lastNotifiedStatus),
		LastAnalyzedContext: copyContext(a.lastAnalyzedContext),
		CooldownUntil:       a.cooldownUntil,
		ErrorBackoffUntil:   a.errorBackoffUntil,
		ConsecutiveErrors:   a.consecutiveErrors,
		LastProcessedFrame:  a.lastProcessedFrame,
		History:             a.history.Items(),
		PendingAnalyses:     len(a.pending),
		Running:             a.baseCtx != nil,
	}
}

func (a *FocusAnalyzer) cancelPendingLocked() {
	for id, cancel := range a.pending {
		cancel()
		delete(a.pending, id)
	}
	a.generation++
}

func (a *FocusAnalyzer) resetLocked() {
	a.lastStatus = nil
	a.lastNotifiedStatus = nil
	a.lastAnalyzedContext = nil
	a.cooldownUntil = time.Time{}
	a.errorBackoffUntil = time.Time{}
	a.consecutiveErrors = 0
	a.lastProcessedFrame = 0
	a.history.Reset()
}

// BackoffDuration returns min(base * 2^(failures-1), max).
func BackoffDuration(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func copyStatus(s *domain.Status) *domain.Status {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyContext(c *domain.AppContext) *domain.AppContext {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

// Ensure FocusAnalyzer implements domain.Analyzer.
var _ domain.Analyzer = (*FocusAnalyzer)(nil)
