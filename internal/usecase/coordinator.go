package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// CoordinatorConfig holds coordinator configuration.
type CoordinatorConfig struct {
	// AnalysisDelay suppresses normal distribution for this long after a
	// context switch. Zero disables the delay window.
	AnalysisDelay time.Duration
}

// Coordinator fans captured frames out to registered analyzers and sequences
// the side effects of context switches.
type Coordinator struct {
	config CoordinatorConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	analyzers   []domain.Analyzer
	current     domain.AppContext
	previous    domain.AppContext
	hasCurrent  bool
	hasPrevious bool
	delayUntil  time.Time
	switches    uint64
}

// NewCoordinator creates a coordinator with no analyzers.
func NewCoordinator(config CoordinatorConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		config: config,
		logger: logger.Named("coordinator"),
		now:    time.Now,
	}
}

// WithClock replaces the time source (for testing).
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Register adds an analyzer to the fan-out set.
func (c *Coordinator) Register(a domain.Analyzer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyzers = append(c.analyzers, a)
	c.logger.Info("analyzer registered", zap.String("analyzer", a.Name()))
}

// Analyzers returns the registered analyzers.
func (c *Coordinator) Analyzers() []domain.Analyzer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Analyzer, len(c.analyzers))
	copy(out, c.analyzers)
	return out
}

// ProcessFrame runs one distribution cycle: track, detect a context switch,
// then distribute to everyone or, inside a delay window, only to analyzers
// that asked for frames during the delay.
func (c *Coordinator) ProcessFrame(frame domain.CapturedFrame) {
	// Tracking happens before the delay gate so switch detection stays accurate.
	c.TrackFrame(frame)
	c.CheckContextSwitch(frame.AppName, frame.WindowTitle)

	if c.InDelay() {
		for _, a := range c.Analyzers() {
			if a.NeedsFrameDuringDelay() {
				a.Analyze(frame)
			}
		}
		return
	}
	c.DistributeFrame(frame)
}

// TrackFrame records the frame's context as the latest one seen.
func (c *Coordinator) TrackFrame(frame domain.CapturedFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.previous, c.hasPrevious = c.current, c.hasCurrent
	c.current, c.hasCurrent = frame.Context(), true
}

// CheckContextSwitch compares (appName, windowTitle) with the context tracked
// before the latest frame. On a switch every analyzer's pending work is
// cleared and, if configured, a delay window starts.
func (c *Coordinator) CheckContextSwitch(appName, windowTitle string) bool {
	c.mu.Lock()
	if !c.hasPrevious {
		c.mu.Unlock()
		return false
	}
	prev := c.previous
	if !DidContextChange(prev.AppName, prev.WindowTitle, appName, windowTitle) {
		c.mu.Unlock()
		return false
	}
	c.switches++
	if c.config.AnalysisDelay > 0 {
		c.delayUntil = c.now().Add(c.config.AnalysisDelay)
	}
	analyzers := make([]domain.Analyzer, len(c.analyzers))
	copy(analyzers, c.analyzers)
	c.mu.Unlock()

	c.logger.Debug("context switch",
		zap.String("from_app", prev.AppName),
		zap.String("to_app", appName),
		zap.String("title", windowTitle))

	for _, a := range analyzers {
		a.ClearPendingWork()
	}
	if prev.AppName != appName {
		c.NotifyAppSwitch(appName)
	}
	return true
}

// InDelay reports whether the post-switch delay window is active.
func (c *Coordinator) InDelay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.delayUntil)
}

// DistributeFrame hands the frame to every analyzer. Analyzers return
// immediately; analysis is asynchronous.
func (c *Coordinator) DistributeFrame(frame domain.CapturedFrame) {
	for _, a := range c.Analyzers() {
		a.Analyze(frame)
	}
}

// NotifyAppSwitch informs all analyzers of a coarse app change.
func (c *Coordinator) NotifyAppSwitch(appName string) {
	for _, a := range c.Analyzers() {
		a.NotifyAppSwitch(appName)
	}
}

// ContextSwitches returns how many switches were detected.
func (c *Coordinator) ContextSwitches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches
}

// Start starts every registered analyzer.
func (c *Coordinator) Start(ctx context.Context) {
	for _, a := range c.Analyzers() {
		a.Start(ctx)
	}
}

// Stop stops every analyzer and forgets tracked contexts.
func (c *Coordinator) Stop() {
	for _, a := range c.Analyzers() {
		a.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current, c.previous = domain.AppContext{}, domain.AppContext{}
	c.hasCurrent, c.hasPrevious = false, false
	c.delayUntil = time.Time{}
}
