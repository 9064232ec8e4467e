package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
)

// MonitorConfig holds monitor daemon configuration.
type MonitorConfig struct {
	HeartbeatInterval   time.Duration // How often to refresh liveness and log stats
	SessionPollInterval time.Duration // How often to check lock state
	OverlayAddr         string        // Listen address for overlay renderers, empty disables
	AppVersion          string
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HeartbeatInterval:   30 * time.Second,
		SessionPollInterval: 2 * time.Second,
		OverlayAddr:         "127.0.0.1:7717",
	}
}

// MonitorStats aggregates pipeline counters.
type MonitorStats struct {
	Scheduler       SchedulerStats         `json:"scheduler"`
	Previews        usecase.ProcessorStats `json:"previews"`
	ContextSwitches uint64                 `json:"context_switches"`
	AnalysisHealthy *bool                  `json:"analysis_healthy,omitempty"`
}

// HealthReporter reports whether a backing service answered its last request.
type HealthReporter interface {
	Healthy() bool
}

// Monitor is the focus monitoring daemon. It runs the capture scheduler, the
// lock/sleep watcher, the liveness heartbeat and the overlay endpoint, and
// tears the pipeline down when any of them fails.
type Monitor struct {
	config         MonitorConfig
	scheduler      *CaptureScheduler
	coordinator    *usecase.Coordinator
	previews       *usecase.FrameProcessor
	store          domain.EventStore
	session        domain.SessionDetector
	overlay        http.Handler
	processManager domain.ProcessManager
	closers        []io.Closer
	analysis       HealthReporter
	logger         *zap.Logger
}

// NewMonitor creates a new monitor daemon. previews, session and overlay may be nil.
func NewMonitor(
	config MonitorConfig,
	scheduler *CaptureScheduler,
	coordinator *usecase.Coordinator,
	previews *usecase.FrameProcessor,
	store domain.EventStore,
	session domain.SessionDetector,
	overlay http.Handler,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:         config,
		scheduler:      scheduler,
		coordinator:    coordinator,
		previews:       previews,
		store:          store,
		session:        session,
		overlay:        overlay,
		processManager: pm,
		logger:         logger,
	}
}

// AddCloser registers a resource released when Run returns.
func (m *Monitor) AddCloser(c io.Closer) {
	m.closers = append(m.closers, c)
}

// SetAnalysisHealth exposes the analysis service's health in Stats.
func (m *Monitor) SetAnalysisHealth(h HealthReporter) {
	m.analysis = h
}

// Run starts monitoring and blocks until ctx is canceled or capture fails
// fatally. A canceled context is a clean shutdown and returns nil.
func (m *Monitor) Run(ctx context.Context) (err error) {
	if err := m.register(ctx); err != nil {
		return err
	}

	m.logger.Info("focus monitor started",
		zap.Int("pid", m.processManager.GetCurrentPID()),
		zap.String("version", m.config.AppVersion))

	defer func() {
		if cerr := m.shutdown(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	m.coordinator.Start(ctx)
	defer m.coordinator.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return m.heartbeat(gctx)
	})
	if m.session != nil {
		watcher := NewSessionWatcher(m.session, m.scheduler, m.config.SessionPollInterval, m.logger)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	if m.overlay != nil && m.config.OverlayAddr != "" {
		g.Go(func() error {
			return m.serveOverlay(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		m.logger.Error("focus monitor stopped", zap.Error(err))
	}
	return err
}

// register refuses to start next to a live monitor and records this one.
func (m *Monitor) register(ctx context.Context) error {
	pid := m.processManager.GetCurrentPID()

	existing, err := m.store.GetDaemonState(ctx)
	switch {
	case err == nil:
		if existing.PID != pid && m.processManager.IsRunning(existing.PID) {
			return fmt.Errorf("%w: pid %d", domain.ErrAlreadyRunning, existing.PID)
		}
	case !errors.Is(err, domain.ErrNotRunning):
		return fmt.Errorf("read daemon state: %w", err)
	}

	now := time.Now()
	state := domain.DaemonState{
		PID:           pid,
		AppVersion:    m.config.AppVersion,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := m.store.SetDaemonState(ctx, state); err != nil {
		return fmt.Errorf("record daemon state: %w", err)
	}
	return nil
}

func (m *Monitor) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.store.Heartbeat(ctx); err != nil {
				m.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
			m.logStats("pipeline stats")
		}
	}
}

// serveOverlay exposes the overlay websocket and a JSON stats endpoint.
// A listen failure disables the overlay without stopping the monitor.
func (m *Monitor) serveOverlay(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/overlay", m.overlay)
	mux.HandleFunc("/stats", m.handleStats)

	srv := &http.Server{
		Addr:              m.config.OverlayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	m.logger.Info("overlay endpoint listening", zap.String("addr", m.config.OverlayAddr))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("overlay endpoint failed", zap.Error(err))
		}
		<-ctx.Done()
		return ctx.Err()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			m.logger.Warn("overlay endpoint shutdown", zap.Error(err))
		}
		return ctx.Err()
	}
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
		m.logger.Debug("failed to write stats", zap.Error(err))
	}
}

// Stats returns current pipeline counters.
func (m *Monitor) Stats() MonitorStats {
	stats := MonitorStats{
		Scheduler:       m.scheduler.Stats(),
		ContextSwitches: m.coordinator.ContextSwitches(),
	}
	if m.previews != nil {
		stats.Previews = m.previews.Stats()
	}
	if m.analysis != nil {
		healthy := m.analysis.Healthy()
		stats.AnalysisHealthy = &healthy
	}
	return stats
}

func (m *Monitor) logStats(msg string) {
	stats := m.Stats()
	m.logger.Info(msg,
		zap.String("state", string(stats.Scheduler.State)),
		zap.Uint64("captured", stats.Scheduler.Captured),
		zap.Uint64("skipped", stats.Scheduler.Skipped),
		zap.Uint64("throttled", stats.Scheduler.Throttled),
		zap.Uint64("failures", stats.Scheduler.Failures),
		zap.Uint64("recoveries", stats.Scheduler.Recoveries),
		zap.Uint64("context_switches", stats.ContextSwitches),
		zap.Uint64("previews_dropped", stats.Previews.Dropped),
		zap.Boolp("analysis_healthy", stats.AnalysisHealthy))
}

// shutdown drains previews, clears the liveness record and releases resources.
func (m *Monitor) shutdown() error {
	if m.previews != nil {
		m.previews.Wait()
	}
	m.logStats("focus monitor stopping")

	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.ClearDaemonState(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear daemon state: %w", err))
	}
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
