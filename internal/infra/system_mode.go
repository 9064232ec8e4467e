package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// SystemModeDetectorImpl reports capture as blocked while a hostile system UI
// is frontmost or the session is locked.
type SystemModeDetectorImpl struct {
	policies domain.PolicyStore
	session  domain.SessionDetector
	logger   *zap.Logger
}

// NewSystemModeDetector creates a detector. session may be nil.
func NewSystemModeDetector(policies domain.PolicyStore, session domain.SessionDetector, logger *zap.Logger) *SystemModeDetectorImpl {
	return &SystemModeDetectorImpl{
		policies: policies,
		session:  session,
		logger:   logger.Named("system_mode"),
	}
}

// IsCaptureBlocked checks hostile policies first, then the lock state.
func (d *SystemModeDetectorImpl) IsCaptureBlocked(ctx context.Context, window domain.WindowSnapshot) bool {
	if d.policies.Matches(domain.KindHostile, window.AppName, window.WindowTitle) {
		return true
	}
	if d.session == nil {
		return false
	}
	locked, err := d.session.IsLocked(ctx)
	if err != nil {
		d.logger.Debug("lock state unavailable", zap.Error(err))
		return false
	}
	return locked
}

// DefaultCallHelpers are processes that only run while a meeting is active.
var DefaultCallHelpers = []string{"CptHost"}

const callHelperCacheTTL = 10 * time.Second

// CallDetectorImpl reports a video call when the frontmost window matches a
// calling policy or a meeting helper process is running.
type CallDetectorImpl struct {
	policies domain.PolicyStore
	pm       domain.ProcessManager
	helpers  []string
	now      func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	helperUp  bool
}

// NewCallDetector creates a call detector. A nil helpers slice uses
// DefaultCallHelpers.
func NewCallDetector(policies domain.PolicyStore, pm domain.ProcessManager, helpers []string) *CallDetectorImpl {
	if helpers == nil {
		helpers = DefaultCallHelpers
	}
	return &CallDetectorImpl{
		policies: policies,
		pm:       pm,
		helpers:  helpers,
		now:      time.Now,
	}
}

// WithClock replaces the time source (for testing).
func (d *CallDetectorImpl) WithClock(now func() time.Time) *CallDetectorImpl {
	d.now = now
	return d
}

// InCall reports whether a video call is in progress.
func (d *CallDetectorImpl) InCall(ctx context.Context, window domain.WindowSnapshot) bool {
	if d.policies.Matches(domain.KindCalling, window.AppName, window.WindowTitle) {
		return true
	}
	return d.helperRunning()
}

// helperRunning scans the process table at most once per cache TTL.
func (d *CallDetectorImpl) helperRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.checkedAt.IsZero() && now.Sub(d.checkedAt) < callHelperCacheTTL {
		return d.helperUp
	}

	d.checkedAt = now
	d.helperUp = false
	for _, name := range d.helpers {
		pids, err := d.pm.FindByName(name)
		if err == nil && len(pids) > 0 {
			d.helperUp = true
			break
		}
	}
	return d.helperUp
}

// Ensure detectors implement their interfaces.
var (
	_ domain.SystemModeDetector = (*SystemModeDetectorImpl)(nil)
	_ domain.CallDetector       = (*CallDetectorImpl)(nil)
)
