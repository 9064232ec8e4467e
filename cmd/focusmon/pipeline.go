package main

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/config"
	"github.com/eliteGoblin/focusd/focus_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/infra"
	"github.com/eliteGoblin/focusd/focus_mon/internal/policy"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
)

// buildMonitor wires the capture pipeline for the running platform.
// The caller owns the returned monitor; its closers release everything.
func buildMonitor(cfg *config.Config, logger *zap.Logger) (*daemon.Monitor, error) {
	runner := &infra.RealCommandRunner{}
	pm := infra.NewProcessManager()

	platform, err := infra.NewPlatform(runner, infra.PlatformOptions{
		BundleID: cfg.Capture.BundleID,
		Display:  cfg.Capture.Display,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := infra.OpenEventStore(cfg.Storage.DataDir)
	if err != nil {
		if platform.Closer != nil {
			platform.Closer.Close()
		}
		return nil, err
	}

	policies := policy.NewPolicyStore(cfg.Policies())
	overlay := infra.NewOverlayHub(logger)

	var notifier domain.NotificationSink
	if cfg.Notifications.Enabled {
		notifier = infra.NewDesktopNotifier(runner, logger)
	}

	analysis := infra.NewOllamaClient(cfg.OllamaConfig(), logger)
	analyzer := usecase.NewFocusAnalyzer(
		cfg.FocusConfig(),
		analysis,
		usecase.FocusSinks{
			Notifier: notifier,
			Overlay:  overlay,
			Store:    store,
		},
		policies,
		logger,
	)

	coordinator := usecase.NewCoordinator(cfg.CoordinatorConfig(), logger)
	coordinator.Register(analyzer)

	var previews *usecase.FrameProcessor
	if cfg.Overlay.Previews {
		previews = usecase.NewFrameProcessor(overlay, logger)
	}

	scheduler := daemon.NewCaptureScheduler(cfg.SchedulerConfig(), daemon.SchedulerDeps{
		Source:      platform.Source,
		Window:      platform.Window,
		Permissions: platform.Permissions,
		SystemMode:  infra.NewSystemModeDetector(policies, platform.Session, logger),
		Calls:       infra.NewCallDetector(policies, pm, cfg.Capture.CallHelpers),
		Policies:    policies,
		Sink:        coordinator,
		Previews:    previews,
	}, logger)

	monitor := daemon.NewMonitor(
		cfg.MonitorConfig(Version),
		scheduler,
		coordinator,
		previews,
		store,
		platform.Session,
		overlay,
		pm,
		logger,
	)
	monitor.SetAnalysisHealth(analysis)
	monitor.AddCloser(overlay)
	if platform.Closer != nil {
		monitor.AddCloser(platform.Closer)
	}
	monitor.AddCloser(store)
	return monitor, nil
}
