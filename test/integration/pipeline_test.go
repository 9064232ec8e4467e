//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/infra"
	"github.com/eliteGoblin/focusd/focus_mon/internal/policy"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/focus_mon/test/fixtures"
)

// pipeline is the full capture-to-effects chain over fake screen and model.
type pipeline struct {
	screen      *fixtures.Screen
	judge       *fixtures.Judge
	notes       *fixtures.Notifications
	overlay     *infra.OverlayHub
	store       *infra.EventStore
	coordinator *usecase.Coordinator
	scheduler   *daemon.CaptureScheduler

	cancel context.CancelFunc
	done   chan error
}

func fastSchedulerConfig() daemon.SchedulerConfig {
	return daemon.SchedulerConfig{
		Interval:           10 * time.Millisecond,
		CallThrottle:       5,
		FailureThreshold:   3,
		RecoveryInterval:   10 * time.Millisecond,
		RecoveryAttempts:   3,
		HostileRounds:      12,
		BackgroundInterval: 10 * time.Millisecond,
		BackgroundAttempts: 2,
	}
}

func newPipeline(screen *fixtures.Screen, judge *fixtures.Judge, sched daemon.SchedulerConfig) *pipeline {
	logger := zap.NewNop()

	store, err := infra.OpenEventStore(GinkgoT().TempDir())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(store.Close)

	policies := policy.NewPolicyStore(policy.NewRegistry())
	p := &pipeline{
		screen:  screen,
		judge:   judge,
		notes:   &fixtures.Notifications{},
		overlay: infra.NewOverlayHub(logger),
		store:   store,
	}

	focus := usecase.DefaultFocusConfig()
	focus.Task = "finish the quarterly report"
	focus.BackoffBase = 100 * time.Millisecond
	focus.BackoffMax = 400 * time.Millisecond
	focus.AnalysisTimeout = time.Second
	focus.EffectTimeout = time.Second

	analyzer := usecase.NewFocusAnalyzer(focus, judge, usecase.FocusSinks{
		Notifier: p.notes,
		Overlay:  p.overlay,
		Store:    store,
	}, policies, logger)

	p.coordinator = usecase.NewCoordinator(usecase.CoordinatorConfig{}, logger)
	p.coordinator.Register(analyzer)

	p.scheduler = daemon.NewCaptureScheduler(sched, daemon.SchedulerDeps{
		Source:      screen,
		Window:      screen,
		Permissions: screen,
		SystemMode:  infra.NewSystemModeDetector(policies, nil, logger),
		Policies:    policies,
		Sink:        p.coordinator,
		Previews:    usecase.NewFrameProcessor(p.overlay, logger),
	}, logger)
	return p
}

func (p *pipeline) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	p.coordinator.Start(ctx)
	go func() {
		p.done <- p.scheduler.Run(ctx)
	}()
	DeferCleanup(p.stop)
}

func (p *pipeline) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	Eventually(p.done).Should(Receive())
	p.coordinator.Stop()
	p.cancel = nil
}

func (p *pipeline) statuses() []domain.Status {
	events, err := p.store.Recent(context.Background(), 100)
	Expect(err).NotTo(HaveOccurred())
	out := make([]domain.Status, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i].Status)
	}
	return out
}

var _ = Describe("Capture pipeline", func() {
	var (
		screen *fixtures.Screen
		judge  *fixtures.Judge
		p      *pipeline
	)

	BeforeEach(func() {
		screen = fixtures.NewScreen("Code", "report.md - notes")
		judge = fixtures.NewJudge("Slack", "YouTube")
	})

	Context("while the user stays on task", func() {
		It("analyzes the context once and records a single focused event", func() {
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()

			Eventually(p.statuses).Should(Equal([]domain.Status{domain.StatusFocused}))

			calls := judge.CallCount()
			Consistently(judge.CallCount).Should(Equal(calls))
			Expect(screen.Captures()).To(BeNumerically(">", calls))
			Expect(p.notes.Keys()).To(BeEmpty())
		})
	})

	Context("when the user drifts to a distracting app", func() {
		BeforeEach(func() {
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()
			Eventually(p.statuses).Should(HaveLen(1))
			screen.Show("Slack", "(3) general")
		})

		It("notifies once and stays quiet during the cooldown", func() {
			Eventually(p.notes.Keys).Should(Equal([]string{"focus.distracted"}))
			Expect(p.notes.Messages()).To(ConsistOf("Looks like Slack. Back to work?"))

			Consistently(p.notes.Keys).Should(HaveLen(1))
			Expect(p.statuses()).To(Equal([]domain.Status{domain.StatusFocused, domain.StatusDistracted}))
		})

		It("keeps the cooldown through cosmetic title churn", func() {
			Eventually(p.notes.Keys).Should(HaveLen(1))
			calls := judge.CallCount()

			screen.Show("Slack", "(4) general")
			Consistently(judge.CallCount).Should(Equal(calls))
		})

		It("notices the return to work without waiting for the cooldown", func() {
			Eventually(p.notes.Keys).Should(HaveLen(1))

			screen.Show("Code", "report.md - notes")

			Eventually(p.notes.Keys).Should(Equal([]string{"focus.distracted", "focus.recovered"}))
			Expect(p.statuses()).To(Equal([]domain.Status{
				domain.StatusFocused,
				domain.StatusDistracted,
				domain.StatusFocused,
			}))
		})

		It("re-analyzes immediately when switching to another distraction", func() {
			Eventually(p.notes.Keys).Should(HaveLen(1))

			screen.Show("YouTube", "cats")

			Eventually(judge.Calls).Should(ContainElement("YouTube"))
			Consistently(p.notes.Keys).Should(HaveLen(1))
		})
	})

	Context("with a privacy-sensitive app in front", func() {
		It("never captures it", func() {
			screen.Show("1Password", "Vault")
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()

			Eventually(func() uint64 { return p.scheduler.Stats().Skipped }).Should(BeNumerically(">=", 5))
			Expect(screen.Captures()).To(BeZero())
			Expect(judge.CallCount()).To(BeZero())
		})
	})

	Context("when the analysis service is down", func() {
		It("backs off and recovers once the service returns", func() {
			screen.Show("Slack", "general")
			judge.SetFailing(true)
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()

			Eventually(judge.CallCount).Should(BeNumerically(">=", 2))
			Expect(judge.CallCount()).To(BeNumerically("<", screen.Captures()))
			Expect(p.notes.Keys()).To(BeEmpty())

			judge.SetFailing(false)
			Eventually(p.notes.Keys).Should(Equal([]string{"focus.distracted"}))
		})
	})

	Context("when capture fails", func() {
		It("recovers once the screen comes back", func() {
			cfg := fastSchedulerConfig()
			cfg.RecoveryAttempts = 1000
			p = newPipeline(screen, judge, cfg)
			p.start()
			Eventually(screen.Captures).Should(BeNumerically(">", 0))

			screen.FailCaptures()
			Eventually(p.scheduler.State).Should(Equal(domain.StateRecovering))

			screen.Restore()
			Eventually(p.scheduler.State).Should(Equal(domain.StateRunning))
			Expect(p.scheduler.Stats().Recoveries).To(BeNumerically(">=", 1))
		})

		It("repairs the permission when polling does not help", func() {
			screen.HealOnRepair()
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()
			Eventually(screen.Captures).Should(BeNumerically(">", 0))

			screen.FailCaptures()

			Eventually(screen.Repairs).Should(Equal(1))
			Eventually(p.scheduler.State).Should(Equal(domain.StateRunning))
			Expect(p.scheduler.Stats().Repairs).To(Equal(uint64(1)))
		})

		It("stops with a fatal error when the repair does not help", func() {
			p = newPipeline(screen, judge, fastSchedulerConfig())
			p.start()
			Eventually(screen.Captures).Should(BeNumerically(">", 0))

			screen.FailCaptures()

			var err error
			Eventually(p.done).Should(Receive(&err))
			Expect(errors.Is(err, domain.ErrCaptureFatal)).To(BeTrue())
			Expect(screen.Repairs()).To(Equal(1))
			Expect(p.scheduler.State()).To(Equal(domain.StateFatal))
			p.done <- err
		})
	})

	Context("with an overlay renderer connected", func() {
		It("pushes indicator changes over the websocket", func() {
			p = newPipeline(screen, judge, fastSchedulerConfig())
			srv := httptest.NewServer(p.overlay)
			DeferCleanup(srv.Close)

			conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(conn.Close)
			Eventually(p.overlay.ClientCount).Should(Equal(1))

			p.start()
			Eventually(p.statuses).Should(HaveLen(1))
			screen.Show("YouTube", "cats")

			Expect(conn.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
			_, data, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())

			var msg infra.IndicatorMessage
			Expect(json.Unmarshal(data, &msg)).To(Succeed())
			Expect(msg.Type).To(Equal("indicator"))
			Expect(msg.Mode).To(Equal(domain.IndicatorDistracted))
		})
	})
})

var _ = Describe("Monitor lifecycle", func() {
	It("records itself while running and clears the record on shutdown", func() {
		screen := fixtures.NewScreen("Code", "main.go")
		p := newPipeline(screen, fixtures.NewJudge(), fastSchedulerConfig())

		config := daemon.DefaultMonitorConfig()
		config.OverlayAddr = ""
		config.HeartbeatInterval = 20 * time.Millisecond
		config.AppVersion = "test"
		monitor := daemon.NewMonitor(config, p.scheduler, p.coordinator, nil, p.store,
			nil, nil, infra.NewProcessManager(), zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- monitor.Run(ctx) }()

		Eventually(func() int {
			state, err := p.store.GetDaemonState(context.Background())
			if err != nil {
				return 0
			}
			return state.PID
		}).Should(Equal(os.Getpid()))
		Eventually(screen.Captures).Should(BeNumerically(">", 0))

		cancel()
		Eventually(done).Should(Receive(BeNil()))

		_, err := p.store.GetDaemonState(context.Background())
		Expect(errors.Is(err, domain.ErrNotRunning)).To(BeTrue())
	})
})
