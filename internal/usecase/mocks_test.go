package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockResponse is one scripted answer of mockAnalysisService.
type mockResponse struct {
	analysis *domain.ScreenAnalysis
	raw      string
	err      error
}

func respond(status domain.Status, subject, message string) mockResponse {
	return mockResponse{analysis: &domain.ScreenAnalysis{
		Status:      status,
		Subject:     subject,
		Description: subject + " on screen",
		Message:     message,
	}}
}

// mockAnalysisService implements domain.AnalysisService for testing.
// Responses are consumed in call order; gated calls block until released.
type mockAnalysisService struct {
	mu        sync.Mutex
	responses []mockResponse
	calls     []domain.AnalysisRequest
	gates     map[int]chan struct{}
	started   chan int
}

func newMockAnalysisService(responses ...mockResponse) *mockAnalysisService {
	return &mockAnalysisService{
		responses: responses,
		gates:     make(map[int]chan struct{}),
		started:   make(chan int, 64),
	}
}

// gate makes call number n (0-based) block until release(n).
func (m *mockAnalysisService) gate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates[n] = make(chan struct{})
}

func (m *mockAnalysisService) release(n int) {
	m.mu.Lock()
	ch := m.gates[n]
	m.mu.Unlock()
	close(ch)
}

func (m *mockAnalysisService) Analyze(ctx context.Context, req domain.AnalysisRequest) (json.RawMessage, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	resp := mockResponse{analysis: &domain.ScreenAnalysis{Status: domain.StatusFocused, Subject: "work", Description: "work"}}
	if n < len(m.responses) {
		resp = m.responses[n]
	}
	gate := m.gates[n]
	m.mu.Unlock()

	m.started <- n
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if resp.err != nil {
		return nil, resp.err
	}
	if resp.raw != "" {
		return json.RawMessage(resp.raw), nil
	}
	data, _ := json.Marshal(resp.analysis)
	return data, nil
}

func (m *mockAnalysisService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockNotifier implements domain.NotificationSink for testing.
type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	keys []string
}

func (m *mockNotifier) Send(ctx context.Context, n domain.Notification, policy domain.CooldownPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	m.keys = append(m.keys, policy.Key)
	return nil
}

func (m *mockNotifier) notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockOverlay implements domain.OverlaySink for testing.
type mockOverlay struct {
	mu    sync.Mutex
	modes []domain.IndicatorMode
}

func (m *mockOverlay) ShowIndicator(ctx context.Context, mode domain.IndicatorMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes = append(m.modes, mode)
	return nil
}

func (m *mockOverlay) shown() []domain.IndicatorMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.IndicatorMode, len(m.modes))
	copy(out, m.modes)
	return out
}

// mockStore implements domain.PersistenceSink for testing.
type mockStore struct {
	mu     sync.Mutex
	events []domain.FocusEvent
}

func (m *mockStore) RecordEvent(ctx context.Context, event domain.FocusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockStore) recorded() []domain.FocusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.FocusEvent, len(m.events))
	copy(out, m.events)
	return out
}

// mockPolicyStore implements domain.PolicyStore for testing.
type mockPolicyStore struct {
	excludedApps map[string]bool
}

func (m *mockPolicyStore) Matches(kind domain.PolicyKind, appName, windowTitle string) bool {
	return kind == domain.KindAnalysisExclusion && m.excludedApps[appName]
}

func (m *mockPolicyStore) List(kind domain.PolicyKind) []string {
	return nil
}

// mockAnalyzer implements domain.Analyzer for coordinator tests.
type mockAnalyzer struct {
	name        string
	wantsDelay  bool
	mu          sync.Mutex
	frames      []domain.CapturedFrame
	clears      int
	appSwitches []string
	started     bool
	stopped     bool
}

func (m *mockAnalyzer) Name() string { return m.name }

func (m *mockAnalyzer) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

func (m *mockAnalyzer) Analyze(frame domain.CapturedFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *mockAnalyzer) NeedsFrameDuringDelay() bool { return m.wantsDelay }

func (m *mockAnalyzer) ClearPendingWork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
}

func (m *mockAnalyzer) NotifyAppSwitch(appName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appSwitches = append(m.appSwitches, appName)
}

func (m *mockAnalyzer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockAnalyzer) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// frameSeq builds frames with increasing sequence numbers.
type frameSeq struct {
	seq uint64
}

func (f *frameSeq) next(app, title string) domain.CapturedFrame {
	f.seq++
	return domain.CapturedFrame{
		Image:          []byte("png"),
		MimeType:       "image/png",
		AppName:        app,
		WindowTitle:    title,
		SequenceNumber: f.seq,
		CaptureTime:    time.Now(),
	}
}
