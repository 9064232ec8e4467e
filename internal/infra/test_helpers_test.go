package infra

import (
	"context"
	"strings"
	"sync"
)

// mockCommandRunner is a test double for CommandRunner.
// Outputs and errors are keyed by command name.
type mockCommandRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errs    map[string]error
	onRun   func(name string, args []string) error
	calls   []string
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

func (m *mockCommandRunner) record(name string, args []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return m.errs[name]
}

func (m *mockCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	if err := m.record(name, args); err != nil {
		return err
	}
	if m.onRun != nil {
		return m.onRun(name, args)
	}
	return nil
}

func (m *mockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := m.record(name, args); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[name], nil
}

func (m *mockCommandRunner) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
