package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type mockSession struct {
	locked bool
	err    error
}

func (m *mockSession) IsLocked(ctx context.Context) (bool, error) {
	return m.locked, m.err
}

type mockPausable struct {
	events []string
}

func (m *mockPausable) Pause(reason string) { m.events = append(m.events, "pause:"+reason) }
func (m *mockPausable) Resume()             { m.events = append(m.events, "resume") }

func newTestSessionWatcher(session *mockSession, target *mockPausable) (*SessionWatcher, *time.Time) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := NewSessionWatcher(session, target, 2*time.Second, zap.NewNop()).WithClock(func() time.Time { return now })
	w.lastPoll = now
	return w, &now
}

func TestSessionWatcher_LockPausesUnlockResumes(t *testing.T) {
	session := &mockSession{}
	target := &mockPausable{}
	w, now := newTestSessionWatcher(session, target)

	step := func() {
		*now = now.Add(2 * time.Second)
		w.poll(context.Background())
	}

	step()
	session.locked = true
	step()
	step()
	session.locked = false
	step()

	assert.Equal(t, []string{"pause:screen locked", "resume"}, target.events)
}

func TestSessionWatcher_WakeGapPausesForOnePoll(t *testing.T) {
	session := &mockSession{}
	target := &mockPausable{}
	w, now := newTestSessionWatcher(session, target)

	*now = now.Add(10 * time.Minute)
	w.poll(context.Background())
	assert.Equal(t, []string{"pause:system sleep"}, target.events)

	*now = now.Add(2 * time.Second)
	w.poll(context.Background())
	assert.Equal(t, []string{"pause:system sleep", "resume"}, target.events)
}

func TestSessionWatcher_WakeIntoLockScreenStaysPaused(t *testing.T) {
	session := &mockSession{locked: true}
	target := &mockPausable{}
	w, now := newTestSessionWatcher(session, target)

	*now = now.Add(time.Hour)
	w.poll(context.Background())
	*now = now.Add(2 * time.Second)
	w.poll(context.Background())

	assert.Equal(t, []string{"pause:system sleep"}, target.events)

	session.locked = false
	*now = now.Add(2 * time.Second)
	w.poll(context.Background())
	assert.Equal(t, []string{"pause:system sleep", "resume"}, target.events)
}

func TestSessionWatcher_DetectorErrorTreatedAsUnlocked(t *testing.T) {
	session := &mockSession{err: errors.New("loginctl missing")}
	target := &mockPausable{}
	w, now := newTestSessionWatcher(session, target)

	*now = now.Add(2 * time.Second)
	w.poll(context.Background())

	assert.Empty(t, target.events)
}
