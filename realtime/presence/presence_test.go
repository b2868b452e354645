package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []struct {
		message    any
		recipients []string
	}
}

func (n *recordingNotifier) RouteMessage(_ context.Context, message any, recipients []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		message    any
		recipients []string
	}{message, recipients})
}

func (n *recordingNotifier) snapshot() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func TestPresence_HeartbeatTransitionsOnline(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(notifier, Config{HeartbeatTimeout: time.Hour, MonitorInterval: time.Hour})
	defer s.Stop()

	s.Subscribe("alice", "bob")
	assert.False(t, s.IsOnline("alice"))

	s.Heartbeat(context.Background(), "alice")
	assert.True(t, s.IsOnline("alice"))
	assert.Equal(t, 1, notifier.snapshot())
}

// TestPresence_NoDuplicateTransitionEdges: repeated heartbeats for an
// already-online user must not re-emit status_changed.
func TestPresence_NoDuplicateTransitionEdges(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(notifier, Config{HeartbeatTimeout: time.Hour, MonitorInterval: time.Hour})
	defer s.Stop()

	s.Subscribe("alice", "bob")
	s.Heartbeat(context.Background(), "alice")
	s.Heartbeat(context.Background(), "alice")
	s.Heartbeat(context.Background(), "alice")

	assert.Equal(t, 1, notifier.snapshot())
}

// TestPresence_SetOfflineInvariant: after SetOffline,
// IsOnline is false until the next heartbeat.
func TestPresence_SetOfflineInvariant(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(notifier, Config{HeartbeatTimeout: time.Hour, MonitorInterval: time.Hour})
	defer s.Stop()

	s.Heartbeat(context.Background(), "alice")
	require.True(t, s.IsOnline("alice"))

	s.SetOffline(context.Background(), "alice")
	assert.False(t, s.IsOnline("alice"))

	s.Heartbeat(context.Background(), "alice")
	assert.True(t, s.IsOnline("alice"))
}

func TestPresence_MonitorLoopExpiresStaleHeartbeats(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(notifier, Config{HeartbeatTimeout: 20 * time.Millisecond, MonitorInterval: 10 * time.Millisecond})
	defer s.Stop()

	s.Heartbeat(context.Background(), "alice")
	require.True(t, s.IsOnline("alice"))

	assert.Eventually(t, func() bool {
		return !s.IsOnline("alice")
	}, time.Second, 5*time.Millisecond)
}

func TestPresence_UnsubscribeStopsNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(notifier, Config{HeartbeatTimeout: time.Hour, MonitorInterval: time.Hour})
	defer s.Stop()

	s.Subscribe("alice", "bob")
	s.Unsubscribe("alice", "bob")
	s.Heartbeat(context.Background(), "alice")

	assert.Equal(t, 0, notifier.snapshot())
}
