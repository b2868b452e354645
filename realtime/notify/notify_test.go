package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
)

type fakeRouter struct {
	mu  sync.Mutex
	out map[string][]any
}

func newFakeRouter() *fakeRouter { return &fakeRouter{out: make(map[string][]any)} }

func (r *fakeRouter) DeliverToUser(_ context.Context, userID string, message any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out[userID] = append(r.out[userID], message)
	return nil
}

func (r *fakeRouter) messagesFor(userID string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.out[userID]...)
}

type fakePresence struct {
	online map[string]bool
}

func (p *fakePresence) IsOnline(userID string) bool { return p.online[userID] }

type fakeSessions struct {
	sessions map[string]*store.Session
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*store.Session, error) {
	return f.sessions[id], nil
}

func TestNotify_OnlineRecipientGetsImmediateDelivery(t *testing.T) {
	router := newFakeRouter()
	presence := &fakePresence{online: map[string]bool{"bob": true}}
	sessions := &fakeSessions{sessions: map[string]*store.Session{
		"s1": {ID: "s1", Metadata: store.SessionMetadata{Participants: []string{"alice", "bob"}}},
	}}
	svc := New(router, presence, sessions)

	require.NoError(t, svc.Notify(context.Background(), EventNewMessage, "s1", "alice", map[string]any{"turn_id": "t1"}))

	msgs := router.messagesFor("bob")
	require.Len(t, msgs, 1)
	event := msgs[0].(map[string]any)
	assert.Equal(t, string(EventNewMessage), event["type"])
	assert.Equal(t, "t1", event["turn_id"])
	assert.Empty(t, router.messagesFor("alice"), "actor excluded from its own notification")
}

func TestNotify_OfflineRecipientAccumulatesThenDrainsOnReconnect(t *testing.T) {
	router := newFakeRouter()
	presence := &fakePresence{online: map[string]bool{}}
	sessions := &fakeSessions{sessions: map[string]*store.Session{
		"s1": {ID: "s1", Metadata: store.SessionMetadata{Participants: []string{"alice", "carol"}}},
	}}
	svc := New(router, presence, sessions)

	require.NoError(t, svc.Notify(context.Background(), EventNewMessage, "s1", "alice", nil))
	assert.Empty(t, router.messagesFor("carol"), "offline recipient is not delivered to directly")

	require.NoError(t, svc.OnReconnect(context.Background(), "carol"))
	msgs := router.messagesFor("carol")
	require.Len(t, msgs, 2)
	summary := msgs[0].(map[string]any)
	assert.Equal(t, "offline_notifications_summary", summary["type"])
	assert.Equal(t, 1, summary["count"])
}

// TestNotify_OfflineAccumulationCap: the offline cap is 100 per user.
func TestNotify_OfflineAccumulationCap(t *testing.T) {
	router := newFakeRouter()
	presence := &fakePresence{online: map[string]bool{}}
	sessions := &fakeSessions{sessions: map[string]*store.Session{
		"s1": {ID: "s1", Metadata: store.SessionMetadata{Participants: []string{"alice", "carol"}}},
	}}
	svc := New(router, presence, sessions)

	for i := 0; i < 150; i++ {
		require.NoError(t, svc.Notify(context.Background(), EventNewMessage, "s1", "alice", nil))
	}

	require.NoError(t, svc.OnReconnect(context.Background(), "carol"))
	msgs := router.messagesFor("carol")
	summary := msgs[0].(map[string]any)
	assert.Equal(t, offlineCapPerUser, summary["count"])
}

func TestNotify_ReconnectWithNothingQueuedIsNoop(t *testing.T) {
	router := newFakeRouter()
	presence := &fakePresence{online: map[string]bool{}}
	sessions := &fakeSessions{sessions: map[string]*store.Session{}}
	svc := New(router, presence, sessions)

	require.NoError(t, svc.OnReconnect(context.Background(), "nobody"))
	assert.Empty(t, router.messagesFor("nobody"))
}
