package optimizer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/cache"
	"github.com/hrygo/dialogmesh/store/db/memdriver"
)

func newHarness(t *testing.T) (*Optimizer, *store.Store) {
	t.Helper()
	st := store.New(memdriver.New(false), cache.Config{})
	return New(st, Config{BatchSize: 2}), st
}

// TestOptimizer_BatchGetSessionsCollapsesAcrossChunks is scenario S6:
// more ids than one batch, absent ids silently dropped.
func TestOptimizer_BatchGetSessionsCollapsesAcrossChunks(t *testing.T) {
	opt, st := newHarness(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := st.CreateSession(ctx, &store.CreateSession{
			UserID:   fmt.Sprintf("user-%d", i),
			Metadata: store.SessionMetadata{Participants: []string{fmt.Sprintf("user-%d", i)}},
		})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	ids = append(ids, "ghost-id")

	out, err := opt.BatchGetSessions(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, out, 5, "the nonexistent id resolves to nothing rather than an error")
	for _, id := range ids[:5] {
		assert.Contains(t, out, id)
	}
}

func TestOptimizer_BatchGetSessionsEmptyInputIsNoop(t *testing.T) {
	opt, _ := newHarness(t)
	out, err := opt.BatchGetSessions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOptimizer_BatchGetMessagesCollapsesAcrossChunks(t *testing.T) {
	opt, st := newHarness(t)
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{UserID: "alice", Metadata: store.SessionMetadata{Participants: []string{"alice"}}})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		turn, err := st.CreateTurn(ctx, &store.CreateTurn{
			SessionID: sess.ID,
			Role:      store.RoleHuman,
			Content:   fmt.Sprintf("msg-%d", i),
			Metadata:  store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText},
		})
		require.NoError(t, err)
		ids = append(ids, turn.ID)
	}

	out, err := opt.BatchGetMessages(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, out, 5)
}

func TestOptimizer_BatchUpdateMessagesAppliesEachPatch(t *testing.T) {
	opt, st := newHarness(t)
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{UserID: "alice", Metadata: store.SessionMetadata{Participants: []string{"alice", "bob"}}})
	require.NoError(t, err)

	var patches []MessagePatch
	for i := 0; i < 3; i++ {
		turn, err := st.CreateTurn(ctx, &store.CreateTurn{
			SessionID: sess.ID,
			Role:      store.RoleHuman,
			Content:   fmt.Sprintf("msg-%d", i),
			Metadata:  store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText},
		})
		require.NoError(t, err)
		patches = append(patches, MessagePatch{ID: turn.ID, ReadAtPatch: map[string]time.Time{"bob": time.Now()}})
	}

	out, err := opt.BatchUpdateMessages(ctx, patches)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, turn := range out {
		assert.True(t, turn.IsReadBy("bob"))
	}
}

func TestOptimizer_MessageHistoryFiltersHumanChatOnly(t *testing.T) {
	opt, st := newHarness(t)
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{UserID: "alice", Metadata: store.SessionMetadata{Participants: []string{"alice"}}})
	require.NoError(t, err)

	_, err = st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sess.ID, Role: store.RoleHuman, Content: "human msg",
		Metadata: store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText, HumanChat: true},
	})
	require.NoError(t, err)
	_, err = st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sess.ID, Role: store.RoleAI, Content: "ai msg",
		Metadata: store.TurnMetadata{SenderID: "bot", MessageType: store.MessageText, HumanChat: false},
	})
	require.NoError(t, err)

	history, err := opt.MessageHistory(ctx, sess.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "human msg", history[0].Content)
}

func TestOptimizer_MessageHistoryBeforeIDCursorsPastIt(t *testing.T) {
	opt, st := newHarness(t)
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{UserID: "alice", Metadata: store.SessionMetadata{Participants: []string{"alice"}}})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		turn, err := st.CreateTurn(ctx, &store.CreateTurn{
			SessionID: sess.ID, Role: store.RoleHuman, Content: fmt.Sprintf("msg-%d", i),
			Metadata: store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText, HumanChat: true},
		})
		require.NoError(t, err)
		ids = append(ids, turn.ID)
	}

	history, err := opt.MessageHistory(ctx, sess.ID, ids[len(ids)-1], 10)
	require.NoError(t, err)
	assert.Len(t, history, 2, "the newest turn (the cursor) is excluded from its own window")
}
