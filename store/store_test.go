package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/cache"
	"github.com/hrygo/dialogmesh/store/db/memdriver"
)

func newStore() *store.Store {
	return store.New(memdriver.New(false), cache.Config{})
}

func TestStore_SessionCRUDRoundTrip(t *testing.T) {
	st := newStore()
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, &store.CreateSession{
		UserID: "alice",
		Title:  "private chat",
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanPrivate,
			Participants: []string{"alice", "bob"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, []string{"alice", "bob"}, got.Metadata.Participants)

	status := "archived"
	updated, err := st.UpdateSession(ctx, &store.UpdateSession{ID: sess.ID, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "archived", updated.Metadata.Status)
	assert.True(t, updated.UpdatedAt.After(sess.UpdatedAt) || updated.UpdatedAt.Equal(sess.UpdatedAt))
}

func TestStore_GetSessionNotFoundReturnsNilNil(t *testing.T) {
	st := newStore()
	sess, err := st.GetSession(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, sess, "a missing session is (nil, nil), not a *store.Error — callers branch on nilness")
}

// TestStore_CreateSessionRejectsNonCreatorFirstParticipant covers
// Session.Validate's invariant: Participants[0] must be the creator.
func TestStore_CreateSessionRejectsNonCreatorFirstParticipant(t *testing.T) {
	st := newStore()
	_, err := st.CreateSession(context.Background(), &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{Participants: []string{"bob", "alice"}},
	})
	require.Error(t, err)
	kind, ok := store.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, store.KindInvalidInput, kind)
}

func TestStore_CreateSessionRejectsDuplicateParticipants(t *testing.T) {
	st := newStore()
	_, err := st.CreateSession(context.Background(), &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{Participants: []string{"alice", "bob", "alice"}},
	})
	require.Error(t, err)
	kind, ok := store.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, store.KindInvalidInput, kind)
}

// TestStore_CreateSessionCanonicalizesLegacyDialogueType covers Open
// Question (b): the legacy "human_to_ai_private" spelling is
// canonicalized on write.
func TestStore_CreateSessionCanonicalizesLegacyDialogueType(t *testing.T) {
	st := newStore()
	sess, err := st.CreateSession(context.Background(), &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{DialogueType: store.DialogueType("human_to_ai_private"), Participants: []string{"alice"}},
	})
	require.NoError(t, err)
	assert.Equal(t, store.DialogueHumanAIPrivate, sess.Metadata.DialogueType)
}

func TestStore_TurnCRUDRoundTrip(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{Participants: []string{"alice", "bob"}},
	})
	require.NoError(t, err)

	turn, err := st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sess.ID,
		Role:      store.RoleHuman,
		Content:   "hello",
		Metadata:  store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText},
	})
	require.NoError(t, err)
	assert.True(t, turn.IsReadBy("alice"), "the sender gets an immediate read receipt on write")

	got, err := st.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	updated, err := st.UpdateTurn(ctx, &store.UpdateTurn{ID: turn.ID, ReadAtPatch: map[string]time.Time{"bob": time.Now()}})
	require.NoError(t, err)
	assert.True(t, updated.IsReadBy("bob"))
}

// TestStore_CreateTurnRejectsMissingSessionID covers Turn.Validate's
// session id requirement.
func TestStore_CreateTurnRejectsMissingSessionID(t *testing.T) {
	st := newStore()
	_, err := st.CreateTurn(context.Background(), &store.CreateTurn{
		Role:     store.RoleHuman,
		Content:  "hi",
		Metadata: store.TurnMetadata{SenderID: "alice"},
	})
	require.Error(t, err)
	kind, ok := store.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, store.KindInvalidInput, kind)
}

func TestStore_CreateTurnRejectsUnknownSession(t *testing.T) {
	st := newStore()
	_, err := st.CreateTurn(context.Background(), &store.CreateTurn{
		SessionID: "ghost",
		Role:      store.RoleHuman,
		Content:   "hi",
		Metadata:  store.TurnMetadata{SenderID: "alice"},
	})
	require.Error(t, err)
	kind, ok := store.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, store.KindNotFound, kind)
}

func TestStore_ListTurnsNewestFirstWithCursor(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{Participants: []string{"alice"}},
	})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		turn, err := st.CreateTurn(ctx, &store.CreateTurn{
			SessionID: sess.ID,
			Role:      store.RoleHuman,
			Content:   "msg",
			Metadata:  store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText},
		})
		require.NoError(t, err)
		ids = append(ids, turn.ID)
		time.Sleep(time.Millisecond)
	}

	turns, err := st.ListTurns(ctx, store.ListTurnsOptions{Filter: store.FindTurn{SessionID: &sess.ID}})
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{turns[0].ID, turns[1].ID, turns[2].ID})

	windowed, err := st.ListTurns(ctx, store.ListTurnsOptions{
		Filter:   store.FindTurn{SessionID: &sess.ID},
		BeforeID: ids[2],
	})
	require.NoError(t, err)
	require.Len(t, windowed, 2)
	assert.Equal(t, ids[1], windowed[0].ID)
}

// TestStore_ListTurnsBeforeNonexistentIDReturnsEmpty: a cursor naming
// a missing turn yields an empty list, not an error.
func TestStore_ListTurnsBeforeNonexistentIDReturnsEmpty(t *testing.T) {
	st := newStore()
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, &store.CreateSession{
		UserID:   "alice",
		Metadata: store.SessionMetadata{Participants: []string{"alice"}},
	})
	require.NoError(t, err)
	_, err = st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sess.ID,
		Role:      store.RoleHuman,
		Content:   "hi",
		Metadata:  store.TurnMetadata{SenderID: "alice", MessageType: store.MessageText},
	})
	require.NoError(t, err)

	turns, err := st.ListTurns(ctx, store.ListTurnsOptions{
		Filter:   store.FindTurn{SessionID: &sess.ID},
		BeforeID: "nonexistent",
	})
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_ExpressionCreateAndList(t *testing.T) {
	st := newStore()
	ctx := context.Background()

	_, err := st.CreateExpression(ctx, &store.CreateExpression{
		UserID:            "alice",
		SessionID:         "s1",
		Type:              store.ExpressionGreeting,
		Content:           "hi",
		PriorityScore:     0.9,
		RelationshipStage: store.StageFriend,
	})
	require.NoError(t, err)

	exprs, err := st.ListExpressions(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, exprs, 1)
	assert.Equal(t, store.ExpressionGreeting, exprs[0].Type)
}

func TestStore_BumpInteractionCountIncrementsAndPersists(t *testing.T) {
	st := newStore()
	ctx := context.Background()

	count, err := st.BumpInteractionCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = st.BumpInteractionCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	state, err := st.GetFrequencyState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, state.InteractionCount)
}

func TestStore_GetFrequencyStateUnknownUserDefaultsToZero(t *testing.T) {
	st := newStore()
	state, err := st.GetFrequencyState(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, state.InteractionCount)
	assert.Equal(t, "ghost", state.UserID)
}

func TestStore_HealthCheckReportsHealthy(t *testing.T) {
	st := newStore()
	health, err := st.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}
