package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
)

func TestFilter_EmptyPredicateMatchesEverything(t *testing.T) {
	p, err := store.CompilePredicate("")
	require.NoError(t, err)
	ok, err := p.Match(map[string]any{"id": "anything"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_BuildSessionEqualityExprFiltersOnUserIDAndMetadata(t *testing.T) {
	userID := "alice"
	find := &store.FindSession{UserID: &userID, Metadata: map[string]string{"metadata.status": "archived"}}
	expr := store.BuildSessionEqualityExpr(find)
	p, err := store.CompilePredicate(expr)
	require.NoError(t, err)

	sess := &store.Session{ID: "s1", UserID: "alice", Metadata: store.SessionMetadata{Status: "archived"}}
	ok, err := p.Match(store.SessionVars(sess))
	require.NoError(t, err)
	assert.True(t, ok)

	sess.Metadata.Status = "active"
	ok, err = p.Match(store.SessionVars(sess))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_BuildTurnEqualityExprFiltersOnRole(t *testing.T) {
	role := store.RoleAI
	find := &store.FindTurn{Role: &role}
	p, err := store.CompilePredicate(store.BuildTurnEqualityExpr(find))
	require.NoError(t, err)

	aiTurn := &store.Turn{ID: "t1", Role: store.RoleAI, Metadata: store.TurnMetadata{SenderID: "bot"}}
	ok, err := p.Match(store.TurnVars(aiTurn))
	require.NoError(t, err)
	assert.True(t, ok)

	humanTurn := &store.Turn{ID: "t2", Role: store.RoleHuman, Metadata: store.TurnMetadata{SenderID: "alice"}}
	ok, err = p.Match(store.TurnVars(humanTurn))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_HumanChatFilterMatchesBooleanMetadata(t *testing.T) {
	humanChat := &store.Turn{ID: "t1", Metadata: store.TurnMetadata{HumanChat: true}}
	aiChat := &store.Turn{ID: "t2", Metadata: store.TurnMetadata{HumanChat: false}}

	ok, err := store.HumanChatFilter.Match(store.TurnVars(humanChat))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HumanChatFilter.Match(store.TurnVars(aiChat))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_InvalidExpressionFailsToCompile(t *testing.T) {
	_, err := store.CompilePredicate("not a valid cel expression (((")
	assert.Error(t, err)
}
