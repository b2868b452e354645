package frequency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/cache"
	"github.com/hrygo/dialogmesh/store/db/memdriver"
)

func baseEmission(exprType store.ExpressionType, content string) Emission {
	return Emission{
		Content: EmittedContent{
			Type:    exprType,
			Content: content,
			ContextReference: map[string]any{
				"user_activity":       0.0,
				"time_period":         "afternoon",
				"conversation_active": false,
			},
		},
		PriorityScore: 0.5,
	}
}

// TestPlanner_FallsBackToStoreInteractionCount covers the nil
// UserInfoProvider path: relationship stage is derived purely from the
// persisted interaction_count.
func TestPlanner_FallsBackToStoreInteractionCount(t *testing.T) {
	st := store.New(memdriver.New(false), cache.Config{})
	ctx := context.Background()
	require.NoError(t, st.PutFrequencyState(ctx, &store.FrequencyState{UserID: "alice", InteractionCount: 30}))

	p := NewPlanner(st, nil)
	planned, err := p.Plan(ctx, baseEmission(store.ExpressionGreeting, "hey"), "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StageFamiliar, planned.RelationshipStage)
	assert.Equal(t, 30, planned.UserInfo.InteractionCount)
	assert.Equal(t, "friend", planned.UserInfo.Name, "no provider means the default placeholder name is used")
}

// TestPlanner_UnknownUserDefaultsToStranger covers a never-seen user:
// GetFrequencyState returns a zero-valued state rather than an error.
func TestPlanner_UnknownUserDefaultsToStranger(t *testing.T) {
	st := store.New(memdriver.New(false), cache.Config{})
	p := NewPlanner(st, nil)
	planned, err := p.Plan(context.Background(), baseEmission(store.ExpressionGreeting, "hey"), "ghost", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StageStranger, planned.RelationshipStage)
}

type stubUserInfo struct{ info UserInfo }

func (s stubUserInfo) UserInfo(_ context.Context, _ string) (UserInfo, error) { return s.info, nil }

// TestPlanner_CustomProviderOverridesStore ensures an explicit
// UserInfoProvider takes priority over store-derived interaction_count.
func TestPlanner_CustomProviderOverridesStore(t *testing.T) {
	st := store.New(memdriver.New(false), cache.Config{})
	ctx := context.Background()
	require.NoError(t, st.PutFrequencyState(ctx, &store.FrequencyState{UserID: "bob", InteractionCount: 200}))

	p := NewPlanner(st, stubUserInfo{info: UserInfo{Name: "Bob", InteractionCount: 2}})
	planned, err := p.Plan(ctx, baseEmission(store.ExpressionGreeting, "hey"), "bob", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StageStranger, planned.RelationshipStage, "the provider's count wins over the persisted one")
	assert.Equal(t, "Bob", planned.UserInfo.Name)
}

func TestPlanner_ContentUnknownTypeIsUnchanged(t *testing.T) {
	st := store.New(memdriver.New(false), cache.Config{})
	p := NewPlanner(st, nil)
	planned, err := p.Plan(context.Background(), baseEmission(store.ExpressionObservation, "no template for this type"), "nobody", "sess-1")
	require.NoError(t, err)
	assert.Contains(t, planned.Content.Content, "no template for this type")
}
