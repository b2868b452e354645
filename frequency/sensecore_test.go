package frequency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/store"
)

type stubChatLLM struct {
	reply string
	err   error
}

func (s stubChatLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

// TestSenseCore_CooldownGatesRepeatedDecisions is scenario S5: once an
// expression has been decided, a second call within the cooldown window
// is rejected regardless of how expressible the context looks.
func TestSenseCore_CooldownGatesRepeatedDecisions(t *testing.T) {
	sc := NewSenseCore(NewSampler(nil), stubChatLLM{reply: "hi"}, SenseCoreConfig{ExpressionThreshold: 0.0001})
	ctx := context.Background()

	should, emission := sc.DecideExpression(ctx, Context{UserInput: "hello"})
	require.True(t, should, "priority score is always > the near-zero threshold")
	require.NotNil(t, emission)

	should, emission = sc.DecideExpression(ctx, Context{UserInput: "hello again"})
	assert.False(t, should, "a second decision inside the default 300s cooldown is rejected")
	assert.Nil(t, emission)
}

// TestSenseCore_HighPriorityNotificationForcesImmediateReminder pins the
// deterministic branches of decideTiming/selectExpressionType: a
// high-priority external event always yields an immediate reminder,
// independent of the random weighted-type selection.
func TestSenseCore_HighPriorityNotificationForcesImmediateReminder(t *testing.T) {
	sc := NewSenseCore(NewSampler(nil), stubChatLLM{err: errors.New("llm down")}, SenseCoreConfig{
		ExpressionThreshold: 0.0001,
		Cooldown:            time.Nanosecond,
	})
	ctx := context.Background()

	should, emission := sc.DecideExpression(ctx, Context{
		UserInput:     "ping",
		Notifications: []Notification{{Priority: "high"}},
	})
	require.True(t, should)
	assert.Equal(t, store.ExpressionReminder, emission.Content.Type)
	assert.Equal(t, "immediate", emission.Timing.Type)
	assert.Equal(t, fallbackContent[store.ExpressionReminder], emission.Content.Content, "an LLM failure falls back to the canned per-type content")
}

func TestSenseCore_HistoryIsBounded(t *testing.T) {
	sc := NewSenseCore(NewSampler(nil), stubChatLLM{reply: "hi"}, SenseCoreConfig{
		ExpressionThreshold: 0.0001,
		Cooldown:            time.Nanosecond,
	})
	ctx := context.Background()
	for i := 0; i < expressionHistorySize+5; i++ {
		sc.DecideExpression(ctx, Context{UserInput: "hi", Notifications: []Notification{{Priority: "high"}}})
	}
	assert.Len(t, sc.History(0), expressionHistorySize)
}

func TestSenseCore_LastExpressionAtHydratesFromConfig(t *testing.T) {
	seed := time.Now().Add(-time.Hour)
	sc := NewSenseCore(NewSampler(nil), stubChatLLM{reply: "hi"}, SenseCoreConfig{LastExpressionAt: seed})
	assert.Equal(t, seed, sc.LastExpressionAt())
}
