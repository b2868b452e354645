package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/cache"
	"github.com/hrygo/dialogmesh/store/db/memdriver"
)

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages []llm.Message
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages...)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newManager(t *testing.T, llmSvc llm.Service) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(memdriver.New(false), cache.Config{})
	return New(st, llmSvc, nil, Config{Model: "test-model"}), st
}

// TestDialogue_HumanAIPrivateRoundTrip is scenario S4's human_ai_private
// branch: a user turn is persisted, the LLM is called, and the AI reply
// is persisted with the model stamped into metadata.
func TestDialogue_HumanAIPrivateRoundTrip(t *testing.T) {
	fake := &fakeLLM{reply: "hello there"}
	mgr, st := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueHumanAIPrivate, "", nil)
	require.NoError(t, err)
	assert.Equal(t, store.DialogueHumanAIPrivate, sess.Metadata.DialogueType)
	assert.Equal(t, []string{"alice"}, sess.Metadata.Participants)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "hi", "text", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Response)

	turns, err := st.ListTurns(ctx, store.ListTurnsOptions{Filter: store.FindTurn{SessionID: &sess.ID}})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	// newest first
	assert.Equal(t, store.RoleAI, turns[0].Role)
	assert.Equal(t, "hello there", turns[0].Content)
	assert.Equal(t, "test-model", turns[0].Metadata.Model)
	assert.Equal(t, store.RoleHuman, turns[1].Role)
	assert.Equal(t, "hi", turns[1].Content)
}

// TestDialogue_FallbackOnLLMFailure covers the degrade path: the LLM
// error never propagates to the caller, a fallback reply is persisted
// instead, and the failure is recorded in turn metadata.
func TestDialogue_FallbackOnLLMFailure(t *testing.T) {
	fake := &fakeLLM{err: errors.New("upstream exploded")}
	mgr, _ := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueHumanAIPrivate, "", nil)
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "hi", "text", nil)
	require.NoError(t, err, "LLM failure degrades to a fallback reply rather than an error")
	assert.Contains(t, resp.Response, "hi")
	assert.Equal(t, fallbackModel, resp.Metadata.Model)
	assert.Equal(t, "upstream exploded", resp.Metadata.Extra["error"])
}

// TestDialogue_SelfReflectionFramesPriorDialogue is scenario S4's
// ai_self_reflection branch.
func TestDialogue_SelfReflectionFramesPriorDialogue(t *testing.T) {
	fake := &fakeLLM{reply: "my prior answer was incomplete"}
	mgr, _ := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueAISelfReflection, "", nil)
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "review yourself", "text", nil)
	require.NoError(t, err)
	assert.Equal(t, "my prior answer was incomplete", resp.Response)
	assert.Contains(t, fake.messages[0].Content, "reflecting on your own prior answers")
}

// TestDialogue_GroupChatPrefixesEachSpeaker is scenario S4's
// human_ai_group branch: every historical human turn is prefixed with
// its sender id so the model can distinguish speakers.
func TestDialogue_GroupChatPrefixesEachSpeaker(t *testing.T) {
	fake := &fakeLLM{reply: "got it"}
	mgr, st := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueHumanAIGroup, "", []string{"alice", "bob"})
	require.NoError(t, err)

	_, err = mgr.CreateTurn(ctx, sess.ID, store.RoleHuman, "what's the plan", store.TurnMetadata{SenderID: "bob", MessageType: store.MessageText})
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "let's meet at 3", "text", nil)
	require.NoError(t, err)
	assert.Equal(t, "got it", resp.Response)

	var sawBob, sawAlice bool
	for _, m := range fake.messages {
		if m.Content == "[bob]: what's the plan" {
			sawBob = true
		}
		if m.Content == "[alice]: let's meet at 3" {
			sawAlice = true
		}
	}
	assert.True(t, sawBob, "prior human turn is prefixed with its sender")
	assert.True(t, sawAlice, "current input is prefixed with the acting user")

	turns, err := st.ListTurns(ctx, store.ListTurnsOptions{Filter: store.FindTurn{SessionID: &sess.ID}})
	require.NoError(t, err)
	require.Len(t, turns, 3)
}

// TestDialogue_AIAIAlternatesRoles is scenario S4's ai_ai_dialogue
// branch: the role that did not just speak produces the next turn.
func TestDialogue_AIAIAlternatesRoles(t *testing.T) {
	fake := &fakeLLM{reply: "[beta]: acknowledged"}
	mgr, _ := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alpha", store.DialogueAIAI, "", nil)
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alpha", "opening statement", "text", map[string]any{
		"ai_roles":   []string{"alpha", "beta"},
		"current_ai": "alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, "acknowledged", resp.Response, "the speaking-role prefix is stripped from the stored response")
	assert.Equal(t, "beta", resp.Metadata.AIRole)
}

// TestDialogue_UnsupportedDialogueTypeFallsBack covers the default
// branch of processByDialogueType for a dialogue type the manager
// doesn't recognize.
func TestDialogue_UnsupportedDialogueTypeFallsBack(t *testing.T) {
	fake := &fakeLLM{reply: "never called"}
	mgr, _ := newManager(t, fake)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueType("unknown_type"), "", nil)
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "hi", "text", nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "not currently supported")
	assert.Equal(t, fallbackModel, resp.Metadata.Model)
	assert.Empty(t, fake.messages, "the LLM is never called for an unsupported dialogue type")
}

// TestDialogue_FrequencyIntegratorTagsMetadata exercises the optional
// frequency-awareness collaborator wiring.
func TestDialogue_FrequencyIntegratorTagsMetadata(t *testing.T) {
	st := store.New(memdriver.New(false), cache.Config{})
	fake := &fakeLLM{reply: "hi back"}
	mgr := New(st, fake, stubFrequency{stage: "acquaintance"}, Config{Model: "test-model"})
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "alice", store.DialogueHumanAIPrivate, "", nil)
	require.NoError(t, err)

	resp, err := mgr.ProcessInput(ctx, sess.ID, "alice", "hi", "text", nil)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.FrequencyAware)
	assert.Equal(t, "acquaintance", resp.Metadata.RelationshipStage)
}

type stubFrequency struct{ stage string }

func (s stubFrequency) RelationshipStage(_ context.Context, _, _ string) (string, error) {
	return s.stage, nil
}
