// Package dialogue implements the dialogue manager: the per-turn state
// machine for AI-bearing dialogue types. Each dialogue type gets its
// own prompt-assembly branch; an LLM failure degrades to a fallback
// response object while the user turn stays persisted.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/store"
)

const (
	defaultHistoryLimit = 20
	fallbackModel       = "fallback"
)

// FrequencyIntegrator is the optional collaborator that tags AI turns
// with frequency-awareness metadata. frequency.Integrator satisfies this.
type FrequencyIntegrator interface {
	RelationshipStage(ctx context.Context, sessionID, userID string) (string, error)
}

// Manager is the Dialogue Manager.
type Manager struct {
	st           *store.Store
	llm          llm.Service
	frequency    FrequencyIntegrator
	model        string
	historyLimit int
}

// Config configures a Manager. Model is stamped into response metadata
// as a display name, separate from the llm client's internal routing.
type Config struct {
	Model        string
	HistoryLimit int // default 20
}

// New wires a Manager to its collaborators. frequency may be nil: the
// Dialogue Manager runs without frequency-awareness metadata in that case.
func New(st *store.Store, llmSvc llm.Service, frequency FrequencyIntegrator, cfg Config) *Manager {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Manager{st: st, llm: llmSvc, frequency: frequency, model: cfg.Model, historyLimit: limit}
}

// Response is the composed object processInput returns.
type Response struct {
	ID        string
	Input     string
	Response  string
	SessionID string
	Timestamp time.Time
	Metadata  store.TurnMetadata
}

// CreateSession opens a new dialogue-bearing session, defaulting to
// human_ai_private and ensuring userID is a participant.
func (m *Manager) CreateSession(ctx context.Context, userID string, dialogueType store.DialogueType, title string, participants []string) (*store.Session, error) {
	if dialogueType == "" {
		dialogueType = store.DialogueHumanAIPrivate
	}
	if title == "" {
		title = fmt.Sprintf("Dialogue %s", time.Now().Format("2006-01-02 15:04:05"))
	}
	if len(participants) == 0 {
		participants = []string{userID}
	} else {
		found := false
		for _, p := range participants {
			if p == userID {
				found = true
				break
			}
		}
		if !found {
			participants = append([]string{userID}, participants...)
		}
	}
	sess, err := m.st.CreateSession(ctx, &store.CreateSession{
		UserID: userID,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: dialogueType,
			Participants: participants,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: CreateSession")
	}
	return sess, nil
}

// CreateTurn persists a single turn with no dialogue processing — a
// thin pass-through used by ProcessInput and directly by callers that
// need to inject a system turn.
func (m *Manager) CreateTurn(ctx context.Context, sessionID string, role store.Role, content string, metadata store.TurnMetadata) (*store.Turn, error) {
	if metadata.ReadAt == nil {
		metadata.ReadAt = make(map[string]time.Time)
	}
	if metadata.SenderID != "" {
		if _, ok := metadata.ReadAt[metadata.SenderID]; !ok {
			metadata.ReadAt[metadata.SenderID] = time.Now()
		}
	}
	turn, err := m.st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: CreateTurn")
	}
	return turn, nil
}

// ProcessInput persists the user turn, dispatches on dialogue type to
// produce the AI reply, persists that too, and returns the composed
// response object.
func (m *Manager) ProcessInput(ctx context.Context, sessionID, userID, content, inputType string, metadata map[string]any) (*Response, error) {
	userTurn, err := m.CreateTurn(ctx, sessionID, store.RoleHuman, content, store.TurnMetadata{
		SenderID:    userID,
		MessageType: store.MessageText,
		HumanChat:   false,
		Extra:       metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: ProcessInput persisting user turn")
	}

	sess, err := m.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: ProcessInput loading session")
	}
	dialogueType := store.DialogueHumanAIPrivate
	if sess != nil && sess.Metadata.DialogueType != "" {
		dialogueType = store.CanonicalDialogueType(sess.Metadata.DialogueType)
	}

	turns, err := m.st.ListTurns(ctx, store.ListTurnsOptions{
		Filter: store.FindTurn{SessionID: &sessionID},
		Limit:  m.historyLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: ProcessInput loading history")
	}
	// turns comes back newest-first; the prompt builders
	// below all want chronological order.
	history := make([]*store.Turn, len(turns))
	for i, t := range turns {
		history[len(turns)-1-i] = t
	}
	// Exclude the turn we just persisted; it's folded into the current
	// input by each branch below instead of replayed from history.
	if n := len(history); n > 0 && history[n-1].ID == userTurn.ID {
		history = history[:n-1]
	}

	var participants []string
	if sess != nil {
		participants = sess.Metadata.Participants
	}

	respContent, respMeta := m.processByDialogueType(ctx, dialogueType, sessionID, userID, content, history, participants, metadata)

	if m.frequency != nil {
		if stage, err := m.frequency.RelationshipStage(ctx, sessionID, userID); err != nil {
			slog.Warn("dialogue: relationship stage lookup failed", "error", err)
		} else {
			respMeta.FrequencyAware = true
			respMeta.RelationshipStage = stage
		}
	}

	// The AI reply is attributed to the fixed sender "ai" so it carries
	// the sender_id and read receipt every persisted turn needs.
	if respMeta.SenderID == "" {
		respMeta.SenderID = "ai"
	}
	aiTurn, err := m.CreateTurn(ctx, sessionID, store.RoleAI, respContent, respMeta)
	if err != nil {
		return nil, errors.Wrap(err, "dialogue: ProcessInput persisting AI turn")
	}

	if _, err := m.st.BumpInteractionCount(ctx, userID); err != nil {
		slog.Warn("dialogue: interaction count bump failed", "user_id", userID, "error", err)
	}

	return &Response{
		ID:        uuid.NewString(),
		Input:     content,
		Response:  respContent,
		SessionID: sessionID,
		Timestamp: aiTurn.CreatedAt,
		Metadata:  respMeta,
	}, nil
}

func baseMetadata(dialogueType store.DialogueType) store.TurnMetadata {
	now := time.Now()
	return store.TurnMetadata{
		DialogueType: dialogueType,
		ProcessedAt:  &now,
		ToolsUsed:    []string{},
	}
}

func (m *Manager) processByDialogueType(ctx context.Context, dialogueType store.DialogueType, sessionID, userID, content string, history []*store.Turn, participants []string, metadata map[string]any) (string, store.TurnMetadata) {
	switch dialogueType {
	case store.DialogueHumanAIPrivate:
		return m.processHumanAIPrivate(ctx, sessionID, userID, content, history)
	case store.DialogueAISelfReflection:
		return m.processSelfReflection(ctx, content, history)
	case store.DialogueHumanAIGroup, store.DialogueAIMultiHuman:
		return m.processGroupChat(ctx, dialogueType, userID, content, history, participants)
	case store.DialogueAIAI:
		return m.processAIAI(ctx, content, history, metadata)
	default:
		meta := baseMetadata(dialogueType)
		meta.Model = fallbackModel
		return fmt.Sprintf("Sorry, dialogue type %q is not currently supported.", dialogueType), meta
	}
}

// processHumanAIPrivate builds system preamble + last-N turns + current
// input. Retrieved-memory augmentation is left to a future memory
// collaborator; absent one, the preamble is a fixed assistant framing.
func (m *Manager) processHumanAIPrivate(ctx context.Context, sessionID, userID, content string, history []*store.Turn) (string, store.TurnMetadata) {
	messages := []llm.Message{
		{Role: "system", Content: "You are a helpful, attentive conversational assistant."},
	}
	for _, t := range history {
		messages = append(messages, historyMessage(t))
	}
	messages = append(messages, llm.Message{Role: "user", Content: content})

	meta := baseMetadata(store.DialogueHumanAIPrivate)
	resp, err := m.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("dialogue: human_ai_private LLM call failed", "session_id", sessionID, "error", err)
		meta.Model = fallbackModel
		meta.Extra = map[string]any{"error": err.Error()}
		return fallbackReply(content), meta
	}
	meta.Model = m.model
	return resp, meta
}

// processSelfReflection frames a self-critique over the full prior
// dialogue.
func (m *Manager) processSelfReflection(ctx context.Context, content string, history []*store.Turn) (string, store.TurnMetadata) {
	messages := []llm.Message{
		{Role: "system", Content: "You are reflecting on your own prior answers. Assess their accuracy, completeness, and usefulness, and suggest improvements."},
	}
	for _, t := range history {
		messages = append(messages, historyMessage(t))
	}
	messages = append(messages, llm.Message{Role: "user", Content: "Reflect on the above dialogue: " + content})

	meta := baseMetadata(store.DialogueAISelfReflection)
	resp, err := m.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("dialogue: ai_self_reflection LLM call failed", "error", err)
		meta.Model = fallbackModel
		meta.Extra = map[string]any{"error": err.Error()}
		return fallbackReply(content), meta
	}
	meta.Model = m.model
	return resp, meta
}

// processGroupChat prefixes every historical human turn with its
// sender.
func (m *Manager) processGroupChat(ctx context.Context, dialogueType store.DialogueType, userID, content string, history []*store.Turn, participants []string) (string, store.TurnMetadata) {
	var preamble string
	if dialogueType == store.DialogueHumanAIGroup {
		preamble = fmt.Sprintf("This is a group chat with multiple human users and an AI. Participants: %s. Reply appropriately given the conversation context and the current speaker's identity.", strings.Join(participants, ", "))
	} else {
		preamble = fmt.Sprintf("You are an AI assistant in a conversation with multiple human users. Participants: %s. Reply appropriately given the conversation context and the current speaker's identity.", strings.Join(participants, ", "))
	}

	messages := []llm.Message{{Role: "system", Content: preamble}}
	for _, t := range history {
		if t.Role == store.RoleHuman {
			messages = append(messages, llm.Message{Role: "user", Content: fmt.Sprintf("[%s]: %s", t.Metadata.SenderID, t.Content)})
		} else if t.Role == store.RoleAI {
			messages = append(messages, llm.Message{Role: "assistant", Content: t.Content})
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: fmt.Sprintf("[%s]: %s", userID, content)})

	meta := baseMetadata(dialogueType)
	resp, err := m.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("dialogue: group chat LLM call failed", "dialogue_type", dialogueType, "error", err)
		meta.Model = fallbackModel
		meta.Extra = map[string]any{"error": err.Error()}
		return fallbackReply(content), meta
	}
	meta.Model = m.model
	return resp, meta
}

// processAIAI alternates between two AI roles: the role that did not
// just speak produces the next turn. ai_roles and current_ai travel in
// the caller-supplied metadata.
func (m *Manager) processAIAI(ctx context.Context, content string, history []*store.Turn, metadata map[string]any) (string, store.TurnMetadata) {
	aiRoles := []string{"alpha", "beta"}
	if raw, ok := metadata["ai_roles"].([]string); ok && len(raw) == 2 {
		aiRoles = raw
	}
	currentAI := aiRoles[0]
	if raw, ok := metadata["current_ai"].(string); ok && raw != "" {
		currentAI = raw
	}
	nextAI := aiRoles[1]
	if currentAI == aiRoles[1] {
		nextAI = aiRoles[0]
	}

	preamble := fmt.Sprintf("This is a dialogue between two AI roles. You are now playing %s, talking with %s. Reply in character.", nextAI, currentAI)
	messages := []llm.Message{{Role: "system", Content: preamble}}
	for i, t := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		aiRole := t.Metadata.AIRole
		if aiRole == "" {
			aiRole = aiRoles[0]
		}
		messages = append(messages, llm.Message{Role: role, Content: fmt.Sprintf("[%s]: %s", aiRole, t.Content)})
	}
	nextRole := "user"
	if len(messages)%2 == 0 {
		nextRole = "assistant"
	}
	messages = append(messages, llm.Message{Role: nextRole, Content: fmt.Sprintf("[%s]: %s", currentAI, content)})

	meta := baseMetadata(store.DialogueAIAI)
	meta.AIRole = nextAI
	raw, err := m.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("dialogue: ai_ai_dialogue LLM call failed", "error", err)
		meta.Model = fallbackModel
		meta.Extra = map[string]any{"error": err.Error()}
		return fallbackReply(content), meta
	}
	meta.Model = m.model

	resp := raw
	for _, role := range aiRoles {
		prefix := fmt.Sprintf("[%s]: ", role)
		if strings.HasPrefix(resp, prefix) {
			resp = strings.TrimPrefix(resp, prefix)
			break
		}
	}
	return resp, meta
}

func historyMessage(t *store.Turn) llm.Message {
	switch t.Role {
	case store.RoleHuman:
		return llm.Message{Role: "user", Content: t.Content}
	case store.RoleAI:
		return llm.Message{Role: "assistant", Content: t.Content}
	default:
		return llm.Message{Role: "system", Content: t.Content}
	}
}

func fallbackReply(content string) string {
	return fmt.Sprintf("I'm an AI assistant. I can't produce a reasoned reply right now, but I did receive your message: %q", content)
}
