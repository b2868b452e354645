// Package chat implements the chat manager: session and message
// lifecycle for human↔human dialogue (private and group), read
// receipts, typing, and unread counts. The Manager is a facade
// delegating to collaborator packages, wrapping every error with
// github.com/pkg/errors.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/realtime/notify"
	"github.com/hrygo/dialogmesh/realtime/wsopt"
	"github.com/hrygo/dialogmesh/store"
)

// Router is the subset of realtime/router.Router needed for a
// single-recipient notification (read receipts target only the original
// sender, not the whole session — unlike notify.Service.Notify's
// broadcast-to-participants behavior).
type Router interface {
	DeliverToUser(ctx context.Context, userID string, message any) error
}

// Manager is the Chat Manager.
type Manager struct {
	st       *store.Store
	wsopt    *wsopt.Optimizer
	notifier *notify.Service
	router   Router
}

// New wires a Manager to its collaborators.
func New(st *store.Store, wsopt *wsopt.Optimizer, notifier *notify.Service, router Router) *Manager {
	return &Manager{st: st, wsopt: wsopt, notifier: notifier, router: router}
}

// CreatePrivateChat opens a two-party session between a and b; a == b is
// rejected.
func (m *Manager) CreatePrivateChat(ctx context.Context, a, b, title string) (*store.Session, error) {
	if a == b {
		return nil, store.InvalidInput("CreatePrivateChat", errors.New("cannot create a private chat with oneself"))
	}
	sess, err := m.st.CreateSession(ctx, &store.CreateSession{
		UserID: a,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanPrivate,
			Participants: []string{a, b},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "CreatePrivateChat")
	}
	return sess, nil
}

// CreateGroupChat opens a session among creator and members, deduplicating
// and always including the creator as participants[0].
func (m *Manager) CreateGroupChat(ctx context.Context, creator string, members []string, title string) (*store.Session, error) {
	seen := map[string]bool{creator: true}
	participants := []string{creator}
	for _, member := range members {
		if !seen[member] {
			seen[member] = true
			participants = append(participants, member)
		}
	}
	sess, err := m.st.CreateSession(ctx, &store.CreateSession{
		UserID: creator,
		Title:  title,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanHumanGroup,
			Participants: participants,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "CreateGroupChat")
	}
	return sess, nil
}

// SendMessage persists a human↔human turn and fans it out to every
// participant other than the sender.
func (m *Manager) SendMessage(ctx context.Context, actor, sessionID, content string, messageType store.MessageType) (*store.Turn, error) {
	sess, err := m.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "SendMessage")
	}
	if sess == nil {
		return nil, store.NotFound("SendMessage", errors.Errorf("session %s not found", sessionID))
	}
	if !sess.HasParticipant(actor) {
		return nil, store.Forbidden("SendMessage", errors.Errorf("user %s is not a participant of session %s", actor, sessionID))
	}

	turn, err := m.st.CreateTurn(ctx, &store.CreateTurn{
		SessionID: sessionID,
		Role:      store.RoleHuman,
		Content:   content,
		Metadata: store.TurnMetadata{
			SenderID:    actor,
			MessageType: messageType,
			HumanChat:   true,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "SendMessage")
	}

	now := time.Now()
	if _, err := m.st.UpdateSession(ctx, &store.UpdateSession{ID: sessionID, LastActivity: &now}); err != nil {
		return nil, errors.Wrap(err, "SendMessage")
	}

	for _, recipient := range sess.Metadata.Participants {
		if recipient == actor {
			continue
		}
		_ = m.wsopt.Enqueue(ctx, recipient, map[string]any{
			"type":         "new_message",
			"turn_id":      turn.ID,
			"session_id":   sessionID,
			"sender_id":    actor,
			"content":      content,
			"message_type": string(messageType),
		})
		if messageType.BypassesBatching() {
			_ = m.wsopt.Flush(ctx, recipient)
		}
	}

	// The interaction_count bump applies to both sides of a human↔human
	// turn, not just the acting user. Best-effort, failures are not
	// propagated.
	for _, participant := range sess.Metadata.Participants {
		if _, err := m.st.BumpInteractionCount(ctx, participant); err != nil {
			slog.Warn("chat: interaction count bump failed", "user_id", participant, "error", err)
		}
	}

	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, notify.EventNewMessage, sessionID, actor, map[string]any{
			"turn_id": turn.ID,
		})
	}
	return turn, nil
}

// ReadMessage marks turnID read
// by reader and notify the original sender with message_read.
func (m *Manager) ReadMessage(ctx context.Context, reader, turnID string) error {
	turn, err := m.st.GetTurn(ctx, turnID)
	if err != nil {
		return errors.Wrap(err, "ReadMessage")
	}
	if turn == nil {
		return store.NotFound("ReadMessage", errors.Errorf("turn %s not found", turnID))
	}
	sess, err := m.st.GetSession(ctx, turn.SessionID)
	if err != nil {
		return errors.Wrap(err, "ReadMessage")
	}
	if sess == nil || !sess.HasParticipant(reader) {
		return store.Forbidden("ReadMessage", errors.Errorf("user %s is not a participant of session %s", reader, turn.SessionID))
	}

	now := time.Now()
	if _, err := m.st.UpdateTurn(ctx, &store.UpdateTurn{
		ID:          turnID,
		ReadAtPatch: map[string]time.Time{reader: now},
	}); err != nil {
		return errors.Wrap(err, "ReadMessage")
	}

	if turn.Metadata.SenderID != "" && turn.Metadata.SenderID != reader && m.router != nil {
		_ = m.router.DeliverToUser(ctx, turn.Metadata.SenderID, map[string]any{
			"type":       "message_read",
			"turn_id":    turnID,
			"session_id": turn.SessionID,
			"reader_id":  reader,
			"timestamp":  now,
		})
	}
	return nil
}

// Typing validates membership and routes a typing indicator to every
// other participant with immediate flush; offline participants are
// skipped.
func (m *Manager) Typing(ctx context.Context, actor, sessionID string) error {
	sess, err := m.st.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "Typing")
	}
	if sess == nil {
		return store.NotFound("Typing", errors.Errorf("session %s not found", sessionID))
	}
	if !sess.HasParticipant(actor) {
		return store.Forbidden("Typing", errors.Errorf("user %s is not a participant of session %s", actor, sessionID))
	}
	for _, participant := range sess.Metadata.Participants {
		if participant == actor {
			continue
		}
		_ = m.wsopt.Enqueue(ctx, participant, map[string]any{
			"type":       "typing",
			"session_id": sessionID,
			"actor_id":   actor,
		})
	}
	return nil
}

// ListUnread counts turns in sessionID sent by someone other than userID
// with no read receipt for userID.
func (m *Manager) ListUnread(ctx context.Context, sessionID, userID string) (int, error) {
	turns, err := m.st.ListTurns(ctx, store.ListTurnsOptions{
		Filter: store.FindTurn{SessionID: &sessionID},
	})
	if err != nil {
		return 0, errors.Wrap(err, "ListUnread")
	}
	count := 0
	for _, t := range turns {
		if !t.Metadata.HumanChat {
			continue
		}
		if t.Metadata.SenderID == userID {
			continue
		}
		if !t.IsReadBy(userID) {
			count++
		}
	}
	return count, nil
}
