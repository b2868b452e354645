package store

import (
	"time"

	"github.com/pkg/errors"
)

// Role is the speaker attribution of a Turn.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// MessageType classifies a Turn's payload.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageAudio        MessageType = "audio"
	MessageSystem       MessageType = "system"
	MessageUrgent       MessageType = "urgent"
	MessageNotification MessageType = "notification"
)

// bypassesBatching returns true for message types that must flush the
// WebSocket Optimizer queue immediately.
func (m MessageType) bypassesBatching() bool {
	switch m {
	case MessageSystem, MessageUrgent, MessageNotification:
		return true
	default:
		return false
	}
}

// BypassesBatching is the exported form of bypassesBatching, used by
// chat to force a flush after enqueueing system/urgent/notification
// traffic.
func (m MessageType) BypassesBatching() bool { return m.bypassesBatching() }

// TurnMetadata is the tagged-variant view of a Turn's metadata bag.
type TurnMetadata struct {
	SenderID    string
	MessageType MessageType
	HumanChat   bool
	ReadAt      map[string]time.Time
	// AIRole carries the speaking role for ai_ai_dialogue turns (e.g.
	// "alpha"/"beta"), and dialogue-processing metadata for AI turns.
	AIRole            string
	ProcessedAt       *time.Time
	DialogueType      DialogueType
	Model             string
	ToolsUsed         []string
	FrequencyAware    bool
	RelationshipStage string
	Extra             map[string]any
}

// Turn is a single utterance within a session.
type Turn struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
	Metadata  TurnMetadata
}

// MarkRead idempotently sets ReadAt[userID] to at if not already set,
// never overwriting an earlier read timestamp.
func (t *Turn) MarkRead(userID string, at time.Time) {
	if t.Metadata.ReadAt == nil {
		t.Metadata.ReadAt = make(map[string]time.Time)
	}
	if _, already := t.Metadata.ReadAt[userID]; already {
		return
	}
	t.Metadata.ReadAt[userID] = at
}

// IsReadBy reports whether userID has a ReadAt entry.
func (t *Turn) IsReadBy(userID string) bool {
	_, ok := t.Metadata.ReadAt[userID]
	return ok
}

// Validate enforces turn invariants: sender's own read receipt must be
// present.
func (t *Turn) Validate() error {
	if t.SessionID == "" {
		return InvalidInput("Turn.Validate", errors.New("turn requires a session id"))
	}
	if t.Metadata.SenderID == "" {
		return InvalidInput("Turn.Validate", errors.New("turn requires metadata.sender_id"))
	}
	if !t.IsReadBy(t.Metadata.SenderID) {
		return InvalidInput("Turn.Validate", errors.New("sender must have a read receipt on write"))
	}
	return nil
}

// CreateTurn is the input to Driver.CreateTurn.
type CreateTurn struct {
	SessionID string
	Role      Role
	Content   string
	Metadata  TurnMetadata
}

// FindTurn is an equality filter for ListTurns.
type FindTurn struct {
	SessionID *string
	Role      *Role
	Metadata  map[string]string
}

// UpdateTurn is a partial patch. Only ReadAt additions and Extra key
// merges are legal mutations; content is never changed.
type UpdateTurn struct {
	ID          string
	ReadAtPatch map[string]time.Time // merged, never clears existing keys
	ExtraPatch  map[string]any
}

// ListTurnsOptions carries the cursor/limit parameters for ListTurns.
type ListTurnsOptions struct {
	Filter   FindTurn
	Limit    int
	BeforeID string // excluded; newest-first window
}
