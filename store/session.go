package store

import (
	"time"

	"github.com/pkg/errors"
)

// DialogueType is the topology of speakers in a session.
type DialogueType string

const (
	DialogueHumanHumanPrivate DialogueType = "human_human_private"
	DialogueHumanHumanGroup   DialogueType = "human_human_group"
	DialogueHumanAIPrivate    DialogueType = "human_ai_private"
	DialogueAIAI              DialogueType = "ai_ai_dialogue"
	DialogueAISelfReflection  DialogueType = "ai_self_reflection"
	DialogueHumanAIGroup      DialogueType = "human_ai_group"
	DialogueAIMultiHuman      DialogueType = "ai_multi_human"

	// dialogueHumanAIPrivateLegacy is the legacy spelling still present
	// in older persisted records; CanonicalDialogueType maps it forward.
	dialogueHumanAIPrivateLegacy DialogueType = "human_to_ai_private"
)

// CanonicalDialogueType maps the legacy human_to_ai_private spelling to
// human_ai_private. Reads always canonicalize; writers must already
// persist the canonical form (enforced by Session.Validate).
func CanonicalDialogueType(t DialogueType) DialogueType {
	if t == dialogueHumanAIPrivateLegacy {
		return DialogueHumanAIPrivate
	}
	return t
}

// IsAIBearing reports whether a dialogue type ever carries AI-authored
// turns, i.e. whether the Dialogue Manager (rather than only the Chat
// Manager) is responsible for it.
func (t DialogueType) IsAIBearing() bool {
	switch CanonicalDialogueType(t) {
	case DialogueHumanAIPrivate, DialogueAIAI, DialogueAISelfReflection,
		DialogueHumanAIGroup, DialogueAIMultiHuman:
		return true
	default:
		return false
	}
}

// SessionMetadata is the tagged-variant view of a Session's open metadata
// bag: known fields are typed, everything else lives in Extra (design
// note "Dynamic configuration and metadata bags").
type SessionMetadata struct {
	DialogueType DialogueType   `json:"dialogue_type"`
	Participants []string       `json:"participants"`
	Status       string         `json:"status,omitempty"`
	Extra        map[string]any `json:"-"`
}

// Session is a durable conversation container.
type Session struct {
	ID           string
	UserID       string // creator
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity time.Time
	Metadata     SessionMetadata
}

// HasParticipant reports whether userID is a member of the session.
func (s *Session) HasParticipant(userID string) bool {
	for _, p := range s.Metadata.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Validate enforces the session invariants: creator present
// and first, no duplicate participants, canonical dialogue type.
func (s *Session) Validate() error {
	if len(s.Metadata.Participants) == 0 {
		return InvalidInput("Session.Validate", errors.New("session has no participants"))
	}
	if s.Metadata.Participants[0] != s.UserID {
		return InvalidInput("Session.Validate", errors.New("creator must be participants[0]"))
	}
	seen := make(map[string]bool, len(s.Metadata.Participants))
	for _, p := range s.Metadata.Participants {
		if seen[p] {
			return InvalidInput("Session.Validate", errors.New("duplicate participant: "+p))
		}
		seen[p] = true
	}
	s.Metadata.DialogueType = CanonicalDialogueType(s.Metadata.DialogueType)
	return nil
}

// CreateSession is the input to Driver.CreateSession.
type CreateSession struct {
	UserID   string
	Title    string
	Metadata SessionMetadata
	// Nonce, if non-empty, makes the create idempotent: a repeat call with
	// the same nonce returns the previously created session rather than a
	// duplicate.
	Nonce string
}

// FindSession is a filter for ListSessions. Equality-only, on
// top-level and metadata fields; evaluated via store/filter.go.
type FindSession struct {
	ID       *string
	UserID   *string
	Metadata map[string]string // "metadata.status" -> "archived", etc.
}

// UpdateSession is a partial patch. Never touches DialogueType or the
// creator (Participants[0]); bumps UpdatedAt.
type UpdateSession struct {
	ID           string
	Title        *string
	Status       *string
	Participants []string // replaces the whole list except [0], if set
	LastActivity *time.Time
	ExtraPatch   map[string]any
}
