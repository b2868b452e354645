package store

import "time"

// RelationshipStage is derived from a user's interaction_count.
type RelationshipStage string

const (
	StageStranger     RelationshipStage = "stranger"
	StageAcquaintance RelationshipStage = "acquaintance"
	StageFamiliar     RelationshipStage = "familiar"
	StageFriend       RelationshipStage = "friend"
	StageCloseFriend  RelationshipStage = "close_friend"
)

// DeriveRelationshipStage maps an interaction count to a stage using the
// bucket boundaries: stranger [0,5], acquaintance [6,20],
// familiar [21,50], friend [51,100], close_friend (100,∞).
func DeriveRelationshipStage(interactionCount int) RelationshipStage {
	switch {
	case interactionCount <= 5:
		return StageStranger
	case interactionCount <= 20:
		return StageAcquaintance
	case interactionCount <= 50:
		return StageFamiliar
	case interactionCount <= 100:
		return StageFriend
	default:
		return StageCloseFriend
	}
}

// ExpressionType is the kind of proactive utterance.
type ExpressionType string

const (
	ExpressionGreeting    ExpressionType = "greeting"
	ExpressionQuestion    ExpressionType = "question"
	ExpressionSuggestion  ExpressionType = "suggestion"
	ExpressionReminder    ExpressionType = "reminder"
	ExpressionObservation ExpressionType = "observation"
)

// Expression is a persisted record of one proactive AI utterance
//.
type Expression struct {
	ID                string
	UserID            string
	SessionID         string
	Type              ExpressionType
	Content           string
	PriorityScore     float64
	RelationshipStage RelationshipStage
	Timestamp         time.Time
}

// CreateExpression is the input to Driver.CreateExpression.
type CreateExpression struct {
	UserID            string
	SessionID         string
	Type              ExpressionType
	Content           string
	PriorityScore     float64
	RelationshipStage RelationshipStage
}

// FrequencyState is the persisted snapshot of per-user
// frequency-pipeline bookkeeping: the last expression time and the
// interaction count.
type FrequencyState struct {
	UserID           string
	LastExpressionAt time.Time
	InteractionCount int
	UpdatedAt        time.Time
}
