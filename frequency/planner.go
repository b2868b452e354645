package frequency

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/hrygo/dialogmesh/store"
)

// UserInfo is the subset of user profile data the Planner adjusts
// expression style against.
type UserInfo struct {
	Name             string
	InteractionCount int
	Preferences      map[string]any // "preferred_emojis" []string, "preferred_name" string
	TopicsOfInterest []string
}

// UserInfoProvider resolves a UserInfo for the Planner. A nil provider
// falls back to defaults sourced only from store.FrequencyState's
// interaction_count.
type UserInfoProvider interface {
	UserInfo(ctx context.Context, userID string) (UserInfo, error)
}

type formalityStyle struct {
	honorifics bool
	emoji      bool
}

var formalityStyles = map[string]formalityStyle{
	"high":        {honorifics: true, emoji: false},
	"medium-high": {honorifics: true, emoji: true},
	"medium":      {honorifics: false, emoji: true},
	"medium-low":  {honorifics: false, emoji: true},
	"low":         {honorifics: false, emoji: true},
}

var stageFormality = map[store.RelationshipStage]string{
	store.StageStranger:     "high",
	store.StageAcquaintance: "medium-high",
	store.StageFamiliar:     "medium",
	store.StageFriend:       "medium-low",
	store.StageCloseFriend:  "low",
}

// expressionTemplates[type][stage] holds one representative template
// per cell with {name}/{topic} placeholders.
var expressionTemplates = map[store.ExpressionType]map[store.RelationshipStage]string{
	store.ExpressionGreeting: {
		store.StageStranger:     "Hello, how can I help you today?",
		store.StageAcquaintance: "Good to see you again — anything I can do for you?",
		store.StageFamiliar:     "Hey, how's your day going?",
		store.StageFriend:       "Hey, how have things been?",
		store.StageCloseFriend:  "Hey! Missed chatting with you.",
	},
	store.ExpressionQuestion: {
		store.StageStranger:     "What kinds of topics are you interested in?",
		store.StageAcquaintance: "You mentioned {topic} before — want to talk more about it?",
		store.StageFamiliar:     "What do you think about {topic}? I'm curious.",
		store.StageFriend:       "Have you thought more about {topic} lately?",
		store.StageCloseFriend:  "I keep wondering — how do you really feel about {topic}?",
	},
}

var emojiSet = []string{"😊", "👍", "🙂", "✨", "🌟"}

// Planner adjusts an emitted expression's content and style based on
// relationship stage.
type Planner struct {
	store    *store.Store
	userInfo UserInfoProvider
}

// NewPlanner constructs a Planner. userInfo may be nil to use only
// store-derived interaction_count with otherwise-default UserInfo.
func NewPlanner(st *store.Store, userInfo UserInfoProvider) *Planner {
	return &Planner{store: st, userInfo: userInfo}
}

// Planned is an Emission enriched with relationship-stage-adjusted
// content and a user_info summary.
type Planned struct {
	Emission
	RelationshipStage store.RelationshipStage
	UserInfo          UserInfo
	UserID            string
	SessionID         string
}

// Plan shapes an emission to the user's relationship stage and style
// preferences.
func (p *Planner) Plan(ctx context.Context, emission Emission, userID string, sessionID string) (*Planned, error) {
	info, err := p.resolveUserInfo(ctx, userID)
	if err != nil {
		return nil, err
	}
	stage := store.DeriveRelationshipStage(info.InteractionCount)

	content := p.adjustContent(emission.Content, stage, info)
	content = p.adjustStyle(content, stage, info)

	emission.Content.Content = content
	return &Planned{
		Emission:          emission,
		RelationshipStage: stage,
		UserInfo:          info,
		UserID:            userID,
		SessionID:         sessionID,
	}, nil
}

func (p *Planner) resolveUserInfo(ctx context.Context, userID string) (UserInfo, error) {
	if p.userInfo != nil {
		info, err := p.userInfo.UserInfo(ctx, userID)
		if err != nil {
			return UserInfo{}, err
		}
		return info, nil
	}
	count := 0
	if p.store != nil {
		state, err := p.store.GetFrequencyState(ctx, userID)
		if err == nil && state != nil {
			count = state.InteractionCount
		}
	}
	return UserInfo{Name: "friend", InteractionCount: count}, nil
}

// adjustContent substitutes a relationship-keyed template 30% of the
// time, else keeps the original seed content.
func (p *Planner) adjustContent(content EmittedContent, stage store.RelationshipStage, info UserInfo) string {
	byType, ok := expressionTemplates[content.Type]
	if !ok {
		return content.Content
	}
	template, ok := byType[stage]
	if !ok {
		return content.Content
	}
	if rand.Float64() >= 0.3 {
		return content.Content
	}
	topic := "general topics"
	if len(info.TopicsOfInterest) > 0 {
		topic = info.TopicsOfInterest[rand.Intn(len(info.TopicsOfInterest))]
	}
	name := info.Name
	if name == "" {
		name = "friend"
	}
	filled := strings.ReplaceAll(template, "{name}", name)
	filled = strings.ReplaceAll(filled, "{topic}", topic)
	return filled
}

func (p *Planner) adjustStyle(content string, stage store.RelationshipStage, info UserInfo) string {
	formality := stageFormality[stage]
	style, ok := formalityStyles[formality]
	if !ok {
		style = formalityStyles["medium"]
	}

	adjusted := content
	if style.honorifics && !strings.HasPrefix(adjusted, "If I may,") {
		adjusted = "If I may, " + strings.ToLower(adjusted[:1]) + adjusted[1:]
	}
	if style.emoji && rand.Float64() < 0.5 {
		adjusted = fmt.Sprintf("%s %s", adjusted, emojiSet[rand.Intn(len(emojiSet))])
	}

	return applyUserPreferences(adjusted, info)
}

func applyUserPreferences(content string, info UserInfo) string {
	adjusted := content
	if raw, ok := info.Preferences["preferred_emojis"].([]string); ok && len(raw) > 0 && rand.Float64() < 0.7 {
		adjusted = fmt.Sprintf("%s %s", adjusted, raw[rand.Intn(len(raw))])
	}
	if name, ok := info.Preferences["preferred_name"].(string); ok && name != "" {
		adjusted = strings.ReplaceAll(adjusted, "friend", name)
	}
	return adjusted
}
