package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/store"
)

const (
	defaultExpressionThreshold = 0.7
	defaultCooldown            = 300 * time.Second
	expressionHistorySize      = 50
)

var defaultTypeWeights = map[store.ExpressionType]float64{
	store.ExpressionGreeting:    0.2,
	store.ExpressionQuestion:    0.3,
	store.ExpressionSuggestion:  0.25,
	store.ExpressionReminder:    0.15,
	store.ExpressionObservation: 0.1,
}

var fallbackContent = map[store.ExpressionType]string{
	store.ExpressionGreeting:    "Hey, how have you been?",
	store.ExpressionQuestion:    "What's something you've been interested in lately?",
	store.ExpressionSuggestion:  "Maybe we could chat about something in the news?",
	store.ExpressionReminder:    "Don't forget to rest your eyes for a bit.",
	store.ExpressionObservation: "This conversation has been pretty interesting.",
}

// Timing is the decided delivery timing for an emitted expression.
type Timing struct {
	Type          string // "immediate", "delayed", "scheduled"
	Delay         time.Duration
	ScheduledTime time.Time
}

// EmittedContent is the seed content produced by the Sense Core, before
// the Planner/Generator refine it further.
type EmittedContent struct {
	Type             store.ExpressionType
	Content          string
	ContextReference map[string]any
}

// Emission is what DecideExpression returns on a positive decision.
type Emission struct {
	Timing        Timing
	Content       EmittedContent
	PriorityScore float64
	Timestamp     time.Time
}

// SenseCore decides whether, when, and what an AI should proactively
// express.
type SenseCore struct {
	sampler *Sampler
	llm     llm.Service

	expressionThreshold float64
	cooldown            time.Duration
	typeWeights         map[store.ExpressionType]float64

	mu               sync.Mutex
	lastExpressionAt time.Time
	history          []Emission
}

// SenseCoreConfig configures threshold/cooldown/weights; zero values
// take the defaults below.
type SenseCoreConfig struct {
	ExpressionThreshold float64
	Cooldown            time.Duration
	TypeWeights         map[store.ExpressionType]float64
	LastExpressionAt    time.Time // initial value of the cooldown clock
}

// NewSenseCore constructs a SenseCore.
func NewSenseCore(sampler *Sampler, llmSvc llm.Service, cfg SenseCoreConfig) *SenseCore {
	threshold := cfg.ExpressionThreshold
	if threshold <= 0 {
		threshold = defaultExpressionThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	weights := cfg.TypeWeights
	if weights == nil {
		weights = defaultTypeWeights
	}
	return &SenseCore{
		sampler:             sampler,
		llm:                 llmSvc,
		expressionThreshold: threshold,
		cooldown:            cooldown,
		typeWeights:         weights,
		lastExpressionAt:    cfg.LastExpressionAt,
	}
}

// LastExpressionAt reports the last time DecideExpression emitted,
// for the Integrator's frequency-state snapshot persistence.
func (c *SenseCore) LastExpressionAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastExpressionAt
}

// DecideExpression samples the context, applies the cooldown gate,
// decide should_express, then timing and content. Returns (false, nil)
// on rejection at any stage.
func (c *SenseCore) DecideExpression(ctx context.Context, sctx Context) (bool, *Emission) {
	snapshot := c.sampler.Sample(sctx)

	c.mu.Lock()
	sinceLast := time.Since(c.lastExpressionAt)
	c.mu.Unlock()
	if sinceLast < c.cooldown {
		return false, nil
	}

	if !c.shouldExpress(snapshot) {
		return false, nil
	}

	timing := c.decideTiming(snapshot)
	content := c.decideContent(ctx, sctx, snapshot)

	now := time.Now()
	c.mu.Lock()
	c.lastExpressionAt = now
	c.mu.Unlock()

	emission := Emission{
		Timing:        timing,
		Content:       content,
		PriorityScore: snapshot.PriorityScore,
		Timestamp:     now,
	}
	c.recordHistory(emission)
	return true, &emission
}

func (c *SenseCore) shouldExpress(snapshot Snapshot) bool {
	if snapshot.PriorityScore >= c.expressionThreshold {
		return true
	}
	randomThreshold := 0.1 + snapshot.PriorityScore*0.3
	return rand.Float64() < randomThreshold
}

func (c *SenseCore) decideTiming(snapshot Snapshot) Timing {
	idleTime := idleTimeOf(snapshot)
	hasHighPriorityEvent, _ := snapshot.Signals["external_events"].Data["has_high_priority"].(bool)

	switch {
	case snapshot.PriorityScore > 0.9 || hasHighPriorityEvent:
		return Timing{Type: "immediate", Delay: 0, ScheduledTime: time.Now()}
	case idleTime > 30*time.Minute:
		delay := time.Duration(10+rand.Intn(21)) * time.Second
		return Timing{Type: "delayed", Delay: delay, ScheduledTime: time.Now().Add(delay)}
	default:
		maxDelay := int(120 * (1 - snapshot.PriorityScore))
		if maxDelay < 5 {
			maxDelay = 5
		}
		delay := time.Duration(5+rand.Intn(maxDelay-5+1)) * time.Second
		return Timing{Type: "scheduled", Delay: delay, ScheduledTime: time.Now().Add(delay)}
	}
}

func idleTimeOf(snapshot Snapshot) time.Duration {
	if secs, ok := snapshot.Signals["user_activity"].Data["idle_time"].(float64); ok {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func (c *SenseCore) decideContent(ctx context.Context, sctx Context, snapshot Snapshot) EmittedContent {
	exprType := c.selectExpressionType(snapshot)
	content := c.generateExpressionContent(ctx, exprType, sctx, snapshot)

	convCtx := snapshot.Signals["conversation_context"].Data
	timeCtx := snapshot.Signals["time_elapsed"].Data
	return EmittedContent{
		Type:    exprType,
		Content: content,
		ContextReference: map[string]any{
			"user_activity":       idleTimeOf(snapshot).Seconds(),
			"time_period":         timeCtx["time_period"],
			"conversation_active": convCtx["is_active_conversation"],
		},
	}
}

func (c *SenseCore) selectExpressionType(snapshot Snapshot) store.ExpressionType {
	if hasHighPriority, _ := snapshot.Signals["external_events"].Data["has_high_priority"].(bool); hasHighPriority {
		return store.ExpressionReminder
	}
	if idleTimeOf(snapshot) > time.Hour {
		if rand.Intn(2) == 0 {
			return store.ExpressionGreeting
		}
		return store.ExpressionQuestion
	}
	if hasOpen, _ := snapshot.Signals["conversation_context"].Data["has_open_questions"].(bool); hasOpen {
		return store.ExpressionSuggestion
	}
	return weightedRandomType(c.typeWeights)
}

func weightedRandomType(weights map[store.ExpressionType]float64) store.ExpressionType {
	var total float64
	types := make([]store.ExpressionType, 0, len(weights))
	for t, w := range weights {
		types = append(types, t)
		total += w
	}
	r := rand.Float64() * total
	var cumulative float64
	for _, t := range types {
		cumulative += weights[t]
		if r < cumulative {
			return t
		}
	}
	return types[len(types)-1]
}

func (c *SenseCore) generateExpressionContent(ctx context.Context, exprType store.ExpressionType, sctx Context, snapshot Snapshot) string {
	messages := buildExpressionPrompt(exprType, sctx, snapshot)
	resp, err := c.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("frequency: sense core LLM call failed", "expression_type", exprType, "error", err)
		return fallbackContent[exprType]
	}
	return resp
}

func buildExpressionPrompt(exprType store.ExpressionType, sctx Context, snapshot Snapshot) []llm.Message {
	timePeriod, _ := snapshot.Signals["time_elapsed"].Data["time_period"].(string)
	topics := strings.Join(sctx.RecentTopics, ", ")
	if topics == "" {
		topics = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a thoughtful assistant generating a natural, friendly proactive message.\n")
	fmt.Fprintf(&b, "Expression type: %s\nTime period: %s\nRecent topics: %s\n\n", exprType, timePeriod, topics)
	b.WriteString("Guidelines:\n- Keep it short and natural, like a friend would write\n- Don't be overly formal or robotic\n- Don't over-dramatize\n- Don't introduce yourself or explain that you are an AI\n- Let it naturally invite the conversation to continue\n")

	switch exprType {
	case store.ExpressionGreeting:
		b.WriteString("Generate a greeting fitting the current time period: ask about plans in the morning, check in during the afternoon, ask about their day in the evening.\n")
	case store.ExpressionQuestion:
		b.WriteString("Generate an open-ended question based on recent topics or interests, one that invites reflection and keeps the conversation going.\n")
	case store.ExpressionSuggestion:
		b.WriteString("Offer a helpful, concrete suggestion based on recent conversation or interests.\n")
	case store.ExpressionReminder:
		b.WriteString("Generate a gentle reminder — about time, a to-do, or something mentioned earlier.\n")
	case store.ExpressionObservation:
		b.WriteString("Share an insightful observation about the current situation or recent conversation that invites a reply.\n")
	}

	return []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: fmt.Sprintf("Write a natural %s-type proactive message.", exprType)},
	}
}

func (c *SenseCore) recordHistory(e Emission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, e)
	if len(c.history) > expressionHistorySize {
		c.history = c.history[len(c.history)-expressionHistorySize:]
	}
}

// History returns the last limit decided emissions (or all, if limit<=0).
func (c *SenseCore) History(limit int) []Emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit >= len(c.history) {
		out := make([]Emission, len(c.history))
		copy(out, c.history)
		return out
	}
	out := make([]Emission, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}
