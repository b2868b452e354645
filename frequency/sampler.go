// Package frequency implements the frequency-aware expression
// pipeline: context sampler, sense core, expression planner, expression
// generator, expression dispatcher, and the integrator that wires them
// into a monitoring loop.
package frequency

import (
	"math"
	"sync"
	"time"
)

// defaultSignalWeights weighs each signal's contribution to the
// composite priority score.
var defaultSignalWeights = map[string]float64{
	"user_activity":        10,
	"time_elapsed":         6,
	"conversation_context": 8,
	"system_state":         5,
	"external_events":      7,
}

const sampleHistorySize = 50

// Notification is an external event considered by the external_events
// signal.
type Notification struct {
	Priority string // "high", "medium", "normal"
}

// Context is the current-context input to Sample.
type Context struct {
	UserInput           string
	InputType           string // "question", "command", or other
	UserEmotion         string
	ConversationHistory []string
	RecentTopics        []string
	HasOpenQuestions    bool
	Notifications       []Notification
	Reminders           []Notification
}

// SignalScore is one named signal's raw fields plus its sub-score.
type SignalScore struct {
	Score float64
	Data  map[string]any
}

// Snapshot is one sampled instant.
type Snapshot struct {
	Timestamp     time.Time
	Signals       map[string]SignalScore
	PriorityScore float64
}

// Sampler emits priority-scored context snapshots and keeps a bounded
// history ring buffer.
type Sampler struct {
	mu sync.Mutex

	signalWeights      map[string]float64
	lastSampleTime     time.Time
	lastUserActivityAt time.Time
	history            []Snapshot
}

// NewSampler constructs a Sampler. weights may be nil to use
// defaultSignalWeights.
func NewSampler(weights map[string]float64) *Sampler {
	if weights == nil {
		weights = defaultSignalWeights
	}
	now := time.Now()
	return &Sampler{
		signalWeights:      weights,
		lastSampleTime:     now,
		lastUserActivityAt: now,
	}
}

// Sample computes a Snapshot from the current context.
func (s *Sampler) Sample(ctx Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if ctx.UserInput != "" {
		s.lastUserActivityAt = now
	}

	idleTime := now.Sub(s.lastUserActivityAt)
	signals := map[string]SignalScore{
		"user_activity":        s.sampleUserActivity(ctx, idleTime),
		"time_elapsed":         s.sampleTimeElapsed(now),
		"conversation_context": s.sampleConversationContext(ctx, idleTime),
		"system_state":         {Score: 0.5, Data: map[string]any{"has_errors": false}},
		"external_events":      s.sampleExternalEvents(ctx),
	}

	snapshot := Snapshot{
		Timestamp:     now,
		Signals:       signals,
		PriorityScore: s.priorityScore(signals),
	}

	s.history = append(s.history, snapshot)
	if len(s.history) > sampleHistorySize {
		s.history = s.history[len(s.history)-sampleHistorySize:]
	}
	s.lastSampleTime = now
	return snapshot
}

func (s *Sampler) sampleUserActivity(ctx Context, idleTime time.Duration) SignalScore {
	idleScore := math.Min(1.0, idleTime.Seconds()/3600)
	var typeScore float64
	switch ctx.InputType {
	case "question":
		typeScore = 0.8
	case "command":
		typeScore = 0.6
	default:
		typeScore = 0.4
	}
	var emotionScore float64
	switch ctx.UserEmotion {
	case "excited", "happy":
		emotionScore = 0.9
	case "neutral":
		emotionScore = 0.7
	case "sad", "confused":
		emotionScore = 0.5
	default:
		emotionScore = 0.8
	}
	score := idleScore*0.5 + typeScore*0.3 + emotionScore*0.2
	return SignalScore{
		Score: score,
		Data: map[string]any{
			"idle_time":    idleTime.Seconds(),
			"input_type":   ctx.InputType,
			"user_emotion": ctx.UserEmotion,
			"has_question": containsQuestionMark(ctx.UserInput),
			"input_length": len(ctx.UserInput),
		},
	}
}

func (s *Sampler) sampleTimeElapsed(now time.Time) SignalScore {
	elapsed := now.Sub(s.lastSampleTime)
	period := timePeriod(now.Hour())
	elapsedScore := math.Min(1.0, elapsed.Seconds()/7200)
	var periodScore float64
	switch period {
	case "morning":
		periodScore = 0.8
	case "afternoon":
		periodScore = 0.7
	case "evening":
		periodScore = 0.9
	default: // night
		periodScore = 0.3
	}
	score := elapsedScore*0.7 + periodScore*0.3
	weekday := now.Weekday()
	return SignalScore{
		Score: score,
		Data: map[string]any{
			"elapsed_since_last_sample": elapsed.Seconds(),
			"hour_of_day":               now.Hour(),
			"time_period":               period,
			"is_weekend":                weekday == time.Saturday || weekday == time.Sunday,
		},
	}
}

func timePeriod(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

func (s *Sampler) sampleConversationContext(ctx Context, idleTime time.Duration) SignalScore {
	historyLen := len(ctx.ConversationHistory)
	isActive := historyLen > 0 && idleTime < 300*time.Second
	historyScore := math.Min(1.0, float64(historyLen)/20)
	activeScore := 0.3
	if isActive {
		activeScore = 0.8
	}
	questionScore := 0.5
	if ctx.HasOpenQuestions {
		questionScore = 0.9
	}
	score := historyScore*0.3 + activeScore*0.4 + questionScore*0.3
	return SignalScore{
		Score: score,
		Data: map[string]any{
			"history_length":         historyLen,
			"recent_topics":          ctx.RecentTopics,
			"is_active_conversation": isActive,
			"has_open_questions":     ctx.HasOpenQuestions,
		},
	}
}

func (s *Sampler) sampleExternalEvents(ctx Context) SignalScore {
	hasHighPriority := false
	hasMediumPriority := false
	for _, n := range ctx.Notifications {
		if n.Priority == "high" {
			hasHighPriority = true
		}
		if n.Priority == "medium" {
			hasMediumPriority = true
		}
	}
	var score float64
	if len(ctx.Notifications) == 0 && len(ctx.Reminders) == 0 {
		score = 0.1
	} else {
		notificationScore := math.Min(1.0, float64(len(ctx.Notifications))/5)
		reminderScore := math.Min(1.0, float64(len(ctx.Reminders))/3)
		var priorityScore float64
		switch {
		case hasHighPriority:
			priorityScore = 0.9
		case hasMediumPriority:
			priorityScore = 0.6
		default:
			priorityScore = 0.3
		}
		score = notificationScore*0.4 + reminderScore*0.3 + priorityScore*0.3
	}
	return SignalScore{
		Score: score,
		Data: map[string]any{
			"notification_count": len(ctx.Notifications),
			"reminder_count":     len(ctx.Reminders),
			"has_high_priority":  hasHighPriority,
		},
	}
}

func (s *Sampler) priorityScore(signals map[string]SignalScore) float64 {
	var totalScore, totalWeight float64
	for name, sig := range signals {
		weight, ok := s.signalWeights[name]
		if !ok {
			continue
		}
		totalScore += weight * sig.Score
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return totalScore / totalWeight
}

// History returns the last limit snapshots (or all, if limit<=0).
func (s *Sampler) History(limit int) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.history) {
		out := make([]Snapshot, len(s.history))
		copy(out, s.history)
		return out
	}
	out := make([]Snapshot, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

func containsQuestionMark(s string) bool {
	for _, r := range s {
		if r == '?' || r == '？' {
			return true
		}
	}
	return false
}
