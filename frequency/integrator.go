package frequency

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

const (
	defaultMonitoringInterval = 60 * time.Second
	maxConversationHistory    = 20
	maxRecentTopics           = 5
	maxNotificationsPerSess   = 10
	maxRemindersPerSess       = 10
)

// OutputFunc delivers a generated expression's final content back to a
// user's session through the real-time fabric (the Router/Optimizer
// path). It returns whether delivery succeeded.
type OutputFunc func(ctx context.Context, sessionID, userID, content string, metadata map[string]any) (bool, error)

// sessionState is the Integrator's per-session working context.
type sessionState struct {
	mu               sync.Mutex
	sessionID        string
	userID           string
	lastUpdateTime   time.Time
	history          []string
	recentTopics     []string
	userInput        string
	inputType        string
	userEmotion      string
	hasOpenQuestions bool
	notifications    []Notification
	reminders        []Notification
}

func (s *sessionState) toContext() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Context{
		UserInput:           s.userInput,
		InputType:           s.inputType,
		UserEmotion:         s.userEmotion,
		ConversationHistory: append([]string(nil), s.history...),
		RecentTopics:        append([]string(nil), s.recentTopics...),
		HasOpenQuestions:    s.hasOpenQuestions,
		Notifications:       append([]Notification(nil), s.notifications...),
		Reminders:           append([]Notification(nil), s.reminders...),
	}
}

// Integrator owns the monitoring loop binding Sampler → SenseCore →
// Planner → Generator → Dispatcher to the dialogue system.
type Integrator struct {
	st         *store.Store
	sampler    *Sampler
	senseCore  *SenseCore
	planner    *Planner
	generator  *Generator
	dispatcher *Dispatcher
	output     OutputFunc

	monitoringInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// IntegratorConfig configures the monitoring interval; zero defaults to
// 60s.
type IntegratorConfig struct {
	MonitoringInterval time.Duration
}

// NewIntegrator wires an Integrator to its pipeline collaborators and
// registers a "main" output channel bridging expressions to output.
func NewIntegrator(st *store.Store, sampler *Sampler, senseCore *SenseCore, planner *Planner, generator *Generator, dispatcher *Dispatcher, output OutputFunc, cfg IntegratorConfig) *Integrator {
	interval := cfg.MonitoringInterval
	if interval <= 0 {
		interval = defaultMonitoringInterval
	}
	integ := &Integrator{
		st:                 st,
		sampler:            sampler,
		senseCore:          senseCore,
		planner:            planner,
		generator:          generator,
		dispatcher:         dispatcher,
		output:             output,
		monitoringInterval: interval,
		sessions:           make(map[string]*sessionState),
		stopCh:             make(chan struct{}),
	}
	dispatcher.RegisterChannel("main", integ.handleExpressionOutput)
	return integ
}

// Start launches the monitoring loop.
func (i *Integrator) Start() {
	i.wg.Add(1)
	go i.monitoringLoop()
}

// Stop cooperatively ends the monitoring loop; in-flight iterations
// complete first.
func (i *Integrator) Stop() {
	i.stopOnce.Do(func() { close(i.stopCh) })
	i.wg.Wait()
	i.dispatcher.Stop()
}

func (i *Integrator) sessionFor(sessionID, userID string) *sessionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.sessions[sessionID]
	if !ok {
		s = &sessionState{sessionID: sessionID, userID: userID, lastUpdateTime: time.Now(), userEmotion: "neutral"}
		i.sessions[sessionID] = s
	}
	return s
}

// ContextPatch is a partial update to a session's working context;
// zero-valued fields are left unchanged.
type ContextPatch struct {
	UserID                  string
	UserInput               string
	InputType               string
	UserEmotion             string
	HasOpenQuestions        *bool
	ConversationHistoryItem string
	Topic                   string
}

// UpdateContext applies a partial update to a session's working
// context.
func (i *Integrator) UpdateContext(sessionID string, patch ContextPatch) {
	userID := patch.UserID
	s := i.sessionFor(sessionID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.UserID != "" {
		s.userID = patch.UserID
	}
	if patch.UserInput != "" {
		s.userInput = patch.UserInput
		s.lastUpdateTime = time.Now()
	}
	if patch.InputType != "" {
		s.inputType = patch.InputType
	}
	if patch.UserEmotion != "" {
		s.userEmotion = patch.UserEmotion
	}
	if patch.HasOpenQuestions != nil {
		s.hasOpenQuestions = *patch.HasOpenQuestions
	}
	if patch.ConversationHistoryItem != "" {
		if len(s.history) >= maxConversationHistory {
			s.history = s.history[len(s.history)-maxConversationHistory+1:]
		}
		s.history = append(s.history, patch.ConversationHistoryItem)
	}
	if patch.Topic != "" {
		found := false
		for _, t := range s.recentTopics {
			if t == patch.Topic {
				found = true
				break
			}
		}
		if !found {
			if len(s.recentTopics) >= maxRecentTopics {
				s.recentTopics = s.recentTopics[len(s.recentTopics)-maxRecentTopics+1:]
			}
			s.recentTopics = append(s.recentTopics, patch.Topic)
		}
	}
}

// RegisterUserActivity maps sessionID → userID and best-effort bumps
// interaction_count. It does not change the context's update time,
// which moves only when a patch carries user input.
func (i *Integrator) RegisterUserActivity(ctx context.Context, sessionID, userID, activityType string) {
	i.UpdateContext(sessionID, ContextPatch{UserID: userID})
	if _, err := i.st.BumpInteractionCount(ctx, userID); err != nil {
		slog.Warn("frequency: interaction count bump failed", "user_id", userID, "error", err)
	}
}

// ProcessUserMessage records a user message into the session context.
func (i *Integrator) ProcessUserMessage(ctx context.Context, sessionID, userID, message, inputType string) {
	i.RegisterUserActivity(ctx, sessionID, userID, "message")
	i.UpdateContext(sessionID, ContextPatch{
		UserID:                  userID,
		UserInput:               message,
		InputType:               inputType,
		ConversationHistoryItem: "user: " + message,
	})
}

// ProcessSystemResponse records an AI response and flags open questions.
func (i *Integrator) ProcessSystemResponse(sessionID, response string) {
	hasQuestion := strings.ContainsAny(response, "?？")
	i.UpdateContext(sessionID, ContextPatch{
		ConversationHistoryItem: "ai: " + response,
		HasOpenQuestions:        &hasQuestion,
	})
}

// AddNotification appends a bounded external notification event.
func (i *Integrator) AddNotification(sessionID string, n Notification) {
	i.mu.Lock()
	s, ok := i.sessions[sessionID]
	i.mu.Unlock()
	if !ok {
		slog.Warn("frequency: cannot add notification, no such session", "session_id", sessionID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.notifications) >= maxNotificationsPerSess {
		s.notifications = s.notifications[len(s.notifications)-maxNotificationsPerSess+1:]
	}
	s.notifications = append(s.notifications, n)
}

// AddReminder appends a bounded external reminder event.
func (i *Integrator) AddReminder(sessionID string, r Notification) {
	i.mu.Lock()
	s, ok := i.sessions[sessionID]
	i.mu.Unlock()
	if !ok {
		slog.Warn("frequency: cannot add reminder, no such session", "session_id", sessionID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reminders) >= maxRemindersPerSess {
		s.reminders = s.reminders[len(s.reminders)-maxRemindersPerSess+1:]
	}
	s.reminders = append(s.reminders, r)
}

// RelationshipStage resolves the current relationship stage for
// (sessionID, userID), satisfying dialogue.FrequencyIntegrator.
func (i *Integrator) RelationshipStage(ctx context.Context, sessionID, userID string) (string, error) {
	state, err := i.st.GetFrequencyState(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "frequency: RelationshipStage")
	}
	return string(store.DeriveRelationshipStage(state.InteractionCount)), nil
}

// TriggerExpression runs the Sense Core → Planner → Generator →
// Dispatcher chain for sessionID and, on a positive decision, persists
// the resulting Expression.
func (i *Integrator) TriggerExpression(ctx context.Context, sessionID string) (bool, error) {
	i.mu.Lock()
	s, ok := i.sessions[sessionID]
	i.mu.Unlock()
	if !ok {
		return false, nil
	}

	sctx := s.toContext()
	should, emission := i.senseCore.DecideExpression(ctx, sctx)
	if !should {
		return false, nil
	}

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	planned, err := i.planner.Plan(ctx, *emission, userID, sessionID)
	if err != nil {
		return false, errors.Wrap(err, "frequency: TriggerExpression plan")
	}
	generated := i.generator.Generate(ctx, *planned)

	i.dispatcher.QueueExpression(generated, "main")

	if _, err := i.st.CreateExpression(ctx, &store.CreateExpression{
		UserID:            userID,
		SessionID:         sessionID,
		Type:              generated.Content.Type,
		Content:           generated.FinalContent,
		PriorityScore:     generated.PriorityScore,
		RelationshipStage: generated.RelationshipStage,
	}); err != nil {
		slog.Warn("frequency: expression persistence failed", "session_id", sessionID, "error", err)
	}

	if err := i.persistSnapshot(ctx, userID); err != nil {
		slog.Warn("frequency: snapshot persistence failed", "user_id", userID, "error", err)
	}

	return true, nil
}

// persistSnapshot writes the sense core's last_expression_time into the
// user's persisted FrequencyState. The Integrator does not read it back
// on Start.
func (i *Integrator) persistSnapshot(ctx context.Context, userID string) error {
	state, err := i.st.GetFrequencyState(ctx, userID)
	if err != nil {
		return err
	}
	state.LastExpressionAt = i.senseCore.LastExpressionAt()
	return i.st.PutFrequencyState(ctx, state)
}

func (i *Integrator) monitoringLoop() {
	defer i.wg.Done()
	ticker := time.NewTicker(i.monitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stopCh:
			return
		case <-ticker.C:
			i.sweep()
		}
	}
}

func (i *Integrator) sweep() {
	i.mu.Lock()
	sessionIDs := make([]string, 0, len(i.sessions))
	for id := range i.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	i.mu.Unlock()

	now := time.Now()
	for _, id := range sessionIDs {
		i.mu.Lock()
		s, ok := i.sessions[id]
		i.mu.Unlock()
		if !ok {
			continue
		}
		s.mu.Lock()
		stale := now.Sub(s.lastUpdateTime) >= i.monitoringInterval
		s.mu.Unlock()
		if !stale {
			continue
		}
		if _, err := i.TriggerExpression(context.Background(), id); err != nil {
			slog.Error("frequency: trigger expression failed", "session_id", id, "error", err)
		}
	}
}

// handleExpressionOutput is the Dispatcher's registered "main" channel:
// it resolves content/metadata and calls the configured OutputFunc,
// updating the session's history on success.
func (i *Integrator) handleExpressionOutput(ctx context.Context, expr Generated) (bool, error) {
	if expr.FinalContent == "" {
		return false, errors.New("frequency: empty expression content")
	}

	metadata := map[string]any{
		"type":               "frequency_expression",
		"expression_type":    expr.Content.Type,
		"priority":           expr.PriorityScore,
		"relationship_stage": expr.RelationshipStage,
	}

	success, err := i.output(ctx, expr.SessionID, expr.UserID, expr.FinalContent, metadata)
	if err != nil {
		return false, err
	}
	if success && expr.SessionID != "" {
		i.ProcessSystemResponse(expr.SessionID, expr.FinalContent)
	}
	return success, nil
}
