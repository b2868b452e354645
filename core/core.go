// Package core is the composition root for dialogmesh: it wires the
// Session & Turn Store, the real-time messaging fabric, and the
// frequency-aware expression pipeline into a single Service an external
// transport layer calls into. The graph (driver → store →
// collaborators → integrator) lives in an importable struct instead of
// inlined in main so both the binary and tests can construct the same
// graph.
package core

import (
	"context"
	"time"

	"github.com/hrygo/dialogmesh/chat"
	"github.com/hrygo/dialogmesh/dialogue"
	"github.com/hrygo/dialogmesh/frequency"
	"github.com/hrygo/dialogmesh/internal/profile"
	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/realtime/notify"
	"github.com/hrygo/dialogmesh/realtime/presence"
	"github.com/hrygo/dialogmesh/realtime/router"
	"github.com/hrygo/dialogmesh/realtime/wsopt"
	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/cache"
	"github.com/hrygo/dialogmesh/store/db"
	"github.com/hrygo/dialogmesh/store/optimizer"
)

// routerTransport adapts realtime/router.Router's DeliverToUser to
// realtime/wsopt.Transport's Send, so the Optimizer's flush can hand a
// batch envelope to the Router's single-recipient delivery path.
type routerTransport struct {
	r *router.Router
}

func (t routerTransport) Send(ctx context.Context, userID string, envelope map[string]any) error {
	return t.r.DeliverToUser(ctx, userID, envelope)
}

// Service bundles everything an external transport
// needs: Chat for human↔human traffic, Dialogue for AI-bearing
// sessions, Presence/Router/Notifier for the real-time fabric, and the
// frequency Integrator for proactive expression. Exported fields are
// the intended call surface; unexported fields are lifecycle-only.
type Service struct {
	Store     *store.Store
	Optimizer *optimizer.Optimizer
	Router    *router.Router
	Presence  *presence.Service
	Notify    *notify.Service
	WSOpt     *wsopt.Optimizer
	Chat      *chat.Manager
	Dialogue  *dialogue.Manager
	Frequency *frequency.Integrator
	LLM       llm.Service
}

// New builds the full dependency graph from p and starts every
// background loop (cache sweeper, presence monitor, dispatcher worker,
// frequency monitoring loop). Call Close to stop them in reverse order.
func New(ctx context.Context, p *profile.Profile) (*Service, error) {
	dbDriver, err := db.NewDBDriver(ctx, p)
	if err != nil {
		return nil, err
	}

	st := store.New(dbDriver, cache.Config{TTL: p.CacheTTL()})

	opt := optimizer.New(st, optimizer.Config{BatchSize: p.BatchSize})

	rt := router.New(router.Config{})
	pres := presence.New(rt, presence.Config{
		HeartbeatTimeout: p.HeartbeatTimeout(),
		MonitorInterval:  secs(p.PresenceMonitorIntervalSecs),
	})

	ws := wsopt.New(routerTransport{r: rt}, wsopt.Config{
		MaxBatchSize:  p.OptimizerMaxBatchSize,
		BatchInterval: millis(p.OptimizerBatchIntervalMs),
	})

	notifier := notify.New(rt, pres, st)
	chatMgr := chat.New(st, ws, notifier, rt)

	llmSvc := llm.New(llm.Config{
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		TimeoutSecs: p.LLMTimeoutSecs,
	})

	sampler := frequency.NewSampler(nil)
	senseCore := frequency.NewSenseCore(sampler, llmSvc, frequency.SenseCoreConfig{
		ExpressionThreshold: p.FrequencyExpressionThreshold,
		Cooldown:            secs(p.FrequencyCooldownSecs),
	})
	planner := frequency.NewPlanner(st, nil)
	generator := frequency.NewGenerator(llmSvc, frequency.GeneratorConfig{})
	dispatcher := frequency.NewDispatcher(frequency.DispatcherConfig{MaxDispatchesPerSecond: 20})

	output := func(ctx context.Context, sessionID, userID, content string, metadata map[string]any) (bool, error) {
		if sessionID == "" {
			return false, nil
		}
		msg := map[string]any{"type": "proactive_expression", "content": content}
		for k, v := range metadata {
			msg[k] = v
		}
		if err := ws.Enqueue(ctx, userID, msg); err != nil {
			return false, err
		}
		return true, nil
	}

	integrator := frequency.NewIntegrator(st, sampler, senseCore, planner, generator, dispatcher, output, frequency.IntegratorConfig{
		MonitoringInterval: secs(p.FrequencyMonitoringIntervalSecs),
	})
	integrator.Start()

	dialogueMgr := dialogue.New(st, llmSvc, integrator, dialogue.Config{Model: p.LLMModel})

	return &Service{
		Store:     st,
		Optimizer: opt,
		Router:    rt,
		Presence:  pres,
		Notify:    notifier,
		WSOpt:     ws,
		Chat:      chatMgr,
		Dialogue:  dialogueMgr,
		Frequency: integrator,
		LLM:       llmSvc,
	}, nil
}

// Close stops every background loop and the underlying storage
// connection, in reverse dependency order.
func (s *Service) Close() error {
	s.Frequency.Stop()
	s.Presence.Stop()
	return s.Store.Close()
}

func secs(n int) time.Duration   { return time.Duration(n) * time.Second }
func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
