// Package notify implements the notification service: a thin typed
// layer over the message router for semantic chat events, with offline
// accumulation and a reconnect drain paced to ≤20 msg/s by
// golang.org/x/time/rate.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/dialogmesh/store"
)

// Event names the semantic event types this service fans out.
type Event string

const (
	EventSessionCreated Event = "session_created"
	EventNewMessage     Event = "new_message"
	EventMessageRead    Event = "message_read"
	EventUserTyping     Event = "user_typing"
	EventSessionUpdate  Event = "session_update"
)

const offlineCapPerUser = 100
const drainRatePerSecond = 20

// Router is the subset of realtime/router.Router this service needs.
type Router interface {
	DeliverToUser(ctx context.Context, userID string, message any) error
}

// Presence reports whether a user currently has a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// SessionLookup resolves a session's participant list.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
}

// Service is the Notification Service.
type Service struct {
	router   Router
	presence Presence
	sessions SessionLookup

	mu      sync.Mutex
	offline map[string][]map[string]any
}

// New wires a Service to its collaborators.
func New(router Router, presence Presence, sessions SessionLookup) *Service {
	return &Service{
		router:   router,
		presence: presence,
		sessions: sessions,
		offline:  make(map[string][]map[string]any),
	}
}

// Notify builds event from eventType/extra, stamps a timestamp if
// missing, resolves sessionID's participants, excludes actorID, and fans
// out: online recipients get it immediately, offline recipients get it
// appended to their capped accumulation list.
func (s *Service) Notify(ctx context.Context, eventType Event, sessionID, actorID string, extra map[string]any) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	event := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		event[k] = v
	}
	event["type"] = string(eventType)
	event["session_id"] = sessionID
	event["actor_id"] = actorID
	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = time.Now()
	}

	for _, participant := range sess.Metadata.Participants {
		if participant == actorID {
			continue
		}
		if s.presence.IsOnline(participant) {
			if err := s.router.DeliverToUser(ctx, participant, event); err != nil {
				return err
			}
			continue
		}
		s.accumulateOffline(participant, event)
	}
	return nil
}

func (s *Service) accumulateOffline(userID string, event map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.offline[userID]
	if len(q) >= offlineCapPerUser {
		q = q[1:]
	}
	s.offline[userID] = append(q, event)
}

// OnReconnect sends an offline_notifications_summary{count}, then drains
// the user's accumulated notifications at ≤20 msg/s to avoid client
// overload.
func (s *Service) OnReconnect(ctx context.Context, userID string) error {
	s.mu.Lock()
	queued := s.offline[userID]
	delete(s.offline, userID)
	s.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}

	summary := map[string]any{
		"type":      "offline_notifications_summary",
		"count":     len(queued),
		"timestamp": time.Now(),
	}
	if err := s.router.DeliverToUser(ctx, userID, summary); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(drainRatePerSecond), 1)
	for _, event := range queued {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.router.DeliverToUser(ctx, userID, event); err != nil {
			return err
		}
	}
	return nil
}
