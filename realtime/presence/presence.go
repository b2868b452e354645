// Package presence implements the presence service: heartbeat
// tracking, online/offline transitions, and per-user subscriptions,
// notified through the message router. A sync.RWMutex-guarded registry
// holds one heartbeat timestamp per user plus a subscriber set per
// watched user.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier is the subset of realtime/router.Router the Presence Service
// needs: routing a status_changed event to every subscriber of a user.
type Notifier interface {
	RouteMessage(ctx context.Context, message any, recipients []string)
}

// Service tracks heartbeats and subscriptions for presence.
type Service struct {
	mu               sync.RWMutex
	online           map[string]time.Time
	subscriptions    map[string]map[string]struct{} // target -> set of subscribers
	heartbeatTimeout time.Duration
	monitorInterval  time.Duration
	notifier         Notifier

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config configures timeouts; zero values default to a 30s heartbeat
// timeout and a 10s monitor interval.
type Config struct {
	HeartbeatTimeout time.Duration
	MonitorInterval  time.Duration
}

// New constructs a Service and starts its monitor loop.
func New(notifier Notifier, cfg Config) *Service {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	s := &Service{
		online:           make(map[string]time.Time),
		subscriptions:    make(map[string]map[string]struct{}),
		heartbeatTimeout: cfg.HeartbeatTimeout,
		monitorInterval:  cfg.MonitorInterval,
		notifier:         notifier,
		stopCh:           make(chan struct{}),
	}
	s.wg.Add(1)
	go s.monitorLoop()
	return s
}

// Stop ends the monitor loop cooperatively.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Heartbeat records userID as online now. If the user was previously
// offline (or unseen), it emits status_changed(online) to subscribers.
func (s *Service) Heartbeat(ctx context.Context, userID string) {
	s.mu.Lock()
	_, wasOnline := s.online[userID]
	s.online[userID] = time.Now()
	s.mu.Unlock()

	if !wasOnline {
		s.notifyStatus(ctx, userID, true)
	}
}

// SetOffline removes userID from the online set and emits
// status_changed(offline).
func (s *Service) SetOffline(ctx context.Context, userID string) {
	s.mu.Lock()
	delete(s.online, userID)
	s.mu.Unlock()
	s.notifyStatus(ctx, userID, false)
}

// IsOnline reports whether userID has a live heartbeat.
func (s *Service) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Subscribe registers subscriberID to receive status_changed events for
// targetUserID.
func (s *Service) Subscribe(targetUserID, subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subscriptions[targetUserID]
	if !ok {
		set = make(map[string]struct{})
		s.subscriptions[targetUserID] = set
	}
	set[subscriberID] = struct{}{}
}

// Unsubscribe removes subscriberID from targetUserID's subscriber set.
func (s *Service) Unsubscribe(targetUserID, subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subscriptions[targetUserID]
	if !ok {
		return
	}
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(s.subscriptions, targetUserID)
	}
}

func (s *Service) subscribers(targetUserID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.subscriptions[targetUserID]
	out := make([]string, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

func (s *Service) notifyStatus(ctx context.Context, userID string, online bool) {
	recipients := s.subscribers(userID)
	if len(recipients) == 0 || s.notifier == nil {
		return
	}
	event := map[string]any{
		"type":    "status_changed",
		"user_id": userID,
		"online":  online,
	}
	s.notifier.RouteMessage(ctx, event, recipients)
}

func (s *Service) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Service) sweepExpired() {
	now := time.Now()
	var expired []string
	s.mu.Lock()
	for userID, last := range s.online {
		if now.Sub(last) > s.heartbeatTimeout {
			expired = append(expired, userID)
			delete(s.online, userID)
		}
	}
	s.mu.Unlock()

	for _, userID := range expired {
		slog.Debug("presence timeout", "user_id", userID)
		s.notifyStatus(context.Background(), userID, false)
	}
}
