// Package store implements the session/turn store: the canonical,
// concurrency-safe record of every dialogue, fronted by the cache
// manager. A Store holds a backend Driver plus named caches, delegating
// every method to the driver and populating caches on the way.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store/cache"
)

// Store is the storage layer's public surface: driver reads/writes
// fronted by the cache manager.
type Store struct {
	driver Driver
	Cache  *cache.Manager
}

// New wires a Driver to a fresh Cache Manager.
func New(driver Driver, cacheCfg cache.Config) *Store {
	return &Store{driver: driver, Cache: cache.New(cacheCfg)}
}

// Driver exposes the underlying Driver for collaborators that need raw
// batch access (store/optimizer.Optimizer).
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Close() error {
	s.Cache.Stop()
	return s.driver.Close()
}

// HealthCheck reports Storage connectivity.
func (s *Store) HealthCheck(ctx context.Context) (Health, error) {
	return s.driver.HealthCheck(ctx)
}

// ---- Sessions ----

func (s *Store) CreateSession(ctx context.Context, create *CreateSession) (*Session, error) {
	sess, err := s.driver.CreateSession(ctx, create)
	if err != nil {
		return nil, errors.Wrap(err, "CreateSession")
	}
	s.Cache.Set(cache.RegionSessions, sess.ID, sess)
	s.Cache.Invalidate(cache.RegionUserSessions, sess.UserID)
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	v, err := s.Cache.GetOrLoad(ctx, cache.RegionSessions, id, func(ctx context.Context) (any, error) {
		sess, err := s.driver.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, NotFound("GetSession", errors.Errorf("session %s not found", id))
		}
		return sess, nil
	})
	if err != nil {
		if k, ok := KindOf(err); ok && k == KindNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "GetSession")
	}
	return v.(*Session), nil
}

// UpdateSession applies a partial patch, bumps updated_at, and
// invalidates the session cache plus both list regions for every
// affected participant (the caller — typically chat.Manager — is
// responsible for invalidating RegionUserSessions for participants not
// reachable from the returned Session, e.g. a removed member).
func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	sess, err := s.driver.UpdateSession(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "UpdateSession")
	}
	s.Cache.Invalidate(cache.RegionSessions, update.ID)
	s.Cache.Invalidate(cache.RegionSessionTurns, update.ID)
	for _, p := range sess.Metadata.Participants {
		s.Cache.Invalidate(cache.RegionUserSessions, p)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession, limit, offset int) ([]*Session, error) {
	sessions, err := s.driver.ListSessions(ctx, find, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "ListSessions")
	}
	return sessions, nil
}

// ---- Turns ----

func (s *Store) CreateTurn(ctx context.Context, create *CreateTurn) (*Turn, error) {
	turn, err := s.driver.CreateTurn(ctx, create)
	if err != nil {
		return nil, errors.Wrap(err, "CreateTurn")
	}
	s.Cache.Set(cache.RegionTurns, turn.ID, turn)
	s.Cache.Invalidate(cache.RegionSessionTurns, turn.SessionID)
	return turn, nil
}

func (s *Store) GetTurn(ctx context.Context, id string) (*Turn, error) {
	v, err := s.Cache.GetOrLoad(ctx, cache.RegionTurns, id, func(ctx context.Context) (any, error) {
		turn, err := s.driver.GetTurn(ctx, id)
		if err != nil {
			return nil, err
		}
		if turn == nil {
			return nil, NotFound("GetTurn", errors.Errorf("turn %s not found", id))
		}
		return turn, nil
	})
	if err != nil {
		if k, ok := KindOf(err); ok && k == KindNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "GetTurn")
	}
	return v.(*Turn), nil
}

func (s *Store) UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error) {
	turn, err := s.driver.UpdateTurn(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "UpdateTurn")
	}
	s.Cache.Invalidate(cache.RegionTurns, update.ID)
	s.Cache.Invalidate(cache.RegionSessionTurns, turn.SessionID)
	return turn, nil
}

func (s *Store) ListTurns(ctx context.Context, opts ListTurnsOptions) ([]*Turn, error) {
	turns, err := s.driver.ListTurns(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "ListTurns")
	}
	return turns, nil
}

// ---- Expressions ----

func (s *Store) CreateExpression(ctx context.Context, create *CreateExpression) (*Expression, error) {
	expr, err := s.driver.CreateExpression(ctx, create)
	if err != nil {
		return nil, errors.Wrap(err, "CreateExpression")
	}
	return expr, nil
}

func (s *Store) ListExpressions(ctx context.Context, userID string, limit int) ([]*Expression, error) {
	exprs, err := s.driver.ListExpressions(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "ListExpressions")
	}
	return exprs, nil
}

// ---- Frequency state ----

func (s *Store) GetFrequencyState(ctx context.Context, userID string) (*FrequencyState, error) {
	state, err := s.driver.GetFrequencyState(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "GetFrequencyState")
	}
	if state == nil {
		return &FrequencyState{UserID: userID}, nil
	}
	return state, nil
}

func (s *Store) PutFrequencyState(ctx context.Context, state *FrequencyState) error {
	state.UpdatedAt = time.Now()
	if err := s.driver.PutFrequencyState(ctx, state); err != nil {
		return errors.Wrap(err, "PutFrequencyState")
	}
	return nil
}

// BumpInteractionCount increments a user's interaction_count by one.
// Best-effort: callers log and continue on error.
func (s *Store) BumpInteractionCount(ctx context.Context, userID string) (int, error) {
	state, err := s.GetFrequencyState(ctx, userID)
	if err != nil {
		return 0, err
	}
	state.InteractionCount++
	if err := s.PutFrequencyState(ctx, state); err != nil {
		return state.InteractionCount, err
	}
	return state.InteractionCount, nil
}
