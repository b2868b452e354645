package store

import "context"

// Health describes the storage backend's connectivity, surfaced by
// the health check.
type Health struct {
	Status string // "healthy" | "degraded"
	Detail string
}

// Driver is the storage backend contract. A concrete Driver is a
// single configured backend: sqlite, postgres, or the in-memory
// fallback. Never more than one is wired up at a time.
//
// Sync methods must not deadlock when called from inside an async
// executor; every implementation in this repo achieves
// this by never blocking on anything but the underlying *sql.DB or a
// plain mutex, never on another Driver call.
type Driver interface {
	CreateSession(ctx context.Context, create *CreateSession) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession, limit, offset int) ([]*Session, error)

	CreateTurn(ctx context.Context, create *CreateTurn) (*Turn, error)
	GetTurn(ctx context.Context, id string) (*Turn, error)
	UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error)
	ListTurns(ctx context.Context, opts ListTurnsOptions) ([]*Turn, error)

	CreateExpression(ctx context.Context, create *CreateExpression) (*Expression, error)
	ListExpressions(ctx context.Context, userID string, limit int) ([]*Expression, error)

	GetFrequencyState(ctx context.Context, userID string) (*FrequencyState, error)
	PutFrequencyState(ctx context.Context, state *FrequencyState) error

	HealthCheck(ctx context.Context) (Health, error)
	Close() error
}
