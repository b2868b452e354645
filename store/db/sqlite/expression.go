package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

func (d *DB) CreateExpression(ctx context.Context, create *store.CreateExpression) (*store.Expression, error) {
	expr := &store.Expression{
		ID:                uuid.NewString(),
		UserID:            create.UserID,
		SessionID:         create.SessionID,
		Type:              create.Type,
		Content:           create.Content,
		PriorityScore:     create.PriorityScore,
		RelationshipStage: create.RelationshipStage,
		Timestamp:         time.Now(),
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO expression (id, user_id, session_id, type, content, priority_score, relationship_stage, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		expr.ID, expr.UserID, expr.SessionID, string(expr.Type), expr.Content,
		expr.PriorityScore, string(expr.RelationshipStage), expr.Timestamp.UnixMilli(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert expression")
	}
	return expr, nil
}

func (d *DB) ListExpressions(ctx context.Context, userID string, limit int) ([]*store.Expression, error) {
	query := `
		SELECT id, user_id, session_id, type, content, priority_score, relationship_stage, ts
		FROM expression WHERE user_id = ? ORDER BY ts DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list expressions")
	}
	defer rows.Close()

	var out []*store.Expression
	for rows.Next() {
		var (
			e          store.Expression
			typ, stage string
			ts         int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &typ, &e.Content, &e.PriorityScore, &stage, &ts); err != nil {
			return nil, errors.Wrap(err, "scan expression")
		}
		e.Type = store.ExpressionType(typ)
		e.RelationshipStage = store.RelationshipStage(stage)
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list expressions rows")
	}
	return out, nil
}

func (d *DB) GetFrequencyState(ctx context.Context, userID string) (*store.FrequencyState, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT user_id, last_expression_at, interaction_count, updated_at
		FROM frequency_state WHERE user_id = ?`, userID)
	var (
		state                       store.FrequencyState
		lastExpressionAt, updatedAt int64
	)
	err := row.Scan(&state.UserID, &lastExpressionAt, &state.InteractionCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan frequency state")
	}
	state.LastExpressionAt = time.UnixMilli(lastExpressionAt)
	state.UpdatedAt = time.UnixMilli(updatedAt)
	return &state, nil
}

func (d *DB) PutFrequencyState(ctx context.Context, state *store.FrequencyState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO frequency_state (user_id, last_expression_at, interaction_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_expression_at = excluded.last_expression_at,
			interaction_count = excluded.interaction_count,
			updated_at = excluded.updated_at`,
		state.UserID, state.LastExpressionAt.UnixMilli(), state.InteractionCount, state.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "upsert frequency state")
	}
	return nil
}
