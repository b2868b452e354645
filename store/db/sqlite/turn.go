package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

func (d *DB) CreateTurn(ctx context.Context, create *store.CreateTurn) (*store.Turn, error) {
	now := time.Now()
	md := create.Metadata
	if md.ReadAt == nil {
		md.ReadAt = map[string]time.Time{}
	}
	md.ReadAt[md.SenderID] = now
	turn := &store.Turn{
		ID:        uuid.NewString(),
		SessionID: create.SessionID,
		Role:      create.Role,
		Content:   create.Content,
		CreatedAt: now,
		Metadata:  md,
	}
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM session WHERE id = ?`, create.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("CreateTurn", errors.Errorf("session %s not found", create.SessionID))
	}
	if err != nil {
		return nil, errors.Wrap(err, "checking session exists")
	}

	metaJSON, err := encodeTurnMeta(turn.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO turn (id, session_id, role, content, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.CreatedAt.UnixMilli(), metaJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert turn")
	}
	return turn, nil
}

func (d *DB) GetTurn(ctx context.Context, id string) (*store.Turn, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, created_at, metadata
		FROM turn WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan turn")
	}
	return turn, nil
}

func (d *DB) UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	turn, err := d.GetTurn(ctx, update.ID)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, store.NotFound("UpdateTurn", errors.Errorf("turn %s not found", update.ID))
	}
	if turn.Metadata.ReadAt == nil {
		turn.Metadata.ReadAt = map[string]time.Time{}
	}
	for user, at := range update.ReadAtPatch {
		if _, already := turn.Metadata.ReadAt[user]; !already {
			turn.Metadata.ReadAt[user] = at
		}
	}
	for k, v := range update.ExtraPatch {
		if turn.Metadata.Extra == nil {
			turn.Metadata.Extra = map[string]any{}
		}
		turn.Metadata.Extra[k] = v
	}

	metaJSON, err := encodeTurnMeta(turn.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = d.db.ExecContext(ctx, `UPDATE turn SET metadata = ? WHERE id = ?`, metaJSON, turn.ID)
	if err != nil {
		return nil, errors.Wrap(err, "update turn")
	}
	return turn, nil
}

// ListTurns narrows on session_id in SQL when provided, then applies the
// CEL equality predicate and the before_id cursor in Go, same approach as
// ListSessions.
func (d *DB) ListTurns(ctx context.Context, opts store.ListTurnsOptions) ([]*store.Turn, error) {
	pred, err := store.CompilePredicate(store.BuildTurnEqualityExpr(&opts.Filter))
	if err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, role, content, created_at, metadata FROM turn`
	var args []any
	if opts.Filter.SessionID != nil {
		query += ` WHERE session_id = ?`
		args = append(args, *opts.Filter.SessionID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list turns")
	}
	defer rows.Close()

	var matched []*store.Turn
	for rows.Next() {
		turn, err := scanTurnRows(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan turn row")
		}
		ok, err := pred.Match(store.TurnVars(turn))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, turn)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list turns rows")
	}

	if opts.BeforeID != "" {
		idx := -1
		for i, t := range matched {
			if t.ID == opts.BeforeID {
				idx = i
				break
			}
		}
		if idx < 0 {
			// before_id pointing to a nonexistent (or filtered-out) turn
			// returns an empty list, not an error.
			return []*store.Turn{}, nil
		}
		matched = matched[idx+1:]
	}

	limit := opts.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	return matched[:limit], nil
}

func scanTurn(r rowScanner) (*store.Turn, error) {
	return scanTurnRows(r)
}

func scanTurnRows(r rowScanner) (*store.Turn, error) {
	var (
		turn      store.Turn
		role      string
		createdAt int64
		metaJSON  []byte
	)
	if err := r.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &createdAt, &metaJSON); err != nil {
		return nil, err
	}
	turn.Role = store.Role(role)
	turn.CreatedAt = time.UnixMilli(createdAt)
	md, err := decodeTurnMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	turn.Metadata = md
	return &turn, nil
}
