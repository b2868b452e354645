package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.CreateSession) (*store.Session, error) {
	md := create.Metadata
	md.DialogueType = store.CanonicalDialogueType(md.DialogueType)
	now := time.Now()
	sess := &store.Session{
		ID:           shortuuid.New(),
		UserID:       create.UserID,
		Title:        create.Title,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
		Metadata:     md,
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	if create.Nonce != "" {
		var existingID string
		err := d.db.QueryRowContext(ctx, `SELECT id FROM session WHERE nonce = $1`, create.Nonce).Scan(&existingID)
		switch {
		case err == nil:
			return d.GetSession(ctx, existingID)
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return nil, errors.Wrap(err, "checking nonce")
		}
	}

	metaJSON, err := encodeSessionMeta(sess.Metadata)
	if err != nil {
		return nil, err
	}

	var nonce any
	if create.Nonce != "" {
		nonce = create.Nonce
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO session (id, user_id, title, created_at, updated_at, last_activity, nonce, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
		sess.LastActivity.UnixMilli(), nonce, metaJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert session")
	}
	return sess, nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at, last_activity, metadata
		FROM session WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan session")
	}
	return sess, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	sess, err := d.GetSession(ctx, update.ID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, store.NotFound("UpdateSession", errors.Errorf("session %s not found", update.ID))
	}

	if update.Title != nil {
		sess.Title = *update.Title
	}
	if update.Status != nil {
		sess.Metadata.Status = *update.Status
	}
	if update.Participants != nil {
		creator := sess.Metadata.Participants[0]
		merged := []string{creator}
		for _, p := range update.Participants {
			if p != creator {
				merged = append(merged, p)
			}
		}
		sess.Metadata.Participants = merged
	}
	if update.LastActivity != nil {
		sess.LastActivity = *update.LastActivity
	}
	for k, v := range update.ExtraPatch {
		if sess.Metadata.Extra == nil {
			sess.Metadata.Extra = map[string]any{}
		}
		sess.Metadata.Extra[k] = v
	}
	sess.UpdatedAt = time.Now()

	metaJSON, err := encodeSessionMeta(sess.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE session SET title = $1, updated_at = $2, last_activity = $3, metadata = $4
		WHERE id = $5`,
		sess.Title, sess.UpdatedAt.UnixMilli(), sess.LastActivity.UnixMilli(), metaJSON, sess.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "update session")
	}
	return sess, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession, limit, offset int) ([]*store.Session, error) {
	pred, err := store.CompilePredicate(store.BuildSessionEqualityExpr(find))
	if err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, title, created_at, updated_at, last_activity, metadata FROM session`
	var args []any
	if find != nil && find.UserID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *find.UserID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var matched []*store.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session row")
		}
		ok, err := pred.Match(store.SessionVars(sess))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, sess)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list sessions rows")
	}

	if offset >= len(matched) {
		return []*store.Session{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*store.Session, error) {
	return scanSessionRows(r)
}

func scanSessionRows(r rowScanner) (*store.Session, error) {
	var (
		sess                               store.Session
		createdAt, updatedAt, lastActivity int64
		metaJSON                           []byte
	)
	if err := r.Scan(&sess.ID, &sess.UserID, &sess.Title, &createdAt, &updatedAt, &lastActivity, &metaJSON); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	sess.LastActivity = time.UnixMilli(lastActivity)
	md, err := decodeSessionMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	sess.Metadata = md
	return &sess, nil
}
