// Package memdriver is the in-memory fallback Driver used when the
// configured backend is unreachable at init time and Profile.AllowDegraded
// is set. It is also used
// directly by tests and by Profile.Driver == "memory".
package memdriver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/store"
)

// DegradedNote is set on Session.Metadata.Extra["error"] and
// Turn.Metadata.Extra["error"] for records created while running in
// degraded (fallback) mode.
const DegradedNote = "served by in-memory fallback store; primary backend unreachable"

// DB is the in-memory Driver implementation.
type DB struct {
	mu          sync.RWMutex
	degraded    bool
	sessions    map[string]*store.Session
	turns       map[string]*store.Turn
	turnsBySess map[string][]string // session id -> turn ids, insertion order
	expressions []*store.Expression
	freqState   map[string]*store.FrequencyState
}

// New constructs an in-memory Driver. degraded marks every record this
// instance creates with the fallback note; it does not change behavior.
func New(degraded bool) *DB {
	return &DB{
		degraded:    degraded,
		sessions:    make(map[string]*store.Session),
		turns:       make(map[string]*store.Turn),
		turnsBySess: make(map[string][]string),
		freqState:   make(map[string]*store.FrequencyState),
	}
}

func (d *DB) Close() error { return nil }

func (d *DB) HealthCheck(ctx context.Context) (store.Health, error) {
	if d.degraded {
		return store.Health{Status: "degraded", Detail: DegradedNote}, nil
	}
	return store.Health{Status: "healthy", Detail: "in-memory driver"}, nil
}

func (d *DB) CreateSession(ctx context.Context, create *store.CreateSession) (*store.Session, error) {
	now := time.Now()
	md := create.Metadata
	md.DialogueType = store.CanonicalDialogueType(md.DialogueType)
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
	if d.degraded {
		if sess.Metadata.Extra == nil {
			sess.Metadata.Extra = map[string]any{}
		}
		sess.Metadata.Extra["error"] = DegradedNote
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if create.Nonce != "" {
		for _, existing := range d.sessions {
			if existing.Metadata.Extra != nil && existing.Metadata.Extra["nonce"] == create.Nonce {
				return existing, nil
			}
		}
		if sess.Metadata.Extra == nil {
			sess.Metadata.Extra = map[string]any{}
		}
		sess.Metadata.Extra["nonce"] = create.Nonce
	}
	d.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[update.ID]
	if !ok {
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
	return cloneSession(sess), nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession, limit, offset int) ([]*store.Session, error) {
	pred, err := store.CompilePredicate(store.BuildSessionEqualityExpr(find))
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var all []*store.Session
	for _, sess := range d.sessions {
		ok, err := pred.Match(store.SessionVars(sess))
		if err != nil {
			return nil, err
		}
		if ok {
			all = append(all, sess)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	return paginate(all, limit, offset), nil
}

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
	if d.degraded {
		if turn.Metadata.Extra == nil {
			turn.Metadata.Extra = map[string]any{}
		}
		turn.Metadata.Extra["error"] = DegradedNote
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[create.SessionID]; !ok {
		return nil, store.NotFound("CreateTurn", errors.Errorf("session %s not found", create.SessionID))
	}
	d.turns[turn.ID] = turn
	d.turnsBySess[create.SessionID] = append(d.turnsBySess[create.SessionID], turn.ID)
	return cloneTurn(turn), nil
}

func (d *DB) GetTurn(ctx context.Context, id string) (*store.Turn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	turn, ok := d.turns[id]
	if !ok {
		return nil, nil
	}
	return cloneTurn(turn), nil
}

func (d *DB) UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	turn, ok := d.turns[update.ID]
	if !ok {
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
	return cloneTurn(turn), nil
}

func (d *DB) ListTurns(ctx context.Context, opts store.ListTurnsOptions) ([]*store.Turn, error) {
	pred, err := store.CompilePredicate(store.BuildTurnEqualityExpr(&opts.Filter))
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	var ids []string
	if opts.Filter.SessionID != nil {
		ids = append(ids, d.turnsBySess[*opts.Filter.SessionID]...)
	} else {
		for id := range d.turns {
			ids = append(ids, id)
		}
	}
	var matched []*store.Turn
	for _, id := range ids {
		turn := d.turns[id]
		ok, err := pred.Match(store.TurnVars(turn))
		if err != nil {
			d.mu.RUnlock()
			return nil, err
		}
		if ok {
			matched = append(matched, turn)
		}
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if opts.BeforeID != "" {
		idx := -1
		for i, t := range matched {
			if t.ID == opts.BeforeID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matched = matched[idx+1:]
		} else {
			// A before_id pointing to a nonexistent turn yields an empty
			// list, not an error; any id unmatched within the window
			// counts as nonexistent.
			return []*store.Turn{}, nil
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]*store.Turn, limit)
	for i := 0; i < limit; i++ {
		out[i] = cloneTurn(matched[i])
	}
	return out, nil
}

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
	d.mu.Lock()
	d.expressions = append(d.expressions, expr)
	d.mu.Unlock()
	return expr, nil
}

func (d *DB) ListExpressions(ctx context.Context, userID string, limit int) ([]*store.Expression, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var matched []*store.Expression
	for _, e := range d.expressions {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *DB) GetFrequencyState(ctx context.Context, userID string) (*store.FrequencyState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	state, ok := d.freqState[userID]
	if !ok {
		return nil, nil
	}
	snapshot := *state
	return &snapshot, nil
}

func (d *DB) PutFrequencyState(ctx context.Context, state *store.FrequencyState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := *state
	d.freqState[state.UserID] = &snapshot
	return nil
}

func paginate[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func cloneSession(s *store.Session) *store.Session {
	cp := *s
	cp.Metadata.Participants = append([]string(nil), s.Metadata.Participants...)
	if s.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]any, len(s.Metadata.Extra))
		for k, v := range s.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return &cp
}

func cloneTurn(t *store.Turn) *store.Turn {
	cp := *t
	if t.Metadata.ReadAt != nil {
		cp.Metadata.ReadAt = make(map[string]time.Time, len(t.Metadata.ReadAt))
		for k, v := range t.Metadata.ReadAt {
			cp.Metadata.ReadAt[k] = v
		}
	}
	if t.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]any, len(t.Metadata.Extra))
		for k, v := range t.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return &cp
}
