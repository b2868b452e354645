// Package optimizer implements the DB query optimizer: batched bulk
// reads that collapse N independent lookups into K parallel requests of
// size ≤ B, plus a query-latency histogram decorator. Fan-out runs
// through golang.org/x/sync/errgroup for first-error propagation; the
// latency decorator records into a prometheus HistogramVec.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/dialogmesh/store"
)

const defaultBatchSize = 50

// Optimizer batches Storage lookups through an *store.Store.
type Optimizer struct {
	st        *store.Store
	batchSize int
	latency   *prometheus.HistogramVec
}

// Config configures batch size; zero defaults to 50.
type Config struct {
	BatchSize int
	Registry  *prometheus.Registry
}

// New wires an Optimizer to st and registers its latency histogram on
// registry (a nil registry skips registration — useful in tests).
func New(st *store.Store, cfg Config) *Optimizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	o := &Optimizer{
		st:        st,
		batchSize: cfg.BatchSize,
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dialogmesh",
				Subsystem: "store",
				Name:      "query_latency_seconds",
				Help:      "Latency of batched Storage queries, by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"op"},
		),
	}
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(o.latency)
	}
	return o
}

func (o *Optimizer) observe(op string, start time.Time) {
	o.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (o *Optimizer) chunks(n int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += o.batchSize {
		end := start + o.batchSize
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// BatchGetSessions fetches ids in K parallel batches of size ≤ B, returning
// a map from id to Session; ids that don't resolve are absent.
func (o *Optimizer) BatchGetSessions(ctx context.Context, ids []string) (map[string]*store.Session, error) {
	defer o.observe("batch_get_sessions", time.Now())

	out := make(map[string]*store.Session, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, span := range o.chunks(len(ids)) {
		span := span
		g.Go(func() error {
			for _, id := range ids[span[0]:span[1]] {
				sess, err := o.st.GetSession(gctx, id)
				if err != nil {
					return err
				}
				if sess == nil {
					continue
				}
				mu.Lock()
				out[id] = sess
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchGetMessages fetches turn ids in K parallel batches of size ≤ B.
func (o *Optimizer) BatchGetMessages(ctx context.Context, ids []string) (map[string]*store.Turn, error) {
	defer o.observe("batch_get_messages", time.Now())

	out := make(map[string]*store.Turn, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, span := range o.chunks(len(ids)) {
		span := span
		g.Go(func() error {
			for _, id := range ids[span[0]:span[1]] {
				turn, err := o.st.GetTurn(gctx, id)
				if err != nil {
					return err
				}
				if turn == nil {
					continue
				}
				mu.Lock()
				out[id] = turn
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MessagePatch is one entry of a BatchUpdateMessages call.
type MessagePatch struct {
	ID          string
	ReadAtPatch map[string]time.Time
	ExtraPatch  map[string]any
}

// BatchUpdateMessages applies patches in K parallel batches of size ≤ B,
// returning a map from id to the updated Turn; ids whose update failed are
// absent.
func (o *Optimizer) BatchUpdateMessages(ctx context.Context, patches []MessagePatch) (map[string]*store.Turn, error) {
	defer o.observe("batch_update_messages", time.Now())

	out := make(map[string]*store.Turn, len(patches))
	if len(patches) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, span := range o.chunks(len(patches)) {
		span := span
		g.Go(func() error {
			for _, p := range patches[span[0]:span[1]] {
				turn, err := o.st.UpdateTurn(gctx, &store.UpdateTurn{
					ID:          p.ID,
					ReadAtPatch: p.ReadAtPatch,
					ExtraPatch:  p.ExtraPatch,
				})
				if err != nil {
					return err
				}
				mu.Lock()
				out[p.ID] = turn
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MessageHistory is the message-history query: fetch all
// turns of sessionID, filter to metadata.human_chat == true, sort by
// created_at descending, apply the before_id cursor, truncate to limit.
//
// The human_chat filter is applied here via store.HumanChatFilter rather
// than through ListTurns' own FindTurn.Metadata (which compares against
// string literals and would never match the boolean true stored there);
// BeforeID/Limit must follow it, so this asks the Store for the full
// sorted, unfiltered window and applies the cursor and truncation itself.
func (o *Optimizer) MessageHistory(ctx context.Context, sessionID string, beforeID string, limit int) ([]*store.Turn, error) {
	defer o.observe("message_history", time.Now())

	turns, err := o.st.ListTurns(ctx, store.ListTurnsOptions{
		Filter: store.FindTurn{SessionID: &sessionID},
	})
	if err != nil {
		return nil, err
	}

	filtered := turns[:0:0]
	for _, t := range turns {
		ok, err := store.HumanChatFilter.Match(store.TurnVars(t))
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, t)
		}
	}

	if beforeID != "" {
		idx := -1
		for i, t := range filtered {
			if t.ID == beforeID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return []*store.Turn{}, nil
		}
		filtered = filtered[idx+1:]
	}

	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}
