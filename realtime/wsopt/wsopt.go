// Package wsopt implements the websocket optimizer: a per-recipient
// outbound queue with size/time flush triggers, bypass types for
// latency-sensitive events, and payload slimming before handoff to the
// transport.
package wsopt

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultMaxBatchSize  = 20
	defaultBatchInterval = 100 * time.Millisecond
	contentTruncateAt    = 1000
)

// bypassTypes flush immediately regardless of queue depth or age.
var bypassTypes = map[string]bool{
	"typing":          true,
	"presence_change": true,
	"error":           true,
}

// Transport is the outbound handoff point (e.g. realtime/router.Router's
// DeliverToUser, or a direct websocket connection write).
type Transport interface {
	Send(ctx context.Context, userID string, envelope map[string]any) error
}

type userQueue struct {
	mu       sync.Mutex
	messages []map[string]any
	oldest   time.Time
	timer    *time.Timer
}

// Optimizer batches outbound messages per user.
type Optimizer struct {
	mu            sync.RWMutex
	queues        map[string]*userQueue
	maxBatchSize  int
	batchInterval time.Duration
	transport     Transport
}

// Config configures batching thresholds; zero values default to a max
// batch size of 20 and a 100ms batch interval.
type Config struct {
	MaxBatchSize  int
	BatchInterval time.Duration
}

// New constructs an Optimizer that flushes through transport.
func New(transport Transport, cfg Config) *Optimizer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = defaultBatchInterval
	}
	return &Optimizer{
		queues:        make(map[string]*userQueue),
		maxBatchSize:  cfg.MaxBatchSize,
		batchInterval: cfg.BatchInterval,
		transport:     transport,
	}
}

// RegisterUser activates queuing for userID.
func (o *Optimizer) RegisterUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.queues[userID]; !ok {
		o.queues[userID] = &userQueue{}
	}
}

// UnregisterUser deactivates queuing for userID, dropping anything still
// queued (the connection that would have received it is gone).
func (o *Optimizer) UnregisterUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if q, ok := o.queues[userID]; ok {
		q.mu.Lock()
		if q.timer != nil {
			q.timer.Stop()
		}
		q.mu.Unlock()
		delete(o.queues, userID)
	}
}

func (o *Optimizer) queueFor(userID string) (*userQueue, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.queues[userID]
	return q, ok
}

// Enqueue adds message to userID's outbound queue, flushing immediately
// if message is a bypass type, the queue has reached max_batch_size, or
// (via a deferred timer) once the oldest queued message reaches
// batch_interval_ms. Queues for unregistered users are rejected.
func (o *Optimizer) Enqueue(ctx context.Context, userID string, message map[string]any) error {
	q, ok := o.queueFor(userID)
	if !ok {
		return errors.Errorf("wsopt: user %s is not registered", userID)
	}

	msgType, _ := message["type"].(string)

	q.mu.Lock()
	if len(q.messages) == 0 {
		q.oldest = time.Now()
	}
	q.messages = append(q.messages, message)
	shouldFlush := bypassTypes[msgType] || len(q.messages) >= o.maxBatchSize
	if !shouldFlush && q.timer == nil {
		q.timer = time.AfterFunc(o.batchInterval, func() { o.flush(context.Background(), userID) })
	}
	q.mu.Unlock()

	if shouldFlush {
		return o.flush(ctx, userID)
	}
	return nil
}

// Flush immediately drains userID's queue, regardless of depth or age.
// Flushing an empty queue is a no-op.
func (o *Optimizer) Flush(ctx context.Context, userID string) error {
	return o.flush(ctx, userID)
}

func (o *Optimizer) flush(ctx context.Context, userID string) error {
	q, ok := o.queueFor(userID)
	if !ok {
		return nil
	}

	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	pending := q.messages
	q.messages = nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	optimized := make([]map[string]any, len(pending))
	for i, msg := range pending {
		optimized[i] = optimizePayload(msg)
	}

	envelope := map[string]any{
		"type":      "batch",
		"messages":  optimized,
		"count":     len(optimized),
		"timestamp": time.Now(),
	}
	return o.transport.Send(ctx, userID, envelope)
}

// optimizePayload strips debug-only fields and truncates an oversized
// content field before transport handoff.
func optimizePayload(msg map[string]any) map[string]any {
	out := make(map[string]any, len(msg))
	for k, v := range msg {
		if k == "debug" || k == "_debug" {
			continue
		}
		out[k] = v
	}
	if content, ok := out["content"].(string); ok && len(content) > contentTruncateAt {
		out["content"] = content[:contentTruncateAt]
		out["content_truncated"] = true
	}
	return out
}
