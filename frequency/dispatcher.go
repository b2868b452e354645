package frequency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	dispatchHistorySize  = 50
	dispatchQueueDepth   = 256
	channelHealthWindow  = 10
	channelWarnThreshold = 0.5
)

// ChannelFunc delivers a Generated expression through one output
// channel, returning whether delivery succeeded.
type ChannelFunc func(ctx context.Context, expr Generated) (bool, error)

// DispatchRecord is one ring-buffer entry of dispatch history.
type DispatchRecord struct {
	Timestamp      time.Time
	ExpressionType string
	Channel        string
	Success        bool
}

type channelHealth struct {
	recent []bool // true = success, bounded to channelHealthWindow
}

func (h *channelHealth) record(success bool) {
	h.recent = append(h.recent, success)
	if len(h.recent) > channelHealthWindow {
		h.recent = h.recent[len(h.recent)-channelHealthWindow:]
	}
}

func (h *channelHealth) failureRate() float64 {
	if len(h.recent) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range h.recent {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(h.recent))
}

type queuedExpression struct {
	expr    Generated
	channel string
}

// Dispatcher routes generated expressions to named output channels. A
// background worker drains an internal queue so producers never block.
type Dispatcher struct {
	mu       sync.Mutex
	channels map[string]ChannelFunc
	history  []DispatchRecord
	health   map[string]*channelHealth

	limiter  *rate.Limiter
	queue    chan queuedExpression
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DispatcherConfig bounds the drain rate (cooldown gate, x/time/rate);
// zero disables rate limiting.
type DispatcherConfig struct {
	MaxDispatchesPerSecond float64
}

// NewDispatcher constructs a Dispatcher and starts its drain worker.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	var limiter *rate.Limiter
	if cfg.MaxDispatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxDispatchesPerSecond), 1)
	}
	d := &Dispatcher{
		channels: make(map[string]ChannelFunc),
		health:   make(map[string]*channelHealth),
		limiter:  limiter,
		queue:    make(chan queuedExpression, dispatchQueueDepth),
		stopCh:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// RegisterChannel adds or replaces a named output channel.
func (d *Dispatcher) RegisterChannel(name string, fn ChannelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[name] = fn
}

// UnregisterChannel removes a named output channel.
func (d *Dispatcher) UnregisterChannel(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, name)
}

// Stop signals the worker to exit and waits for it. Expressions still
// in the queue when Stop is called are not dispatched.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

// QueueExpression enqueues a Generated expression for asynchronous
// dispatch. channel may be empty to auto-select.
func (d *Dispatcher) QueueExpression(expr Generated, channel string) {
	select {
	case d.queue <- queuedExpression{expr: expr, channel: channel}:
	default:
		slog.Warn("frequency: dispatch queue full, dropping expression", "expression_type", expr.Content.Type)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case qe := <-d.queue:
			if d.limiter != nil {
				if err := d.limiter.Wait(context.Background()); err != nil {
					continue
				}
			}
			d.Dispatch(context.Background(), qe.expr, qe.channel)
		}
	}
}

// Dispatch resolves a channel (explicit or auto-selected), invokes it,
// and records history plus per-channel health.
func (d *Dispatcher) Dispatch(ctx context.Context, expr Generated, channel string) bool {
	target := channel
	if target == "" {
		target = d.selectChannel(expr)
	}

	d.mu.Lock()
	fn, ok := d.channels[target]
	d.mu.Unlock()
	if !ok {
		slog.Error("frequency: no such output channel", "channel", target)
		return false
	}

	success, err := fn(ctx, expr)
	if err != nil {
		slog.Warn("frequency: channel delivery error", "channel", target, "error", err)
		success = false
	}

	d.recordHistory(DispatchRecord{
		Timestamp:      time.Now(),
		ExpressionType: string(expr.Content.Type),
		Channel:        target,
		Success:        success,
	})
	d.recordHealth(target, success)
	return success
}

func (d *Dispatcher) selectChannel(expr Generated) string {
	switch {
	case expr.PriorityScore > 0.8:
		return "main"
	case expr.Content.Type == "reminder" || expr.Content.Type == "alert":
		return "notification"
	case expr.Content.Type == "greeting" || expr.Content.Type == "observation":
		return "secondary"
	default:
		return "main"
	}
}

func (d *Dispatcher) recordHistory(r DispatchRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, r)
	if len(d.history) > dispatchHistorySize {
		d.history = d.history[len(d.history)-dispatchHistorySize:]
	}
}

// recordHealth tracks a per-channel rolling success rate and logs a warning once a
// channel's last channelHealthWindow dispatches exceed a 50% failure
// rate. Observability only — it never disables the channel.
func (d *Dispatcher) recordHealth(channel string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.health[channel]
	if !ok {
		h = &channelHealth{}
		d.health[channel] = h
	}
	h.record(success)
	if rate := h.failureRate(); rate > channelWarnThreshold {
		slog.Warn("frequency: channel failure rate exceeds threshold", "channel", channel, "failure_rate", rate)
	}
}

// History returns the last limit dispatch records (or all, if limit<=0).
func (d *Dispatcher) History(limit int) []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit >= len(d.history) {
		out := make([]DispatchRecord, len(d.history))
		copy(out, d.history)
		return out
	}
	out := make([]DispatchRecord, limit)
	copy(out, d.history[len(d.history)-limit:])
	return out
}
