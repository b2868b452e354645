// Package router implements the message router: a per-user registry of
// delivery handlers plus a bounded offline spool. A sync.RWMutex guards
// the registry; fan-out runs in parallel via golang.org/x/sync/errgroup
// with delivery counters from github.com/prometheus/client_golang.
package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const defaultSpoolCap = 100

// DeliverFunc pushes one message to one connected client.
type DeliverFunc func(ctx context.Context, message any) error

type conn struct {
	id      uint64
	deliver DeliverFunc
}

// Router fans messages out to every registered handler for a user, and
// spools messages for users with no live connection.
type Router struct {
	mu          sync.RWMutex
	connections map[string][]conn
	spool       map[string][]any
	spoolCap    int
	nextID      uint64

	delivered *prometheus.CounterVec
	spooled   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// Config configures the spool cap; zero defaults to 100.
type Config struct {
	SpoolCap int
	Registry *prometheus.Registry
}

// New constructs a Router.
func New(cfg Config) *Router {
	if cfg.SpoolCap <= 0 {
		cfg.SpoolCap = defaultSpoolCap
	}
	r := &Router{
		connections: make(map[string][]conn),
		spool:       make(map[string][]any),
		spoolCap:    cfg.SpoolCap,
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogmesh",
			Subsystem: "router",
			Name:      "messages_delivered_total",
			Help:      "Messages delivered directly to a connected handler.",
		}, []string{"result"}),
		spooled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogmesh",
			Subsystem: "router",
			Name:      "messages_spooled_total",
			Help:      "Messages appended to a user's offline spool.",
		}, []string{}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogmesh",
			Subsystem: "router",
			Name:      "messages_dropped_total",
			Help:      "Spooled messages dropped because the spool was full.",
		}, []string{}),
	}
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(r.delivered, r.spooled, r.dropped)
	}
	return r
}

// RegisterConnection appends deliver to userID's handler list and drains
// any spooled messages through it. The returned id is passed to
// UnregisterConnection.
func (r *Router) RegisterConnection(userID string, deliver DeliverFunc) uint64 {
	id := atomic.AddUint64(&r.nextID, 1)

	r.mu.Lock()
	r.connections[userID] = append(r.connections[userID], conn{id: id, deliver: deliver})
	spooled := r.spool[userID]
	delete(r.spool, userID)
	r.mu.Unlock()

	for _, msg := range spooled {
		_ = deliver(context.Background(), msg)
	}
	return id
}

// UnregisterConnection removes the handler registered under id, dropping
// the user's entry entirely once its handler list is empty.
func (r *Router) UnregisterConnection(userID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.connections[userID]
	for i, c := range conns {
		if c.id == id {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.connections, userID)
	} else {
		r.connections[userID] = conns
	}
}

// DeliverToUser fans message out to every connected handler for userID in
// parallel; with no connections, it appends to the bounded offline spool,
// dropping the oldest entry on overflow.
func (r *Router) DeliverToUser(ctx context.Context, userID string, message any) error {
	r.mu.RLock()
	conns := append([]conn(nil), r.connections[userID]...)
	r.mu.RUnlock()

	if len(conns) == 0 {
		r.spoolFor(userID, message)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error { return c.deliver(gctx, message) })
	}
	err := g.Wait()
	if err != nil {
		r.delivered.WithLabelValues("error").Inc()
	} else {
		r.delivered.WithLabelValues("ok").Inc()
	}
	return err
}

func (r *Router) spoolFor(userID string, message any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.spool[userID]
	if len(q) >= r.spoolCap {
		q = q[1:]
		r.dropped.WithLabelValues().Inc()
	}
	r.spool[userID] = append(q, message)
	r.spooled.WithLabelValues().Inc()
}

// RouteMessage is DeliverToUser's plural form: one message routed to many
// recipients. Per-recipient FIFO order is preserved; no total order
// across recipients is guaranteed.
func (r *Router) RouteMessage(ctx context.Context, message any, recipients []string) {
	for _, userID := range recipients {
		_ = r.DeliverToUser(ctx, userID, message)
	}
}
