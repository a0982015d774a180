// Package netpool keeps idle connections for reuse, keyed by origin.
// Each origin holds a LIFO stack of idle connections; concurrency is
// bounded by a per-origin permit and a global permit, both implemented
// as buffered channels. Permits are held for the whole checkout.
package netpool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/proto"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// DialFunc opens a fresh connection to an origin.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Group is a set of per-origin pools sharing one global permit.
type Group struct {
	mu     sync.Mutex
	pools  map[proto.Origin]*pool
	closed bool

	globalTicket chan struct{}
	perHost      int
	maxIdleTime  time.Duration
}

type pool struct {
	ticket chan struct{}

	mu   sync.Mutex
	idle []*Conn // LIFO: most recently returned at the tail
}

// NewGroup builds a pool group. Non-positive arguments fall back to the
// engine defaults (10 per host, 100 total, 90s idle).
func NewGroup(perHost, maxTotal int, maxIdleTime time.Duration) *Group {
	if perHost <= 0 {
		perHost = 10
	}
	if maxTotal <= 0 {
		maxTotal = 100
	}
	if maxIdleTime <= 0 {
		maxIdleTime = 90 * time.Second
	}
	return &Group{
		pools:        map[proto.Origin]*pool{},
		globalTicket: make(chan struct{}, maxTotal),
		perHost:      perHost,
		maxIdleTime:  maxIdleTime,
	}
}

func (g *Group) poolFor(origin proto.Origin) *pool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pools[origin]
	if !ok {
		p = &pool{ticket: make(chan struct{}, g.perHost)}
		g.pools[origin] = p
	}
	return p
}

func acquireTicket(ctx context.Context, ticket chan struct{}) error {
	select {
	case ticket <- struct{}{}:
		return nil
	default:
	}
	select {
	case ticket <- struct{}{}:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errs.Wrap(errs.KindTimeout, "acquire connection", ctx.Err())
		}
		return errs.Wrap(errs.KindRequest, "acquire connection", ctx.Err())
	}
}

// Acquire returns an idle connection for origin or dials a new one.
// Stale and expired idle connections found on the way are closed and
// skipped. Both permits are held until the matching Release.
func (g *Group) Acquire(ctx context.Context, origin proto.Origin, dial DialFunc) (*Conn, error) {
	if err := acquireTicket(ctx, g.globalTicket); err != nil {
		return nil, err
	}
	p := g.poolFor(origin)
	if err := acquireTicket(ctx, p.ticket); err != nil {
		<-g.globalTicket
		return nil, err
	}

	if c := p.popUsable(g.maxIdleTime); c != nil {
		c.released.Store(false)
		return c, nil
	}

	// dial outside all locks
	raw, err := dial(ctx)
	if err != nil {
		<-p.ticket
		<-g.globalTicket
		return nil, err
	}
	c := newConn(raw, origin)
	c.released.Store(false)
	return c, nil
}

// popUsable pops from the LIFO stack until it finds a live, fresh
// connection; dead and expired ones are closed on the spot.
func (p *pool) popUsable(maxIdle time.Duration) *Conn {
	now := time.Now()
	for {
		p.mu.Lock()
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			return nil
		}
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if now.Sub(c.lastUsed) > maxIdle {
			logger.WithField("origin", c.origin.String()).Debug("netpool: closing expired idle connection")
			c.Close()
			continue
		}
		if !c.Usable() {
			c.Close()
			continue
		}
		return c
	}
}

// Release returns a checked-out connection. A non-reusable connection
// is closed; otherwise it goes back on top of its origin's stack.
// Releasing the same checkout twice is a programming error and panics.
func (g *Group) Release(c *Conn, reusable bool) {
	if !c.released.CompareAndSwap(false, true) {
		panic("netpool: connection double-return")
	}

	g.mu.Lock()
	closed := g.closed
	p := g.pools[c.origin]
	g.mu.Unlock()
	if p == nil {
		// a checked-out connection always has a pool entry; a detached
		// one must never reach Release
		panic("netpool: release of unpooled connection")
	}

	if closed || !reusable || c.isClosed.Load() {
		c.Close()
	} else {
		c.lastUsed = time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}

	// permits release last so idle+checked-out never exceeds capacity
	<-p.ticket
	<-g.globalTicket
}

// Prune closes idle connections that have expired as of now. Intended
// for periodic maintenance; acquisition already prunes opportunistically.
func (g *Group) Prune(now time.Time) {
	g.mu.Lock()
	pools := make([]*pool, 0, len(g.pools))
	for _, p := range g.pools {
		pools = append(pools, p)
	}
	g.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		kept := p.idle[:0]
		for _, c := range p.idle {
			if now.Sub(c.lastUsed) > g.maxIdleTime || !c.Usable() {
				c.Close()
			} else {
				kept = append(kept, c)
			}
		}
		p.idle = kept
		p.mu.Unlock()
	}
}

// IdleCount reports the idle-stack size for origin.
func (g *Group) IdleCount(origin proto.Origin) int {
	g.mu.Lock()
	p := g.pools[origin]
	g.mu.Unlock()
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close drains and closes every idle connection and rejects future
// pooling. Idempotent; in-flight connections are closed on release.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	pools := make([]*pool, 0, len(g.pools))
	for _, p := range g.pools {
		pools = append(pools, p)
	}
	g.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		for _, c := range p.idle {
			c.Close()
		}
		p.idle = nil
		p.mu.Unlock()
	}
}
