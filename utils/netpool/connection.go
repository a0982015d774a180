package netpool

import (
	"bufio"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roldriel/reqivo/internal/proto"
	"github.com/roldriel/reqivo/utils/nettools"
)

// Conn is a pooled connection. It is either on its origin's idle stack
// or checked out to exactly one request, never both. Read errors mark it
// unusable so it is discarded instead of returned.
type Conn struct {
	net.Conn
	br *bufio.Reader

	origin   proto.Origin
	openedAt time.Time
	lastUsed time.Time

	isClosed atomic.Bool
	released atomic.Bool // reset on checkout, set on release
}

func newConn(raw net.Conn, origin proto.Origin) *Conn {
	c := &Conn{Conn: raw, origin: origin, openedAt: time.Now(), lastUsed: time.Now()}
	c.br = bufio.NewReader(c)
	return c
}

// NewDetached wraps a connection that lives outside any pool, such as
// one upgraded to WebSocket. The caller owns its lifecycle.
func NewDetached(raw net.Conn, origin proto.Origin) *Conn {
	c := newConn(raw, origin)
	c.released.Store(true) // never pool-released
	return c
}

// Origin is the endpoint this connection was opened for.
func (c *Conn) Origin() proto.Origin { return c.origin }

// Reader returns the buffered reader bound to this connection. Response
// parsing must go through it so bytes buffered past one response survive
// for the next.
func (c *Conn) Reader() *bufio.Reader { return c.br }

// OpenedAt reports when the underlying socket was established.
func (c *Conn) OpenedAt() time.Time { return c.openedAt }

// LastUsedAt reports the completion time of the last successful read or
// the last return to the pool, whichever came later.
func (c *Conn) LastUsedAt() time.Time { return c.lastUsed }

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.markBroken("read", err)
	} else {
		c.lastUsed = time.Now()
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.markBroken("write", err)
	}
	return n, err
}

func (c *Conn) markBroken(op string, err error) {
	if c.isClosed.CompareAndSwap(false, true) {
		if err != io.EOF {
			logger.WithFields(logrus.Fields{"origin": c.origin.String(), "op": op}).
				WithError(err).Debug("netpool: connection broken")
		}
		c.Conn.Close()
	}
}

func (c *Conn) Close() error {
	if c.isClosed.CompareAndSwap(false, true) {
		return c.Conn.Close()
	}
	return nil
}

// Usable is the fast liveness probe run before reuse.
func (c *Conn) Usable() bool {
	if c.isClosed.Load() {
		return false
	}
	if c.br.Buffered() > 0 {
		// leftover bytes from a mis-framed response; do not reuse
		return false
	}
	return nettools.Usable(c.Conn)
}
