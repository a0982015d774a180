// Package nettools holds low-level socket helpers shared by the pool.
package nettools

import (
	"net"
	"syscall"
)

// Usable is a fast, non-blocking probe of an idle connection. It returns
// false when the peer has closed, the socket is in error, or stale bytes
// are pending (a pooled connection must be quiescent). On platforms
// without a peek primitive it answers optimistically.
func Usable(raw net.Conn) bool {
	sc := sysConn(raw)
	if sc == nil {
		return true
	}
	usable := true
	if err := sc.Control(func(fd uintptr) {
		usable = peekUsable(fd)
	}); err != nil {
		return false
	}
	return usable
}

func sysConn(raw net.Conn) syscall.RawConn {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// is *tls.Conn or polyfilled TLS Connection
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if sc, err := c.SyscallConn(); err == nil {
			return sc
		}
	}
	return nil
}
