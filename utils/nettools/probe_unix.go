//go:build darwin || linux
// +build darwin linux

package nettools

import "golang.org/x/sys/unix"

// peekUsable peeks one byte without blocking or consuming. A zero-byte
// read means the peer sent FIN; pending data on an idle connection is
// stale and also disqualifies it.
func peekUsable(fd uintptr) bool {
	var buf [1]byte
	n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return true // no pending data, socket open
	case err != nil:
		return false
	case n == 0:
		return false // peer closed
	default:
		return false // stale bytes waiting
	}
}
