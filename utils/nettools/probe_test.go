//go:build darwin || linux
// +build darwin linux

package nettools

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			done <- c
		}
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-done
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestUsableOpenConn(t *testing.T) {
	client, _ := pipePair(t)
	assert.True(t, Usable(client))
}

func TestUsableAfterPeerClose(t *testing.T) {
	client, server := pipePair(t)
	server.Close()
	time.Sleep(50 * time.Millisecond) // let the FIN arrive
	assert.False(t, Usable(client))
}

func TestUsableWithStaleData(t *testing.T) {
	client, server := pipePair(t)
	_, err := server.Write([]byte("unexpected"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, Usable(client))
}
