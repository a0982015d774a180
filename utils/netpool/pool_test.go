package netpool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roldriel/reqivo/internal/proto"
)

var testOrigin = proto.Origin{Scheme: "http", Host: "example.test", Port: 80}

// fakeDial hands out in-memory pipes and counts dials.
func fakeDial(count *atomic.Int32) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		count.Add(1)
		client, server := net.Pipe()
		go func() {
			buf := make([]byte, 1)
			for {
				if _, err := server.Read(buf); err != nil {
					return
				}
			}
		}()
		return client, nil
	}
}

func TestAcquireDialsWhenEmpty(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, time.Minute)

	c, err := g.Acquire(context.Background(), testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, testOrigin, c.Origin())
	g.Release(c, false)
}

func TestLIFOReuse(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(4, 8, time.Minute)
	ctx := context.Background()

	a, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	b, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)

	g.Release(a, true)
	g.Release(b, true)
	assert.Equal(t, 2, g.IdleCount(testOrigin))

	// most recently returned comes back first
	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	assert.Same(t, b, c)
	assert.Equal(t, int32(2), dials.Load())
	g.Release(c, true)
}

func TestNonReusableClosed(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, time.Minute)

	c, err := g.Acquire(context.Background(), testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, false)

	assert.Equal(t, 0, g.IdleCount(testOrigin))
	assert.True(t, c.isClosed.Load())
}

func TestExpiredIdleSkipped(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, 10*time.Millisecond)
	ctx := context.Background()

	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, true)

	time.Sleep(30 * time.Millisecond)

	c2, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.Equal(t, int32(2), dials.Load())
	g.Release(c2, false)
}

func TestPerHostPermitBlocks(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(1, 4, time.Minute)
	ctx := context.Background()

	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)

	bounded, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(bounded, testOrigin, fakeDial(&dials))
	require.Error(t, err)

	g.Release(c, true)
	c2, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c2, true)
}

func TestGlobalPermitAcrossOrigins(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(4, 1, time.Minute)
	other := proto.Origin{Scheme: "http", Host: "other.test", Port: 80}
	ctx := context.Background()

	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)

	bounded, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(bounded, other, fakeDial(&dials))
	require.Error(t, err)

	g.Release(c, true)
}

func TestDoubleReleasePanics(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, time.Minute)

	c, err := g.Acquire(context.Background(), testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, true)

	assert.Panics(t, func() { g.Release(c, true) })
}

func TestDialFailureReleasesPermits(t *testing.T) {
	g := NewGroup(1, 1, time.Minute)
	ctx := context.Background()

	_, err := g.Acquire(ctx, testOrigin, func(context.Context) (net.Conn, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)

	// both permits must be free again
	var dials atomic.Int32
	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, false)
}

func TestPrune(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(4, 8, 20*time.Millisecond)
	ctx := context.Background()

	c, err := g.Acquire(ctx, testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, true)
	require.Equal(t, 1, g.IdleCount(testOrigin))

	g.Prune(time.Now().Add(time.Minute))
	assert.Equal(t, 0, g.IdleCount(testOrigin))
	assert.True(t, c.isClosed.Load())
}

func TestCloseIdempotent(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, time.Minute)

	c, err := g.Acquire(context.Background(), testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Release(c, true)

	g.Close()
	g.Close()
	assert.Equal(t, 0, g.IdleCount(testOrigin))
	assert.True(t, c.isClosed.Load())
}

func TestReleaseAfterCloseDiscards(t *testing.T) {
	var dials atomic.Int32
	g := NewGroup(2, 4, time.Minute)

	c, err := g.Acquire(context.Background(), testOrigin, fakeDial(&dials))
	require.NoError(t, err)
	g.Close()
	g.Release(c, true)
	assert.True(t, c.isClosed.Load())
	assert.Equal(t, 0, g.IdleCount(testOrigin))
}
