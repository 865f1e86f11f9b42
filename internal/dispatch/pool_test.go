package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, g *Group) {
	t.Helper()
	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("group %s not done, pending=%d", g.ID(), g.Pending())
	}
}

func TestGroup_RunsAllUnits(t *testing.T) {
	p := NewPool(4, 8)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("job-1")
	require.NoError(t, err)

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	assert.False(t, g.Ready(), "unsealed group must not be ready")

	g.Seal()
	waitDone(t, g)
	assert.Equal(t, int64(50), ran.Load())
	assert.True(t, g.Ready())
	assert.Equal(t, int64(50), p.Stats().Completed)
}

func TestGroup_EmptySealIsDone(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("empty")
	require.NoError(t, err)
	g.Seal()
	assert.True(t, g.Ready())
}

func TestGroup_SubmitAfterSeal(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("sealed")
	require.NoError(t, err)
	g.Seal()
	assert.ErrorIs(t, g.Submit(context.Background(), func(context.Context) error { return nil }), ErrGroupSealed)
}

func TestNewGroup_Duplicate(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Stop(context.Background())

	_, err := p.NewGroup("dup")
	require.NoError(t, err)
	_, err = p.NewGroup("dup")
	assert.ErrorIs(t, err, ErrGroupExists)

	p.Release("dup")
	_, ok := p.Group("dup")
	assert.False(t, ok)
}

func TestGroup_RevokeSkipsQueued(t *testing.T) {
	p := NewPool(1, 16)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("revoke")
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int64

	require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		ran.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	<-started
	g.Revoke()
	close(release)
	waitDone(t, g)

	assert.Equal(t, int64(1), ran.Load(), "only the running unit completes")
	assert.Equal(t, int64(5), p.Stats().Revoked)
	assert.ErrorIs(t, g.Submit(context.Background(), func(context.Context) error { return nil }), ErrGroupRevoked)
}

func TestPool_PanicAndErrorStillFinish(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("faulty")
	require.NoError(t, err)

	require.NoError(t, g.Submit(context.Background(), func(context.Context) error { panic("boom") }))
	require.NoError(t, g.Submit(context.Background(), func(context.Context) error { return errors.New("bad") }))
	g.Seal()
	waitDone(t, g)

	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestPool_SubmitBlocksUntilContextDone(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Stop(context.Background())

	g, err := p.NewGroup("backpressure")
	require.NoError(t, err)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = g.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.Pending())
}

func TestPool_StopRefusesWork(t *testing.T) {
	p := NewPool(2, 4)
	g, err := p.NewGroup("late")
	require.NoError(t, err)

	require.NoError(t, p.Stop(context.Background()))

	assert.ErrorIs(t, g.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	_, err = p.NewGroup("another")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_StopDrainsQueue(t *testing.T) {
	p := NewPool(1, 10)
	g, err := p.NewGroup("drain")
	require.NoError(t, err)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}
	g.Seal()

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int64(10), ran.Load())
	assert.True(t, g.Ready())
}

// blockedPool returns a pool whose only worker is busy until the returned
// channel is closed, and whose queue has no room.
func blockedPool(t *testing.T) (*Pool, *Group, chan struct{}) {
	t.Helper()
	p := NewPool(1, 0)
	g, err := p.NewGroup("busy")
	require.NoError(t, err)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, g.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	return p, g, block
}

func TestPool_BlockedSubmitDoesNotStallGroups(t *testing.T) {
	p, g, block := blockedPool(t)
	defer p.Stop(context.Background())

	submitted := make(chan error, 1)
	go func() {
		submitted <- g.Submit(context.Background(), func(context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		other, err := p.NewGroup("other")
		assert.NoError(t, err)
		_, ok := p.Group(other.ID())
		assert.True(t, ok)
		p.Release(other.ID())
	}()

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("group registration waited on a blocked submit")
	}

	close(block)
	require.NoError(t, <-submitted)
}

func TestPool_StopUnblocksSenders(t *testing.T) {
	p, g, block := blockedPool(t)

	submitted := make(chan error, 1)
	go func() {
		submitted <- g.Submit(context.Background(), func(context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked submit not released by Stop")
	}

	close(block)
	require.NoError(t, <-stopped)
}
