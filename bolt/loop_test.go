package bolt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsJobsInOrder(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	loop.Start()
	defer loop.Stop()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, loop.Submit(func() { got = append(got, i) }))
	}

	require.NoError(t, loop.Do(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopDoWaitsForResult(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	loop.Start()
	defer loop.Stop()

	value := 0
	require.NoError(t, loop.Do(context.Background(), func() { value = 42 }))
	assert.Equal(t, 42, value)
}

func TestLoopDoHonorsContext(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	loop.Start()
	defer loop.Stop()

	release := make(chan struct{})
	require.NoError(t, loop.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := loop.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestLoopRecoversFromPanic(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	loop.Start()
	defer loop.Stop()

	require.NoError(t, loop.Submit(func() { panic("boom") }))

	// The loop must survive the panic and keep running jobs.
	survived := false
	require.NoError(t, loop.Do(context.Background(), func() { survived = true }))
	assert.True(t, survived)
}

func TestLoopStopDrainsQueuedJobs(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	loop.Start()

	ran := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ran) }))
	loop.Stop()

	select {
	case <-ran:
	default:
		t.Fatal("job queued before Stop never ran")
	}

	assert.ErrorIs(t, loop.Submit(func() {}), ErrLoopNotRunning)
}

func TestLoopBufferFull(t *testing.T) {
	t.Parallel()
	// A loop that is never started accumulates jobs until the buffer fills.
	loop := NewLoop(nopLogger{}, WithLoopBuffer(2))
	require.NoError(t, loop.Submit(func() {}))
	require.NoError(t, loop.Submit(func() {}))
	assert.ErrorIs(t, loop.Submit(func() {}), ErrLoopBufferFull)
}
