package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceKey(t *testing.T) {
	a := SourceKey("/evidence/a.zip")

	assert.Equal(t, a, SourceKey("/evidence/a.zip"))
	assert.NotEqual(t, a, SourceKey("/evidence/b.zip"))
	assert.Len(t, a, len("evidence-ingest:lock:")+16)
}

func TestMemory_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	ok, err := l.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k"))
	ok, _ = l.TryAcquire(ctx, "k")
	assert.True(t, ok)
}

func TestMemory_ReleaseNotHeld(t *testing.T) {
	assert.ErrorIs(t, NewMemory().Release(context.Background(), "k"), ErrNotHeld)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().TryAcquire(ctx, "k")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ConcurrentAcquireHasOneWinner(t *testing.T) {
	l := NewMemory()
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryAcquire(context.Background(), "same"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
