package envlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameEnvironment(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := reg.Acquire(ctx, "./envs/dev")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "only one holder at a time per environment")
}

func TestAcquireDistinctEnvironmentsOverlap(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	releaseA, err := reg.Acquire(ctx, "./envs/a")
	require.NoError(t, err)
	defer releaseA()

	// A second environment must not block behind the first.
	done := make(chan struct{})
	go func() {
		releaseB, err := reg.Acquire(ctx, "./envs/b")
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on a different environment blocked")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	reg := NewRegistry()

	release, err := reg.Acquire(context.Background(), "env")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = reg.Acquire(ctx, "env")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	release, err := reg.Acquire(context.Background(), "env")
	require.NoError(t, err)
	release()
	release() // second call must not panic or corrupt the semaphore

	again, err := reg.Acquire(context.Background(), "env")
	require.NoError(t, err)
	again()
}

func TestAcquireEmptyEnvironment(t *testing.T) {
	_, err := NewRegistry().Acquire(context.Background(), "")
	assert.Error(t, err)
}
