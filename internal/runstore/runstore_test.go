package runstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackAndCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	release, err := s.Track("run-1", cancel)
	require.NoError(t, err)
	defer release()

	assert.Equal(t, []string{"run-1"}, s.Active())
	require.NoError(t, ctx.Err())

	require.NoError(t, s.Cancel("run-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// The run is still draining, so a second cancel must not error.
	require.NoError(t, s.Cancel("run-1"))
}

func TestCancelUnknownRun(t *testing.T) {
	s := New()

	err := s.Cancel("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), `run "ghost"`)
}

func TestCancelAfterRelease(t *testing.T) {
	s := New()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	release, err := s.Track("run-1", cancel)
	require.NoError(t, err)
	assert.True(t, s.Tracked("run-1"))
	release()

	assert.False(t, s.Tracked("run-1"))
	assert.Empty(t, s.Active())
	assert.ErrorIs(t, s.Cancel("run-1"), ErrNotRunning)
}

func TestTrackRejectsDuplicateID(t *testing.T) {
	s := New()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	release, err := s.Track("run-1", cancel)
	require.NoError(t, err)
	defer release()

	_, err = s.Track("run-1", cancel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already tracked")
}

func TestTrackValidatesInputs(t *testing.T) {
	s := New()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Track("", cancel)
	assert.ErrorContains(t, err, "run id")

	_, err = s.Track("run-1", nil)
	assert.ErrorContains(t, err, "cancel function")
}

func TestActiveIsSorted(t *testing.T) {
	s := New()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, cancel := context.WithCancel(context.Background())
		release, err := s.Track(id, cancel)
		require.NoError(t, err)
		defer release()
		defer cancel()
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, s.Active())
}

// TestConcurrentTrackCancelRelease exercises the registry the way the
// orchestrator does: many runs starting, being cancelled and settling at
// once.
func TestConcurrentTrackCancelRelease(t *testing.T) {
	s := New()
	const numRuns = 100
	var wg sync.WaitGroup

	wg.Add(numRuns)
	for i := 0; i < numRuns; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			ctx, cancel := context.WithCancel(context.Background())
			release, err := s.Track(id, cancel)
			if err != nil {
				t.Errorf("tracking %s: %v", id, err)
				return
			}
			if err := s.Cancel(id); err != nil {
				t.Errorf("cancelling %s: %v", id, err)
			}
			<-ctx.Done()
			release()
		}(i)
	}
	wg.Wait()

	assert.Empty(t, s.Active())
}
