package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestArenaRunsJobsInSubmissionOrder(t *testing.T) {
	arena := newRoundArena(zap.NewNop().Sugar())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		arena.submit(1, false, func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	arena.wait()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestArenaInterruptOnlyReachesEarlierCalls(t *testing.T) {
	arena := newRoundArena(zap.NewNop().Sugar())
	release := make(chan struct{})
	arena.submit(1, false, func(context.Context) { <-release })

	var before, after, plain context.Context
	arena.submit(1, true, func(ctx context.Context) { before = ctx })
	arena.interrupt(1)
	arena.submit(1, true, func(ctx context.Context) { after = ctx })
	arena.submit(1, false, func(ctx context.Context) { plain = ctx })
	close(release)
	arena.wait()

	assert.ErrorIs(t, before.Err(), context.Canceled)
	assert.NoError(t, after.Err())
	assert.NoError(t, plain.Err())
}

func TestArenaSurvivesPanickingJob(t *testing.T) {
	arena := newRoundArena(zap.NewNop().Sugar())

	ran := false
	arena.submit(1, false, func(context.Context) { panic("boom") })
	arena.submit(1, false, func(context.Context) { ran = true })
	arena.wait()

	assert.True(t, ran)
}

func TestArenaRetireDropsIdleActor(t *testing.T) {
	arena := newRoundArena(zap.NewNop().Sugar())
	release := make(chan struct{})

	arena.submit(1, false, func(context.Context) { <-release })
	arena.submit(2, false, func(context.Context) {})
	arena.retire(1)
	assert.Equal(t, 2, arena.size(), "retired actor stays while busy")

	close(release)
	arena.wait()
	assert.Equal(t, 1, arena.size())

	arena.retire(2)
	assert.Equal(t, 0, arena.size())
}
