package services

import (
	"context"
	"testing"
	"time"

	"bingohall/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*RoundCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRoundCache(client, time.Hour, zap.NewNop().Sugar())
	t.Cleanup(cache.Close)
	return cache, mr
}

// cachedSnapshot waits for the cache to serve the round.
func cachedSnapshot(t *testing.T, cache *RoundCache, roundID uint) *RoundStatusPayload {
	t.Helper()
	var snap *RoundStatusPayload
	require.Eventually(t, func() bool {
		var err error
		snap, err = cache.Snapshot(context.Background(), roundID)
		return err == nil && snap != nil
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestRoundCacheFollowsEvents(t *testing.T) {
	cache, mr := setupTestCache(t)

	cache.Refill(RoundStatusPayload{RoundID: 4, GameID: 2, RoundNumber: 1, Status: models.RoundPending})
	cache.Publish(Event{Name: EventRoundStatus, RoundID: 4, Payload: RoundStatusPayload{
		RoundID: 4, GameID: 2, RoundNumber: 1, Status: models.RoundActive,
	}})
	for i, n := range []int{17, 3, 42} {
		cache.Publish(Event{Name: EventNewCall, RoundID: 4, Payload: NewCallPayload{ID: uint(i + 1), Number: n, Sequence: i + 1}})
	}

	snap := cachedSnapshot(t, cache, 4)
	assert.Equal(t, uint(2), snap.GameID)
	assert.Equal(t, models.RoundActive, snap.Status)
	assert.Equal(t, 3, snap.LastSequence)
	assert.Equal(t, []int{17, 3, 42}, snap.CalledNumbers)

	assert.True(t, mr.TTL(stateKey(4)) > 0)
	assert.True(t, mr.TTL(callsKey(4)) > 0)

	cache.Publish(Event{Name: EventRoundStatus, RoundID: 4, Payload: RoundStatusPayload{
		RoundID: 4, GameID: 2, Status: models.RoundPaused, LastSequence: 3,
	}})
	require.Eventually(t, func() bool {
		snap, err := cache.Snapshot(context.Background(), 4)
		return err == nil && snap != nil && snap.Status == models.RoundPaused
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, cachedSnapshot(t, cache, 4).CalledNumbers, 3)
}

func TestRoundCacheIgnoresIncompleteSnapshots(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	snap, err := cache.Snapshot(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, snap)

	// Data written by someone else is not served before a refill.
	require.NoError(t, cache.Store(ctx, RoundStatusPayload{
		RoundID: 9, GameID: 1, Status: models.RoundActive, CalledNumbers: []int{5, 6},
	}))
	snap, err = cache.Snapshot(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, snap)

	cache.Refill(RoundStatusPayload{RoundID: 9, GameID: 1, Status: models.RoundActive, CalledNumbers: []int{5, 6}})
	assert.Equal(t, []int{5, 6}, cachedSnapshot(t, cache, 9).CalledNumbers)

	// A call lost on its way to redis leaves the list behind the sequence.
	mr.HSet(stateKey(9), "seq", "3")
	snap, err = cache.Snapshot(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRoundCacheDistrustsRoundAfterFailedWrite(t *testing.T) {
	cache, mr := setupTestCache(t)

	cache.Refill(RoundStatusPayload{RoundID: 3, GameID: 1, Status: models.RoundActive})
	cachedSnapshot(t, cache, 3)

	mr.Close()
	cache.Publish(Event{Name: EventNewCall, RoundID: 3, Payload: NewCallPayload{ID: 1, Number: 8, Sequence: 1}})
	require.Eventually(t, func() bool { return cacheIdle(cache, 3) }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, mr.Restart())

	// The lost call keeps the round out of the cache until the next refill.
	snap, err := cache.Snapshot(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, snap)

	cache.Refill(RoundStatusPayload{RoundID: 3, GameID: 1, Status: models.RoundActive, CalledNumbers: []int{8}})
	assert.Equal(t, []int{8}, cachedSnapshot(t, cache, 3).CalledNumbers)
}

func cacheIdle(cache *RoundCache, roundID uint) bool {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.pending[roundID] == 0
}

func TestRoundSnapshotPrefersCacheAndRefillsIt(t *testing.T) {
	cache, mr := setupTestCache(t)
	e := newTestEngine(t, time.Minute, cache)
	game := e.createGame(t, models.FirstWinnerWins, 1, e.topRow(t).ID)
	roundID := game.Rounds[0].ID
	ctx := context.Background()

	require.NoError(t, e.coordinator.RequestStart(ctx, game.ID, roundID))
	e.callN(t, game, roundID, 2)

	// The first snapshot comes from the database and fills the cache.
	snap, err := e.coordinator.RoundSnapshot(ctx, game.ID, roundID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.LastSequence)

	e.callN(t, game, roundID, 2)
	calls, err := e.store.Calls(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, models.Numbers(calls), cachedSnapshot(t, cache, roundID).CalledNumbers)

	// Losing redis state falls back to the database and refills the cache.
	mr.FlushAll()
	snap, err = e.coordinator.RoundSnapshot(ctx, game.ID, roundID)
	require.NoError(t, err)
	assert.Equal(t, models.Numbers(calls), snap.CalledNumbers)
	assert.Equal(t, 4, snap.LastSequence)
	assert.Equal(t, models.Numbers(calls), cachedSnapshot(t, cache, roundID).CalledNumbers)

	// The cache never answers for another game's round.
	_, err = e.coordinator.RoundSnapshot(ctx, game.ID+1, roundID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCallsAreNotHeldUpByRedisOutage(t *testing.T) {
	cache, mr := setupTestCache(t)
	e := newTestEngine(t, time.Minute, cache)
	game := e.createGame(t, models.FirstWinnerWins, 1, e.topRow(t).ID)
	roundID := game.Rounds[0].ID
	ctx := context.Background()

	require.NoError(t, e.coordinator.RequestStart(ctx, game.ID, roundID))
	mr.Close()

	started := time.Now()
	e.callN(t, game, roundID, 5)
	assert.Less(t, time.Since(started), time.Second)
	assert.Len(t, e.events.named(EventNewCall), 5)

	// Snapshots fall back to the database while redis is away.
	snap, err := e.coordinator.RoundSnapshot(ctx, game.ID, roundID)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.LastSequence)
}
