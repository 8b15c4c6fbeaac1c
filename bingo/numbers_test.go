package bingo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawStaysInRangeWithoutDuplicates(t *testing.T) {
	pool := NewNumberPool(rand.New(rand.NewSource(7)))

	var called []int
	for i := 0; i < 75; i++ {
		n, err := pool.Draw(1, 75, called)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 75)
		assert.NotContains(t, called, n)
		called = append(called, n)
	}

	_, err := pool.Draw(1, 75, called)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDrawExhaustedExactlyWhenRangeCalled(t *testing.T) {
	pool := NewNumberPool(nil)

	n, err := pool.Draw(1, 5, []int{1, 2, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = pool.Draw(1, 5, []int{5, 4, 3, 2, 1})
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDrawIgnoresOutOfRangeCalls(t *testing.T) {
	pool := NewNumberPool(nil)

	n, err := pool.Draw(10, 12, []int{1, 2, 3, 10, 11, 99})
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestDrawRejectsInvalidRange(t *testing.T) {
	pool := NewNumberPool(nil)

	_, err := pool.Draw(5, 5, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = pool.Draw(9, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestDrawCoversEveryRemainingNumber(t *testing.T) {
	pool := NewNumberPool(rand.New(rand.NewSource(42)))

	seen := make(map[int]int)
	for i := 0; i < 4000; i++ {
		n, err := pool.Draw(1, 6, []int{2, 5})
		require.NoError(t, err)
		seen[n]++
	}

	assert.Len(t, seen, 4)
	for _, n := range []int{1, 3, 4, 6} {
		assert.Greater(t, seen[n], 800, "number %d drawn too rarely", n)
	}
}

func TestShuffleReturnsDistinctNumbers(t *testing.T) {
	pool := NewNumberPool(rand.New(rand.NewSource(1)))

	nums, err := pool.Shuffle(1, 20, 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, nums)

	_, err = pool.Shuffle(1, 20, 21)
	assert.ErrorIs(t, err, ErrExhausted)
}
