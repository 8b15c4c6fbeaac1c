package bingo

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

var (
	// ErrExhausted is returned by Draw once every number in range has been called.
	ErrExhausted = errors.New("number pool exhausted")
	// ErrInvalidRange is returned when min is not strictly below max.
	ErrInvalidRange = errors.New("invalid number range")
)

// NumberPool draws numbers without replacement for a round. It holds no
// per-round state: callers pass the numbers already called.
type NumberPool struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNumberPool constructs a pool with the provided rng or a time-seeded default.
func NewNumberPool(rng *rand.Rand) *NumberPool {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &NumberPool{rng: rng}
}

// Draw picks a number uniformly from [minRange, maxRange] excluding called.
// Called numbers outside the range are ignored.
func (p *NumberPool) Draw(minRange, maxRange int, called []int) (int, error) {
	if minRange >= maxRange {
		return 0, ErrInvalidRange
	}

	taken := make(map[int]struct{}, len(called))
	for _, n := range called {
		if n >= minRange && n <= maxRange {
			taken[n] = struct{}{}
		}
	}

	remaining := RangeSize(minRange, maxRange) - len(taken)
	if remaining <= 0 {
		return 0, ErrExhausted
	}

	p.mu.Lock()
	k := p.rng.Intn(remaining)
	p.mu.Unlock()

	for n := minRange; n <= maxRange; n++ {
		if _, ok := taken[n]; ok {
			continue
		}
		if k == 0 {
			return n, nil
		}
		k--
	}

	// unreachable while remaining is computed from the same set
	return 0, ErrExhausted
}

// Shuffle returns count distinct numbers from [minRange, maxRange] in random order.
func (p *NumberPool) Shuffle(minRange, maxRange, count int) ([]int, error) {
	if minRange >= maxRange {
		return nil, ErrInvalidRange
	}
	size := RangeSize(minRange, maxRange)
	if count > size {
		return nil, ErrExhausted
	}

	nums := make([]int, size)
	for i := range nums {
		nums[i] = minRange + i
	}

	p.mu.Lock()
	p.rng.Shuffle(len(nums), func(i, j int) { nums[i], nums[j] = nums[j], nums[i] })
	p.mu.Unlock()

	return nums[:count], nil
}

// RangeSize is the count of integers in [minRange, maxRange].
func RangeSize(minRange, maxRange int) int {
	if maxRange < minRange {
		return 0
	}
	return maxRange - minRange + 1
}
