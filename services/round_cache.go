package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheQueueSize = 1024
	cacheOpTimeout = 2 * time.Second
)

// RoundCache keeps a redis snapshot of each live round for join-time sync.
// It is fed from the engine's event stream and is never read by the engine
// itself. Writes are applied in order by one goroutine, off the round queues.
// A round reads as a cache miss until a refill has landed, and again whenever
// its writes are queued or one of them failed.
type RoundCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger

	ops  chan cacheOp
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[uint]int
	trusted map[uint]bool
	fails   map[uint]uint64
}

type cacheOp struct {
	roundID uint
	event   *Event
	refill  *RoundStatusPayload
	fails   uint64
}

func NewRoundCache(client *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *RoundCache {
	c := &RoundCache{
		redis:   client,
		ttl:     ttl,
		log:     log,
		ops:     make(chan cacheOp, cacheQueueSize),
		done:    make(chan struct{}),
		pending: make(map[uint]int),
		trusted: make(map[uint]bool),
		fails:   make(map[uint]uint64),
	}
	go c.loop()
	return c
}

func stateKey(roundID uint) string { return fmt.Sprintf("round:%d", roundID) }
func callsKey(roundID uint) string { return fmt.Sprintf("round:%d:calls", roundID) }

// Publish queues an engine event for the snapshot. It never blocks.
func (c *RoundCache) Publish(ev Event) {
	switch ev.Payload.(type) {
	case NewCallPayload, RoundStatusPayload:
	default:
		return
	}
	c.enqueue(cacheOp{roundID: ev.RoundID, event: &ev})
}

// Refill queues a full replacement of the round's snapshot.
func (c *RoundCache) Refill(state RoundStatusPayload) {
	c.enqueue(cacheOp{roundID: state.RoundID, refill: &state})
}

func (c *RoundCache) enqueue(op cacheOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	op.fails = c.fails[op.roundID]
	select {
	case c.ops <- op:
		c.pending[op.roundID]++
	default:
		c.markFailedLocked(op.roundID)
		c.log.Warnw("round cache queue full, dropping update", "round_id", op.roundID)
	}
}

func (c *RoundCache) markFailedLocked(roundID uint) {
	delete(c.trusted, roundID)
	c.fails[roundID]++
}

func (c *RoundCache) loop() {
	defer close(c.done)
	for op := range c.ops {
		err := c.apply(op)

		c.mu.Lock()
		if c.pending[op.roundID]--; c.pending[op.roundID] <= 0 {
			delete(c.pending, op.roundID)
		}
		switch {
		case err != nil:
			c.markFailedLocked(op.roundID)
		case op.refill != nil && c.fails[op.roundID] == op.fails:
			c.trusted[op.roundID] = true
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warnw("round cache update failed", "round_id", op.roundID, "error", err)
		}
	}
}

func (c *RoundCache) apply(op cacheOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if op.refill != nil {
		return c.Store(ctx, *op.refill)
	}
	switch payload := op.event.Payload.(type) {
	case NewCallPayload:
		return c.appendCall(ctx, op.roundID, payload)
	case RoundStatusPayload:
		return c.setState(ctx, payload)
	}
	return nil
}

// usable reports whether redis holds every update published for the round.
func (c *RoundCache) usable(roundID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[roundID] == 0 && c.trusted[roundID]
}

// Close applies the queued writes and stops the writer.
func (c *RoundCache) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ops)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *RoundCache) appendCall(ctx context.Context, roundID uint, call NewCallPayload) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, callsKey(roundID), call.Number)
		pipe.HSet(ctx, stateKey(roundID), "seq", call.Sequence)
		pipe.Expire(ctx, callsKey(roundID), c.ttl)
		pipe.Expire(ctx, stateKey(roundID), c.ttl)
		return nil
	})
	return err
}

func (c *RoundCache) setState(ctx context.Context, state RoundStatusPayload) error {
	state.CalledNumbers = nil
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal round state: %w", err)
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, stateKey(state.RoundID), "state", data, "seq", state.LastSequence)
		pipe.Expire(ctx, stateKey(state.RoundID), c.ttl)
		return nil
	})
	return err
}

// Store replaces the whole snapshot, called numbers included.
func (c *RoundCache) Store(ctx context.Context, state RoundStatusPayload) error {
	numbers := make([]any, len(state.CalledNumbers))
	for i, n := range state.CalledNumbers {
		numbers[i] = n
	}

	state.LastSequence = len(state.CalledNumbers)
	if err := c.setState(ctx, state); err != nil {
		return err
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, callsKey(state.RoundID))
		if len(numbers) > 0 {
			pipe.RPush(ctx, callsKey(state.RoundID), numbers...)
			pipe.Expire(ctx, callsKey(state.RoundID), c.ttl)
		}
		return nil
	})
	return err
}

// Snapshot returns the cached round state, or nil when the cache holds no
// complete snapshot for the round.
func (c *RoundCache) Snapshot(ctx context.Context, roundID uint) (*RoundStatusPayload, error) {
	if !c.usable(roundID) {
		return nil, nil
	}

	var (
		fields *redis.MapStringStringCmd
		calls  *redis.StringSliceCmd
	)
	_, err := c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, stateKey(roundID))
		calls = pipe.LRange(ctx, callsKey(roundID), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	raw, ok := fields.Val()["state"]
	if !ok {
		return nil, nil
	}
	var state RoundStatusPayload
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round state: %w", err)
	}

	// A list shorter or longer than the last sequence missed an update.
	seq, _ := strconv.Atoi(fields.Val()["seq"])
	if len(calls.Val()) != seq {
		return nil, nil
	}
	state.LastSequence = seq
	state.CalledNumbers = make([]int, 0, seq)
	for _, v := range calls.Val() {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil
		}
		state.CalledNumbers = append(state.CalledNumbers, n)
	}
	return &state, nil
}
