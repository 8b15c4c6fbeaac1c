package services

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type roundJob struct {
	ctx context.Context
	run func(ctx context.Context)
}

// roundActor is the execution queue of one round. At most one goroutine
// drains it at a time.
type roundActor struct {
	queue   []roundJob
	running bool
	retired bool

	// calls is handed to interruptible jobs at submit time; interrupt cancels
	// it and installs a fresh one for later submissions.
	calls     context.Context
	stopCalls context.CancelFunc
}

// roundArena keys actors by round id. Actors are created on first use and
// dropped once retired and idle.
type roundArena struct {
	mu     sync.Mutex
	actors map[uint]*roundActor
	wg     sync.WaitGroup
	log    *zap.SugaredLogger
}

func newRoundArena(log *zap.SugaredLogger) *roundArena {
	return &roundArena{actors: make(map[uint]*roundActor), log: log}
}

func newRoundActor() *roundActor {
	ctx, cancel := context.WithCancel(context.Background())
	return &roundActor{calls: ctx, stopCalls: cancel}
}

// submit queues run behind every job already queued for the round.
func (a *roundArena) submit(roundID uint, interruptible bool, run func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.actors[roundID]
	if !ok {
		act = newRoundActor()
		a.actors[roundID] = act
	}

	ctx := context.Background()
	if interruptible {
		ctx = act.calls
	}
	act.queue = append(act.queue, roundJob{ctx: ctx, run: run})

	if !act.running {
		act.running = true
		a.wg.Add(1)
		go a.drain(roundID, act)
	}
}

func (a *roundArena) drain(roundID uint, act *roundActor) {
	defer a.wg.Done()
	for {
		a.mu.Lock()
		if len(act.queue) == 0 {
			act.running = false
			if act.retired {
				a.drop(roundID, act)
			}
			a.mu.Unlock()
			return
		}
		job := act.queue[0]
		act.queue[0] = roundJob{}
		act.queue = act.queue[1:]
		a.mu.Unlock()

		a.runJob(roundID, job)
	}
}

func (a *roundArena) runJob(roundID uint, job roundJob) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorw("round job panicked", "round_id", roundID, "panic", r)
		}
	}()
	job.run(job.ctx)
}

// interrupt cancels the context of every interruptible job queued or running
// for the round. Jobs submitted afterwards are unaffected.
func (a *roundArena) interrupt(roundID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.actors[roundID]
	if !ok {
		return
	}
	act.stopCalls()
	act.calls, act.stopCalls = context.WithCancel(context.Background())
}

// retire marks the round finished. Its actor goes away as soon as the queue is empty.
func (a *roundArena) retire(roundID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.actors[roundID]
	if !ok {
		return
	}
	act.retired = true
	if !act.running && len(act.queue) == 0 {
		a.drop(roundID, act)
	}
}

// drop must be called with mu held.
func (a *roundArena) drop(roundID uint, act *roundActor) {
	if a.actors[roundID] == act {
		delete(a.actors, roundID)
	}
	act.stopCalls()
}

func (a *roundArena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.actors)
}

// wait blocks until every drain goroutine has exited.
func (a *roundArena) wait() {
	a.wg.Wait()
}
