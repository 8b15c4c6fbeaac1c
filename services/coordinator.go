package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bingohall/models"

	"go.uber.org/zap"
)

// ClaimRequest is a participant's bingo call.
type ClaimRequest struct {
	GameID        uint
	RoundID       uint
	ParticipantID string
	PatternID     *uint
	Card          [][]int
}

// Coordinator owns the rounds of every game. All round mutations go through
// the round's queue in the arena, and the events they produce are published
// from inside the queue once the mutation has committed.
type Coordinator struct {
	store        *Store
	machine      *RoundStateMachine
	verifier     *WinnerVerifier
	cache        *RoundCache
	arena        *roundArena
	claimTimeout time.Duration
	log          *zap.SugaredLogger

	publishers []EventPublisher

	// Start and resume of sibling rounds run in different queues; the game
	// lock keeps the one-active-round check and the update together.
	gameLocks [64]sync.Mutex

	timersMu sync.Mutex
	timers   map[uint]*time.Timer
	closed   bool
}

// NewCoordinator wires the engine. cache may be nil.
func NewCoordinator(store *Store, machine *RoundStateMachine, verifier *WinnerVerifier, cache *RoundCache, claimTimeout time.Duration, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		store:        store,
		machine:      machine,
		verifier:     verifier,
		cache:        cache,
		arena:        newRoundArena(log),
		claimTimeout: claimTimeout,
		log:          log,
		timers:       make(map[uint]*time.Timer),
	}
	// The cache sees each event before any later subscriber, so a snapshot
	// read after joining a room cannot miss an event the room was not sent.
	if cache != nil {
		c.Subscribe(cache)
	}
	return c
}

// Subscribe adds an event consumer. It must be called before the coordinator
// serves requests.
func (c *Coordinator) Subscribe(p EventPublisher) {
	c.publishers = append(c.publishers, p)
}

func (c *Coordinator) publish(events []Event) {
	for _, ev := range events {
		for _, p := range c.publishers {
			p.Publish(ev)
		}
	}
}

func (c *Coordinator) gameLock(gameID uint) *sync.Mutex {
	return &c.gameLocks[gameID%uint(len(c.gameLocks))]
}

// run queues job on the round and waits for it. The job outlives a cancelled
// ctx unless it is interruptible and has not started yet, or is still before
// its commit.
func (c *Coordinator) run(ctx context.Context, roundID uint, interruptible bool, job func(ctx context.Context) ([]Event, error)) error {
	done := make(chan error, 1)

	c.arena.submit(roundID, interruptible, func(calls context.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Errorw("round job panicked", "round_id", roundID, "panic", r)
				done <- fmt.Errorf("round %d: internal error", roundID)
			}
		}()

		jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		if interruptible {
			if calls.Err() != nil || ctx.Err() != nil {
				done <- fmt.Errorf("round %d: %w", roundID, ErrCallInterrupted)
				return
			}
			stopCalls := context.AfterFunc(calls, cancel)
			defer stopCalls()
			stopReq := context.AfterFunc(ctx, cancel)
			defer stopReq()
		}

		events, err := job(jobCtx)
		c.publish(events)
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadRound reads a round of the game. Jobs that find their round finished
// retire its queue.
func (c *Coordinator) loadRound(ctx context.Context, gameID, roundID uint) (*models.Round, error) {
	round, err := c.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.GameID != gameID {
		return nil, fmt.Errorf("round %d in game %d: %w", roundID, gameID, ErrNotFound)
	}
	if round.Status.IsTerminal() {
		c.arena.retire(round.ID)
	}
	return round, nil
}

// roundFinished runs after a round reached a terminal status.
func (c *Coordinator) roundFinished(ctx context.Context, round *models.Round) []Event {
	c.arena.retire(round.ID)

	finished, err := c.store.CountTerminalRounds(ctx, round.GameID)
	if err != nil {
		c.log.Errorw("counting finished rounds", "game_id", round.GameID, "error", err)
		return nil
	}
	if finished < int64(round.Game.TotalRounds) {
		return nil
	}

	status, err := c.store.CloseGame(ctx, round.GameID)
	if err != nil {
		c.log.Errorw("closing game", "game_id", round.GameID, "error", err)
		return nil
	}
	if status == "" {
		return nil
	}
	c.log.Infow("game closed", "game_id", round.GameID, "status", status)
	return []Event{gameStatusEvent(&round.Game, status)}
}

func gameStatusEvent(game *models.Game, status models.GameStatus) Event {
	return Event{
		Name:   EventNotification,
		Status: StatusInfo,
		Payload: NotificationPayload{
			Kind:    "game_status",
			Message: fmt.Sprintf("game %s", status),
			Data:    map[string]any{"gameId": game.ID, "status": status},
		},
		Entity:   "game",
		TenantID: game.TenantID,
		GameID:   game.ID,
	}
}

// GetActiveRound returns the game's active or paused round, or nil.
func (c *Coordinator) GetActiveRound(ctx context.Context, gameID uint) (*models.Round, error) {
	return c.store.ActiveRound(ctx, gameID)
}

// RequestStart starts a pending round. It fails with ErrRoundAlreadyActive
// while another round of the game is active or paused.
func (c *Coordinator) RequestStart(ctx context.Context, gameID, roundID uint) error {
	return c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}

		lock := c.gameLock(gameID)
		lock.Lock()
		defer lock.Unlock()

		wasPending := round.Game.Status == models.GamePending
		events, err := c.machine.Start(ctx, round)
		if err != nil {
			return nil, err
		}
		if wasPending {
			round.Game.Status = models.GameActive
			events = append(events, gameStatusEvent(&round.Game, models.GameActive))
		}
		return events, nil
	})
}

func (c *Coordinator) Pause(ctx context.Context, gameID, roundID uint) error {
	return c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		return c.machine.Pause(ctx, round)
	})
}

// Resume reactivates a paused round under the same one-active-round rule as start.
func (c *Coordinator) Resume(ctx context.Context, gameID, roundID uint) error {
	return c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}

		lock := c.gameLock(gameID)
		lock.Lock()
		defer lock.Unlock()
		return c.machine.Resume(ctx, round)
	})
}

func (c *Coordinator) Complete(ctx context.Context, gameID, roundID uint, reason string) error {
	return c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		events, err := c.machine.Complete(ctx, round, reason)
		if err != nil {
			return nil, err
		}
		return append(events, c.roundFinished(ctx, round)...), nil
	})
}

// Cancel interrupts every queued or in-flight call of the round that has not
// committed, then cancels the round behind the calls that already had.
func (c *Coordinator) Cancel(ctx context.Context, gameID, roundID uint, reason string) error {
	c.arena.interrupt(roundID)
	return c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		events, err := c.machine.Cancel(ctx, round, reason)
		if err != nil {
			return nil, err
		}
		return append(events, c.roundFinished(ctx, round)...), nil
	})
}

// CallNext calls the next number of an active round.
func (c *Coordinator) CallNext(ctx context.Context, gameID, roundID uint) (*CallResult, error) {
	var result *CallResult
	err := c.run(ctx, roundID, true, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		res, events, err := c.machine.CallNext(ctx, round)
		if err != nil {
			return nil, err
		}
		if res.Exhausted {
			events = append(events, c.roundFinished(ctx, round)...)
		}
		result = res
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitClaim registers a claim and verifies it. Calls queued between the two
// steps are part of the set the claim is judged against.
func (c *Coordinator) SubmitClaim(ctx context.Context, req ClaimRequest) (*models.WinnerClaim, error) {
	claim, err := c.RegisterClaim(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.VerifyClaim(ctx, req.GameID, claim.RoundID, claim.ID)
}

// RegisterClaim stores a pending claim, announces it to the room and arms
// its timeout.
func (c *Coordinator) RegisterClaim(ctx context.Context, req ClaimRequest) (*models.WinnerClaim, error) {
	if req.ParticipantID == "" {
		return nil, fmt.Errorf("claim without participant: %w", ErrInvalidRequest)
	}

	var claim *models.WinnerClaim
	err := c.run(ctx, req.RoundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, req.GameID, req.RoundID)
		if err != nil {
			return nil, err
		}

		card, err := c.claimCard(ctx, round, req)
		if err != nil {
			return nil, err
		}
		claim = &models.WinnerClaim{
			RoundID:       round.ID,
			ParticipantID: req.ParticipantID,
			PatternID:     req.PatternID,
		}
		if err := c.store.CreateClaim(ctx, card, claim); err != nil {
			return nil, err
		}

		ev := roundEvent(&round.Game, round, EventClaimPending, StatusInfo, ClaimPendingPayload{
			ClaimID:       claim.ID,
			ParticipantID: claim.ParticipantID,
			RoundID:       round.ID,
		})
		ev.Entity = "claim"
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	c.armClaimTimer(req.GameID, claim.RoundID, claim.ID, c.claimTimeout)
	return claim, nil
}

// claimCard reuses the participant's issued card when the submitted layout
// is one of them, and records the submitted layout otherwise.
func (c *Coordinator) claimCard(ctx context.Context, round *models.Round, req ClaimRequest) (*models.Card, error) {
	issued, err := c.store.IssuedCards(ctx, round.ID, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	for i := range issued {
		layout, err := issued[i].Grid()
		if err == nil && matchesAny(req.Card, [][][]int{layout}) {
			return &issued[i], nil
		}
	}
	return models.NewCard(round.ID, req.ParticipantID, req.Card, false)
}

// VerifyClaim judges a pending claim against the calls committed so far.
func (c *Coordinator) VerifyClaim(ctx context.Context, gameID, roundID, claimID uint) (*models.WinnerClaim, error) {
	var claim *models.WinnerClaim
	err := c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		pending, err := c.store.GetClaim(ctx, claimID)
		if err != nil {
			return nil, err
		}
		if pending.RoundID != round.ID {
			return nil, fmt.Errorf("claim %d in round %d: %w", claimID, roundID, ErrNotFound)
		}

		resolved, events, err := c.verifier.Process(ctx, claimID)
		if err != nil {
			return nil, err
		}
		c.disarmClaimTimer(claimID)

		if resolved.Status == models.ClaimVerified && round.WinnerPolicy != models.MultipleWinners {
			events = append(events, c.roundFinished(ctx, round)...)
		}
		claim = resolved
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (c *Coordinator) armClaimTimer(gameID, roundID, claimID uint, after time.Duration) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.closed {
		return
	}
	c.timers[claimID] = time.AfterFunc(after, func() {
		c.expireClaim(gameID, roundID, claimID)
	})
}

func (c *Coordinator) disarmClaimTimer(claimID uint) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[claimID]; ok {
		t.Stop()
		delete(c.timers, claimID)
	}
}

func (c *Coordinator) expireClaim(gameID, roundID, claimID uint) {
	c.disarmClaimTimer(claimID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		if _, err := c.loadRound(ctx, gameID, roundID); err != nil {
			return nil, err
		}
		_, events, err := c.verifier.Expire(ctx, claimID)
		return events, err
	})
	if err != nil {
		c.log.Errorw("expiring claim", "claim_id", claimID, "round_id", roundID, "error", err)
	}
}

// ExpireStaleClaims picks up claims left pending by a previous process. Claims
// past the claim timeout are rejected now; the rest get a timer for the time
// they have left.
func (c *Coordinator) ExpireStaleClaims(ctx context.Context) error {
	claims, err := c.store.PendingClaims(ctx)
	if err != nil {
		return err
	}
	expired := 0
	for _, claim := range claims {
		round, err := c.store.GetRound(ctx, claim.RoundID)
		if err != nil {
			return err
		}
		left := c.claimTimeout - time.Since(claim.SubmittedAt)
		if left > 0 {
			c.armClaimTimer(round.GameID, round.ID, claim.ID, left)
			continue
		}
		c.expireClaim(round.GameID, round.ID, claim.ID)
		expired++
	}
	if len(claims) > 0 {
		c.log.Infow("pending claims recovered", "expired", expired, "rearmed", len(claims)-expired)
	}
	return nil
}

// RoundSnapshot returns the round's state with its called numbers, from the
// cache when it is up to date with the round. Callers that stream events
// after the snapshot must start listening before asking for it.
func (c *Coordinator) RoundSnapshot(ctx context.Context, gameID, roundID uint) (*RoundStatusPayload, error) {
	if c.cache != nil {
		snap, err := c.cache.Snapshot(ctx, roundID)
		if err != nil {
			c.log.Warnw("round cache read failed", "round_id", roundID, "error", err)
		}
		if snap != nil && snap.GameID == gameID {
			return snap, nil
		}
	}

	var snap *RoundStatusPayload
	err := c.run(ctx, roundID, false, func(ctx context.Context) ([]Event, error) {
		round, err := c.loadRound(ctx, gameID, roundID)
		if err != nil {
			return nil, err
		}
		calls, err := c.store.Calls(ctx, round.ID)
		if err != nil {
			return nil, err
		}

		payload := statusEvent(&round.Game, round, len(calls)).Payload.(RoundStatusPayload)
		payload.CalledNumbers = models.Numbers(calls)
		if c.cache != nil {
			c.cache.Refill(payload)
		}
		snap = &payload
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Close stops claim timers and waits for queued round jobs to finish.
func (c *Coordinator) Close() {
	c.timersMu.Lock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()

	c.arena.wait()
}
