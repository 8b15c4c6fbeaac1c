package services

import (
	"context"
	"errors"
	"fmt"

	"bingohall/bingo"
	"bingohall/models"

	"go.uber.org/zap"
)

// End reasons recorded on rounds the engine finishes by itself.
const (
	ReasonNumbersExhausted = "numbers-exhausted"
	ReasonWinnerVerified   = "winner-verified"
)

var roundTransitions = map[models.RoundStatus][]models.RoundStatus{
	models.RoundPending: {models.RoundActive, models.RoundCancelled},
	models.RoundActive:  {models.RoundPaused, models.RoundCompleted, models.RoundCancelled},
	models.RoundPaused:  {models.RoundActive, models.RoundCompleted, models.RoundCancelled},
}

// CanTransition reports whether a round may move from one status to another.
func CanTransition(from, to models.RoundStatus) bool {
	for _, next := range roundTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(round *models.Round, to models.RoundStatus) error {
	if !CanTransition(round.Status, to) {
		return fmt.Errorf("round %d: %s -> %s: %w", round.ID, round.Status, to, ErrInvalidTransition)
	}
	return nil
}

// CallResult is the outcome of CallNext. Exhausted is set instead of Call when
// the range was used up and the round completed.
type CallResult struct {
	Call      *models.Call
	Exhausted bool
}

// RoundStateMachine applies lifecycle transitions to one round at a time.
// Callers serialize access per round; every method expects a freshly loaded
// round (with Game) and returns the events the transition produced, in order.
type RoundStateMachine struct {
	store *Store
	pool  *bingo.NumberPool
	log   *zap.SugaredLogger
}

func NewRoundStateMachine(store *Store, pool *bingo.NumberPool, log *zap.SugaredLogger) *RoundStateMachine {
	return &RoundStateMachine{store: store, pool: pool, log: log}
}

func (m *RoundStateMachine) Start(ctx context.Context, round *models.Round) ([]Event, error) {
	if round.Status != models.RoundPending {
		return nil, fmt.Errorf("round %d: %s -> %s: %w", round.ID, round.Status, models.RoundActive, ErrInvalidTransition)
	}
	if err := m.store.ActivateRound(ctx, round, models.RoundPending); err != nil {
		return nil, err
	}
	m.log.Infow("round started", "game_id", round.GameID, "round_id", round.ID, "number", round.Number)
	return m.statusEvents(ctx, round), nil
}

func (m *RoundStateMachine) Pause(ctx context.Context, round *models.Round) ([]Event, error) {
	if err := checkTransition(round, models.RoundPaused); err != nil {
		return nil, err
	}
	if err := m.store.PauseRound(ctx, round); err != nil {
		return nil, err
	}
	return m.statusEvents(ctx, round), nil
}

func (m *RoundStateMachine) Resume(ctx context.Context, round *models.Round) ([]Event, error) {
	if round.Status != models.RoundPaused {
		return nil, fmt.Errorf("round %d: %s -> %s: %w", round.ID, round.Status, models.RoundActive, ErrInvalidTransition)
	}
	if err := m.store.ActivateRound(ctx, round, models.RoundPaused); err != nil {
		return nil, err
	}
	return m.statusEvents(ctx, round), nil
}

func (m *RoundStateMachine) Complete(ctx context.Context, round *models.Round, reason string) ([]Event, error) {
	return m.finish(ctx, round, models.RoundCompleted, reason)
}

func (m *RoundStateMachine) Cancel(ctx context.Context, round *models.Round, reason string) ([]Event, error) {
	return m.finish(ctx, round, models.RoundCancelled, reason)
}

func (m *RoundStateMachine) finish(ctx context.Context, round *models.Round, to models.RoundStatus, reason string) ([]Event, error) {
	if err := checkTransition(round, to); err != nil {
		return nil, err
	}
	if err := m.store.FinishRound(ctx, round, to, reason); err != nil {
		return nil, err
	}
	m.log.Infow("round finished", "game_id", round.GameID, "round_id", round.ID, "status", to, "reason", reason)
	return m.statusEvents(ctx, round), nil
}

// CallNext draws and commits the next number of an active round. When every
// number of the range has been called the round completes instead and the
// status update is the only event.
func (m *RoundStateMachine) CallNext(ctx context.Context, round *models.Round) (*CallResult, []Event, error) {
	if round.Status != models.RoundActive {
		return nil, nil, fmt.Errorf("round %d is %s, calls need active: %w", round.ID, round.Status, ErrInvalidTransition)
	}

	call, err := m.store.AppendCall(ctx, round.ID, func(called []int) (int, error) {
		return m.pool.Draw(round.MinRange, round.MaxRange, called)
	})
	switch {
	case errors.Is(err, bingo.ErrExhausted):
		events, err := m.Complete(ctx, round, ReasonNumbersExhausted)
		if err != nil {
			return nil, nil, err
		}
		return &CallResult{Exhausted: true}, events, nil
	case err != nil && ctx.Err() != nil:
		return nil, nil, fmt.Errorf("round %d: %w", round.ID, ErrCallInterrupted)
	case err != nil:
		return nil, nil, err
	}

	m.log.Debugw("number called", "round_id", round.ID, "number", call.Number, "sequence", call.Sequence)
	ev := roundEvent(&round.Game, round, EventNewCall, StatusSuccess, NewCallPayload{
		ID:       call.ID,
		Number:   call.Number,
		Sequence: call.Sequence,
	})
	return &CallResult{Call: call}, []Event{ev}, nil
}

// statusEvents runs after the transition committed, so a failed sequence
// lookup only degrades the payload.
func (m *RoundStateMachine) statusEvents(ctx context.Context, round *models.Round) []Event {
	calls, err := m.store.Calls(ctx, round.ID)
	if err != nil {
		m.log.Warnw("status update without call count", "round_id", round.ID, "error", err)
	}
	return []Event{statusEvent(&round.Game, round, len(calls))}
}
