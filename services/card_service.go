package services

import (
	"context"
	"errors"
	"fmt"

	"bingohall/bingo"
	"bingohall/models"

	"go.uber.org/zap"
)

// CardService issues server-generated cards. Once a participant holds issued
// cards for a round, only those layouts are accepted in their claims.
type CardService struct {
	store *Store
	pool  *bingo.NumberPool
	log   *zap.SugaredLogger
}

func NewCardService(store *Store, pool *bingo.NumberPool, log *zap.SugaredLogger) *CardService {
	return &CardService{store: store, pool: pool, log: log}
}

func (s *CardService) IssueCard(ctx context.Context, gameID, roundID uint, participantID string) (*models.Card, error) {
	if participantID == "" {
		return nil, fmt.Errorf("card without participant: %w", ErrInvalidRequest)
	}

	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.GameID != gameID {
		return nil, fmt.Errorf("round %d in game %d: %w", roundID, gameID, ErrNotFound)
	}
	if round.Status.IsTerminal() {
		return nil, fmt.Errorf("round %d is %s: %w", roundID, round.Status, ErrInvalidTransition)
	}

	layout, err := s.pool.GenerateCard(round.Grid())
	if errors.Is(err, bingo.ErrRangeTooNarrow) {
		return nil, fmt.Errorf("round %d: %v: %w", roundID, err, ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	card, err := models.NewCard(round.ID, participantID, layout, true)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.Infow("card issued", "round_id", round.ID, "participant_id", participantID, "card_id", card.ID)
	return card, nil
}
