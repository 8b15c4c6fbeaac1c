package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bingohall/models"

	"gorm.io/gorm"
)

// Store is the persistence layer behind the round engine. Every mutation of
// a round runs inside the round's queue, so the guarded updates below only
// lose races against writers that bypass the queue.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}

func (s *Store) GetGame(ctx context.Context, id uint) (*models.Game, error) {
	var game models.Game
	if err := s.db.WithContext(ctx).First(&game, id).Error; err != nil {
		return nil, notFound(err, "game %d", id)
	}
	return &game, nil
}

// GetRound loads a round together with its game.
func (s *Store) GetRound(ctx context.Context, id uint) (*models.Round, error) {
	var round models.Round
	if err := s.db.WithContext(ctx).Preload("Game").First(&round, id).Error; err != nil {
		return nil, notFound(err, "round %d", id)
	}
	return &round, nil
}

func (s *Store) ListRounds(ctx context.Context, gameID uint) ([]models.Round, error) {
	var rounds []models.Round
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("number").Find(&rounds).Error
	return rounds, err
}

// ActiveRound returns the game's active or paused round, or nil when there is none.
func (s *Store) ActiveRound(ctx context.Context, gameID uint) (*models.Round, error) {
	var rounds []models.Round
	err := s.db.WithContext(ctx).
		Where("game_id = ? AND status IN ?", gameID, []models.RoundStatus{models.RoundActive, models.RoundPaused}).
		Order("number").
		Limit(1).
		Find(&rounds).Error
	if err != nil || len(rounds) == 0 {
		return nil, err
	}
	return &rounds[0], nil
}

// RoundPatterns returns the round's patterns in configured order.
func (s *Store) RoundPatterns(ctx context.Context, roundID uint) ([]models.Pattern, error) {
	var patterns []models.Pattern
	err := s.db.WithContext(ctx).
		Joins("JOIN round_patterns ON round_patterns.pattern_id = patterns.id").
		Where("round_patterns.round_id = ?", roundID).
		Order("round_patterns.position").
		Find(&patterns).Error
	return patterns, err
}

func (s *Store) Calls(ctx context.Context, roundID uint) ([]models.Call, error) {
	var calls []models.Call
	err := s.db.WithContext(ctx).Where("round_id = ?", roundID).Order("sequence").Find(&calls).Error
	return calls, err
}

// AppendCall draws and persists the next call of an active round in one
// transaction. The next sequence is MAX(sequence)+1 over the committed calls,
// and the draw sees exactly the numbers committed so far.
func (s *Store) AppendCall(ctx context.Context, roundID uint, draw func(called []int) (int, error)) (*models.Call, error) {
	var call models.Call
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", roundID, models.RoundActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			return fmt.Errorf("round %d is not active: %w", roundID, ErrInvalidTransition)
		}

		var calls []models.Call
		if err := tx.Where("round_id = ?", roundID).Order("sequence").Find(&calls).Error; err != nil {
			return err
		}
		number, err := draw(models.Numbers(calls))
		if err != nil {
			return err
		}

		next := 1
		if n := len(calls); n > 0 {
			next = calls[n-1].Sequence + 1
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		call = models.Call{
			RoundID:  roundID,
			Number:   number,
			Sequence: next,
			CalledAt: time.Now().UTC(),
		}
		return tx.Create(&call).Error
	})
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// ActivateRound moves a round from pending or paused to active. It fails with
// ErrRoundAlreadyActive while a sibling round is active or paused, and moves a
// pending game to active on its first round start.
func (s *Store) ActivateRound(ctx context.Context, round *models.Round, from models.RoundStatus) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var busy int64
		if err := tx.Model(&models.Round{}).
			Where("game_id = ? AND id <> ? AND status IN ?", round.GameID, round.ID,
				[]models.RoundStatus{models.RoundActive, models.RoundPaused}).
			Count(&busy).Error; err != nil {
			return err
		}
		if busy > 0 {
			return fmt.Errorf("game %d: %w", round.GameID, ErrRoundAlreadyActive)
		}

		updates := map[string]any{"status": models.RoundActive}
		if from == models.RoundPending {
			updates["started_at"] = now
		}
		res := tx.Model(&models.Round{}).Where("id = ? AND status = ?", round.ID, from).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("round %d is no longer %s: %w", round.ID, from, ErrStaleState)
		}

		return tx.Model(&models.Game{}).
			Where("id = ? AND status = ?", round.GameID, models.GamePending).
			Updates(map[string]any{"status": models.GameActive, "started_at": now}).Error
	})
	if err != nil {
		return err
	}

	round.Status = models.RoundActive
	if from == models.RoundPending {
		round.StartedAt = &now
	}
	return nil
}

// PauseRound moves an active round to paused.
func (s *Store) PauseRound(ctx context.Context, round *models.Round) error {
	res := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND status = ?", round.ID, models.RoundActive).
		Update("status", models.RoundPaused)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("round %d is no longer active: %w", round.ID, ErrStaleState)
	}
	round.Status = models.RoundPaused
	return nil
}

// FinishRound moves a round to a terminal status. ended_at is written only
// while it is still unset.
func (s *Store) FinishRound(ctx context.Context, round *models.Round, to models.RoundStatus, reason string) error {
	from := []models.RoundStatus{models.RoundActive, models.RoundPaused}
	if to == models.RoundCancelled {
		from = append(from, models.RoundPending)
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND status IN ? AND ended_at IS NULL", round.ID, from).
		Updates(map[string]any{"status": to, "ended_at": now, "end_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("round %d already finished: %w", round.ID, ErrStaleState)
	}

	round.Status = to
	round.EndedAt = &now
	round.EndReason = reason
	return nil
}

func (s *Store) CountTerminalRounds(ctx context.Context, gameID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("game_id = ? AND status IN ?", gameID, []models.RoundStatus{models.RoundCompleted, models.RoundCancelled}).
		Count(&n).Error
	return n, err
}

// CloseGame ends a game whose rounds are all terminal: an active game
// completes, a game that never started is cancelled. It returns the new
// status, or "" when the game had already ended.
func (s *Store) CloseGame(ctx context.Context, gameID uint) (models.GameStatus, error) {
	now := time.Now().UTC()
	next := map[models.GameStatus]models.GameStatus{
		models.GameActive:  models.GameCompleted,
		models.GamePending: models.GameCancelled,
	}
	for _, from := range []models.GameStatus{models.GameActive, models.GamePending} {
		res := s.db.WithContext(ctx).Model(&models.Game{}).
			Where("id = ? AND status = ?", gameID, from).
			Updates(map[string]any{"status": next[from], "ended_at": now})
		if res.Error != nil {
			return "", res.Error
		}
		if res.RowsAffected > 0 {
			return next[from], nil
		}
	}
	return "", nil
}

// CreateClaim persists a pending claim. A card without an id is stored first.
func (s *Store) CreateClaim(ctx context.Context, card *models.Card, claim *models.WinnerClaim) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if card.ID == 0 {
			if err := tx.Create(card).Error; err != nil {
				return err
			}
		}
		claim.CardID = card.ID
		claim.Status = models.ClaimPending
		if claim.SubmittedAt.IsZero() {
			claim.SubmittedAt = time.Now().UTC()
		}
		return tx.Omit("Card").Create(claim).Error
	})
}

func (s *Store) GetClaim(ctx context.Context, id uint) (*models.WinnerClaim, error) {
	var claim models.WinnerClaim
	if err := s.db.WithContext(ctx).Preload("Card").First(&claim, id).Error; err != nil {
		return nil, notFound(err, "claim %d", id)
	}
	return &claim, nil
}

// ResolveClaim moves a pending claim to verified or rejected. It reports false
// when the claim had already left pending.
func (s *Store) ResolveClaim(ctx context.Context, claim *models.WinnerClaim, verdict Verdict, calledCount int) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":        verdict.Status(),
		"reject_reason": verdict.Reason,
		"called_count":  calledCount,
		"resolved_at":   now,
	}
	if verdict.PatternID != nil {
		updates["pattern_id"] = *verdict.PatternID
	}

	res := s.db.WithContext(ctx).Model(&models.WinnerClaim{}).
		Where("id = ? AND status = ?", claim.ID, models.ClaimPending).
		Updates(updates)
	if res.Error != nil || res.RowsAffected == 0 {
		return false, res.Error
	}

	claim.Status = verdict.Status()
	claim.RejectReason = verdict.Reason
	claim.CalledCount = calledCount
	claim.ResolvedAt = &now
	if verdict.PatternID != nil {
		claim.PatternID = verdict.PatternID
	}
	return true, nil
}

func (s *Store) VerifiedClaims(ctx context.Context, roundID uint) ([]models.WinnerClaim, error) {
	var claims []models.WinnerClaim
	err := s.db.WithContext(ctx).
		Where("round_id = ? AND status = ?", roundID, models.ClaimVerified).
		Order("resolved_at, id").
		Find(&claims).Error
	return claims, err
}

// PendingClaims lists every unresolved claim, oldest first.
func (s *Store) PendingClaims(ctx context.Context) ([]models.WinnerClaim, error) {
	var claims []models.WinnerClaim
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ClaimPending).
		Order("submitted_at, id").
		Find(&claims).Error
	return claims, err
}

func (s *Store) CreateCard(ctx context.Context, card *models.Card) error {
	return s.db.WithContext(ctx).Create(card).Error
}

// IssuedCards lists the server-issued cards a participant holds for a round.
func (s *Store) IssuedCards(ctx context.Context, roundID uint, participantID string) ([]models.Card, error) {
	var cards []models.Card
	err := s.db.WithContext(ctx).
		Where("round_id = ? AND participant_id = ? AND issued = ?", roundID, participantID, true).
		Order("id").
		Find(&cards).Error
	return cards, err
}
