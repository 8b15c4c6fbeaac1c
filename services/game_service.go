package services

import (
	"context"
	"fmt"
	"time"

	"bingohall/bingo"
	"bingohall/models"

	"gorm.io/gorm"
)

// GameService creates games with their rounds and serves read access scoped
// to a tenant. Lifecycle changes go through the Coordinator.
type GameService struct {
	db *gorm.DB
}

func NewGameService(db *gorm.DB) *GameService {
	return &GameService{db: db}
}

type CreateGameRequest struct {
	ShopID           uint                 `json:"shop_id" binding:"required"`
	Name             string               `json:"name" binding:"required"`
	EntryFee         float64              `json:"entry_fee" binding:"min=0"`
	Currency         string               `json:"currency" binding:"required,len=3"`
	ScheduledStartAt *time.Time           `json:"scheduled_start_at"`
	ScheduledEndAt   *time.Time           `json:"scheduled_end_at"`
	Rounds           []CreateRoundRequest `json:"rounds" binding:"required,min=1,dive"`
}

type CreateRoundRequest struct {
	Name             string              `json:"name" binding:"required"`
	Prize            float64             `json:"prize" binding:"min=0"`
	Rows             int                 `json:"rows" binding:"required"`
	Cols             int                 `json:"cols" binding:"required"`
	MinRange         int                 `json:"min_range"`
	MaxRange         int                 `json:"max_range" binding:"required"`
	FreeSpace        bool                `json:"free_space"`
	FreeRow          int                 `json:"free_row"`
	FreeCol          int                 `json:"free_col"`
	WinnerPolicy     models.WinnerPolicy `json:"winner_policy"`
	PatternIDs       []uint              `json:"pattern_ids" binding:"required,min=1"`
	ScheduledStartAt time.Time           `json:"scheduled_start_at"`
}

func (r *CreateRoundRequest) grid() bingo.Grid {
	return bingo.Grid{
		Rows:     r.Rows,
		Cols:     r.Cols,
		MinRange: r.MinRange,
		MaxRange: r.MaxRange,
		Free:     bingo.FreeSpace{Enabled: r.FreeSpace, Row: r.FreeRow, Col: r.FreeCol},
	}
}

func (s *GameService) CreateGame(ctx context.Context, tenantID uint, req *CreateGameRequest) (*models.Game, error) {
	if len(req.Rounds) == 0 {
		return nil, fmt.Errorf("a game needs at least one round: %w", ErrInvalidRequest)
	}
	if req.ScheduledStartAt != nil && req.ScheduledEndAt != nil && req.ScheduledEndAt.Before(*req.ScheduledStartAt) {
		return nil, fmt.Errorf("scheduled end before start: %w", ErrInvalidRequest)
	}

	// Start transaction
	tx := s.db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	game := models.Game{
		TenantID:         tenantID,
		ShopID:           req.ShopID,
		Name:             req.Name,
		TotalRounds:      len(req.Rounds),
		EntryFee:         req.EntryFee,
		Currency:         req.Currency,
		ScheduledStartAt: req.ScheduledStartAt,
		ScheduledEndAt:   req.ScheduledEndAt,
		Status:           models.GamePending,
	}
	if err := tx.Create(&game).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for i := range req.Rounds {
		if err := createRound(tx, &game, i+1, &req.Rounds[i]); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return s.GetGame(ctx, tenantID, game.ID)
}

func createRound(tx *gorm.DB, game *models.Game, number int, req *CreateRoundRequest) error {
	grid := req.grid()
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("round %d: %v: %w", number, err, ErrInvalidRequest)
	}
	policy := req.WinnerPolicy
	if policy == "" {
		policy = models.FirstWinnerWins
	}
	if !policy.Valid() {
		return fmt.Errorf("round %d: unknown winner policy %q: %w", number, policy, ErrInvalidRequest)
	}
	if len(req.PatternIDs) == 0 {
		return fmt.Errorf("round %d has no patterns: %w", number, ErrInvalidRequest)
	}

	var patterns []models.Pattern
	if err := tx.Where("tenant_id = ? AND id IN ?", game.TenantID, req.PatternIDs).Find(&patterns).Error; err != nil {
		return err
	}
	byID := make(map[uint]models.Pattern, len(patterns))
	for _, p := range patterns {
		byID[p.ID] = p
	}

	round := models.Round{
		GameID:           game.ID,
		Number:           number,
		Name:             req.Name,
		Prize:            req.Prize,
		Rows:             req.Rows,
		Cols:             req.Cols,
		MinRange:         req.MinRange,
		MaxRange:         req.MaxRange,
		FreeSpace:        req.FreeSpace,
		FreeRow:          req.FreeRow,
		FreeCol:          req.FreeCol,
		WinnerPolicy:     policy,
		ScheduledStartAt: req.ScheduledStartAt,
		Status:           models.RoundPending,
	}
	if err := tx.Create(&round).Error; err != nil {
		return err
	}

	seen := make(map[uint]bool, len(req.PatternIDs))
	for pos, id := range req.PatternIDs {
		pattern, ok := byID[id]
		if !ok || seen[id] {
			return fmt.Errorf("round %d: pattern %d is unknown or repeated: %w", number, id, ErrInvalidRequest)
		}
		seen[id] = true

		matcher, err := pattern.Matcher()
		if err != nil {
			return err
		}
		if !matcher.FitsGrid(req.Rows, req.Cols) {
			return fmt.Errorf("round %d: pattern %d does not fit a %dx%d card: %w", number, id, req.Rows, req.Cols, ErrInvalidRequest)
		}

		link := models.RoundPattern{RoundID: round.ID, PatternID: id, Position: pos}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetGame loads a tenant's game with its rounds and their pattern links.
func (s *GameService) GetGame(ctx context.Context, tenantID, id uint) (*models.Game, error) {
	var game models.Game
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Preload("Rounds", func(db *gorm.DB) *gorm.DB {
			return db.Order("rounds.number")
		}).
		Preload("Rounds.RoundPatterns", func(db *gorm.DB) *gorm.DB {
			return db.Order("round_patterns.position")
		}).
		First(&game, id).Error
	if err != nil {
		return nil, notFound(err, "game %d", id)
	}
	return &game, nil
}
