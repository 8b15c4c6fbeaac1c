package services

import (
	"context"
	"encoding/json"
	"fmt"

	"bingohall/bingo"
	"bingohall/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PatternService manages a tenant's catalogue of winning patterns.
type PatternService struct {
	db *gorm.DB
}

func NewPatternService(db *gorm.DB) *PatternService {
	return &PatternService{db: db}
}

type CreatePatternRequest struct {
	Name           string            `json:"name" binding:"required"`
	Type           bingo.PatternType `json:"type" binding:"required,oneof=static dynamic"`
	Cells          [][]int           `json:"cells" binding:"required,min=1"`
	Variants       [][][]int         `json:"variants"`
	AllowFreeSpace *bool             `json:"allow_free_space"`
}

func validCells(cells [][]int) error {
	if len(cells) == 0 {
		return fmt.Errorf("pattern needs at least one cell: %w", ErrInvalidRequest)
	}
	for _, c := range cells {
		if len(c) != 2 || c[0] < 0 || c[1] < 0 {
			return fmt.Errorf("cell %v is not a [row, col] pair: %w", c, ErrInvalidRequest)
		}
	}
	return nil
}

func (s *PatternService) CreatePattern(ctx context.Context, tenantID uint, req *CreatePatternRequest) (*models.Pattern, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("pattern name is required: %w", ErrInvalidRequest)
	}
	if req.Type != bingo.PatternStatic && req.Type != bingo.PatternDynamic {
		return nil, fmt.Errorf("unknown pattern type %q: %w", req.Type, ErrInvalidRequest)
	}
	if err := validCells(req.Cells); err != nil {
		return nil, err
	}
	if req.Type == bingo.PatternStatic && len(req.Variants) > 0 {
		return nil, fmt.Errorf("static patterns take no variants: %w", ErrInvalidRequest)
	}
	for _, v := range req.Variants {
		if err := validCells(v); err != nil {
			return nil, err
		}
	}

	cells, err := json.Marshal(req.Cells)
	if err != nil {
		return nil, err
	}
	pattern := models.Pattern{
		TenantID:       tenantID,
		Name:           req.Name,
		Type:           req.Type,
		Cells:          datatypes.JSON(cells),
		AllowFreeSpace: true,
	}
	if req.AllowFreeSpace != nil {
		pattern.AllowFreeSpace = *req.AllowFreeSpace
	}
	if len(req.Variants) > 0 {
		variants, err := json.Marshal(req.Variants)
		if err != nil {
			return nil, err
		}
		pattern.Variants = datatypes.JSON(variants)
	}

	allowFree := pattern.AllowFreeSpace
	if err := s.db.WithContext(ctx).Create(&pattern).Error; err != nil {
		return nil, err
	}
	// gorm leaves zero values to the column default on insert.
	if !allowFree {
		if err := s.db.WithContext(ctx).Model(&pattern).Update("allow_free_space", false).Error; err != nil {
			return nil, err
		}
	}
	return &pattern, nil
}

func (s *PatternService) ListPatterns(ctx context.Context, tenantID uint) ([]models.Pattern, error) {
	var patterns []models.Pattern
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name").Find(&patterns).Error
	return patterns, err
}

func (s *PatternService) GetPattern(ctx context.Context, tenantID, id uint) (*models.Pattern, error) {
	var pattern models.Pattern
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&pattern, id).Error; err != nil {
		return nil, notFound(err, "pattern %d", id)
	}
	return &pattern, nil
}
