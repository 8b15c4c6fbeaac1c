package models

import (
	"encoding/json"
	"fmt"
	"time"

	"bingohall/bingo"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Pattern struct {
	ID             uint              `json:"id" gorm:"primaryKey"`
	TenantID       uint              `json:"tenant_id" gorm:"not null;index"`
	Name           string            `json:"name" gorm:"not null"`
	Type           bingo.PatternType `json:"type" gorm:"size:16;not null;default:'static'"` // static, dynamic
	Cells          datatypes.JSON    `json:"cells" gorm:"not null"`                         // [[row, col], ...]
	Variants       datatypes.JSON    `json:"variants,omitempty"`                            // [[[row, col], ...], ...], dynamic only
	AllowFreeSpace bool              `json:"allow_free_space" gorm:"not null;default:true"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeletedAt      gorm.DeletedAt    `json:"-" gorm:"index"`
}

// Matcher decodes the stored coordinates into the matcher's representation.
func (p *Pattern) Matcher() (bingo.Pattern, error) {
	var cells [][]int
	if err := json.Unmarshal(p.Cells, &cells); err != nil {
		return bingo.Pattern{}, fmt.Errorf("pattern %d cells: %w", p.ID, err)
	}

	var variants [][][]int
	if len(p.Variants) > 0 && string(p.Variants) != "null" {
		if err := json.Unmarshal(p.Variants, &variants); err != nil {
			return bingo.Pattern{}, fmt.Errorf("pattern %d variants: %w", p.ID, err)
		}
	}

	out := bingo.Pattern{
		Type:           p.Type,
		Shape:          bingo.ShapeFromPairs(cells),
		AllowFreeSpace: p.AllowFreeSpace,
	}
	for _, v := range variants {
		out.Variants = append(out.Variants, bingo.ShapeFromPairs(v))
	}
	return out, nil
}
