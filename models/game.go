package models

import (
	"time"

	"gorm.io/gorm"
)

type GameStatus string

const (
	GamePending   GameStatus = "pending"
	GameActive    GameStatus = "active"
	GameCompleted GameStatus = "completed"
	GameCancelled GameStatus = "cancelled"
)

type Game struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	TenantID         uint           `json:"tenant_id" gorm:"not null;index"`
	ShopID           uint           `json:"shop_id" gorm:"not null;index"`
	Name             string         `json:"name" gorm:"not null"`
	TotalRounds      int            `json:"total_rounds" gorm:"not null"`
	EntryFee         float64        `json:"entry_fee" gorm:"type:decimal(12,2);not null;default:0"`
	Currency         string         `json:"currency" gorm:"size:3;not null"`
	ScheduledStartAt *time.Time     `json:"scheduled_start_at"`
	ScheduledEndAt   *time.Time     `json:"scheduled_end_at"`
	Status           GameStatus     `json:"status" gorm:"size:16;not null;default:'pending'"` // pending, active, completed, cancelled
	StartedAt        *time.Time     `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Rounds []Round `json:"rounds,omitempty" gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (s GameStatus) IsTerminal() bool {
	return s == GameCompleted || s == GameCancelled
}
