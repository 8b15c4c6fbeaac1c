package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Card is a participant's number layout for one round. Cards are never updated.
type Card struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	RoundID       uint           `json:"round_id" gorm:"not null;index:idx_cards_round_participant"`
	ParticipantID string         `json:"participant_id" gorm:"size:64;not null;index:idx_cards_round_participant"`
	Layout        datatypes.JSON `json:"layout" gorm:"not null"`
	Issued        bool           `json:"issued" gorm:"not null;default:false"` // generated by the server rather than submitted
	CreatedAt     time.Time      `json:"created_at"`
}

func (c *Card) Grid() ([][]int, error) {
	var layout [][]int
	if err := json.Unmarshal(c.Layout, &layout); err != nil {
		return nil, fmt.Errorf("card %d layout: %w", c.ID, err)
	}
	return layout, nil
}

func NewCard(roundID uint, participantID string, layout [][]int, issued bool) (*Card, error) {
	data, err := json.Marshal(layout)
	if err != nil {
		return nil, err
	}
	return &Card{
		RoundID:       roundID,
		ParticipantID: participantID,
		Layout:        datatypes.JSON(data),
		Issued:        issued,
	}, nil
}
