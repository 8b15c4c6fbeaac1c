package models

import (
	"time"

	"bingohall/bingo"
)

type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundPaused    RoundStatus = "paused"
	RoundCompleted RoundStatus = "completed"
	RoundCancelled RoundStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RoundStatus) IsTerminal() bool {
	return s == RoundCompleted || s == RoundCancelled
}

// WinnerPolicy decides what a verified claim does to the rest of the round.
type WinnerPolicy string

const (
	// FirstWinnerWins completes the round on the first verified claim; later
	// claims are rejected as already claimed.
	FirstWinnerWins WinnerPolicy = "first_winner"
	// MultipleWinners keeps the round running; each participant may win each
	// pattern once.
	MultipleWinners WinnerPolicy = "multiple_winners"
)

func (p WinnerPolicy) Valid() bool {
	return p == FirstWinnerWins || p == MultipleWinners
}

type Round struct {
	ID               uint         `json:"id" gorm:"primaryKey"`
	GameID           uint         `json:"game_id" gorm:"not null;index;uniqueIndex:idx_rounds_game_number"`
	Number           int          `json:"number" gorm:"not null;uniqueIndex:idx_rounds_game_number"`
	Name             string       `json:"name" gorm:"not null"`
	Prize            float64      `json:"prize" gorm:"type:decimal(12,2);not null;default:0"`
	Rows             int          `json:"rows" gorm:"not null"`
	Cols             int          `json:"cols" gorm:"not null"`
	MinRange         int          `json:"min_range" gorm:"not null"`
	MaxRange         int          `json:"max_range" gorm:"not null"`
	FreeSpace        bool         `json:"free_space" gorm:"not null;default:false"`
	FreeRow          int          `json:"free_row" gorm:"not null;default:0"`
	FreeCol          int          `json:"free_col" gorm:"not null;default:0"`
	WinnerPolicy     WinnerPolicy `json:"winner_policy" gorm:"size:32;not null;default:'first_winner'"`
	ScheduledStartAt time.Time    `json:"scheduled_start_at"`
	StartedAt        *time.Time   `json:"started_at"`
	EndedAt          *time.Time   `json:"ended_at"`
	EndReason        string       `json:"end_reason,omitempty" gorm:"size:64"`
	Status           RoundStatus  `json:"status" gorm:"size:16;not null;default:'pending';index"` // pending, active, paused, completed, cancelled
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`

	// Relationships
	Game          Game           `json:"-"`
	RoundPatterns []RoundPattern `json:"patterns,omitempty" gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
	Calls         []Call         `json:"-" gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
	Claims        []WinnerClaim  `json:"-" gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
}

func (r *Round) Grid() bingo.Grid {
	return bingo.Grid{
		Rows:     r.Rows,
		Cols:     r.Cols,
		MinRange: r.MinRange,
		MaxRange: r.MaxRange,
		Free: bingo.FreeSpace{
			Enabled: r.FreeSpace,
			Row:     r.FreeRow,
			Col:     r.FreeCol,
		},
	}
}

// RoundPattern is the ordered link between a round and a pattern it accepts.
type RoundPattern struct {
	RoundID   uint `json:"round_id" gorm:"primaryKey"`
	PatternID uint `json:"pattern_id" gorm:"primaryKey"`
	Position  int  `json:"position" gorm:"not null"`

	Pattern Pattern `json:"-"`
}
