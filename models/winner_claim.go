package models

import "time"

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimVerified ClaimStatus = "verified"
	ClaimRejected ClaimStatus = "rejected"
)

// RejectReason is the human-readable reason reported to a claimant.
type RejectReason string

const (
	RejectInvalidCard        RejectReason = "invalid-card"
	RejectPatternNotEligible RejectReason = "pattern-not-eligible"
	RejectAlreadyClaimed     RejectReason = "pattern-already-claimed"
	RejectRoundNotActive     RejectReason = "round-not-active"
	RejectNotSatisfied       RejectReason = "pattern-not-satisfied"
	RejectTimeout            RejectReason = "timeout"
)

// WinnerClaim leaves pending exactly once.
type WinnerClaim struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	RoundID       uint         `json:"round_id" gorm:"not null;index"`
	ParticipantID string       `json:"participant_id" gorm:"size:64;not null;index"`
	CardID        uint         `json:"card_id" gorm:"not null"`
	PatternID     *uint        `json:"pattern_id"`
	Status        ClaimStatus  `json:"status" gorm:"size:16;not null;default:'pending';index"`
	RejectReason  RejectReason `json:"reject_reason,omitempty" gorm:"size:64"`
	CalledCount   int          `json:"called_count" gorm:"not null;default:0"` // calls observed when resolved
	SubmittedAt   time.Time    `json:"submitted_at" gorm:"not null"`
	ResolvedAt    *time.Time   `json:"resolved_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	// Relationships
	Card Card `json:"-"`
}
