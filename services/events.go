package services

import (
	"time"

	"bingohall/models"
)

type EventName string

const (
	EventNewCall        EventName = "round:new_call"
	EventRoundStatus    EventName = "round:status_update"
	EventClaimPending   EventName = "winner:claim_pending"
	EventWinnerVerified EventName = "winner:verified"
	EventNotification   EventName = "system:notification"
	EventError          EventName = "system:error"
	EventConnectError   EventName = "connect_error"
	EventAck            EventName = "ack"
)

type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusInfo    EventStatus = "info"
	StatusError   EventStatus = "error"
)

// Envelope is the wire shape of every server-to-client event.
type Envelope struct {
	Event     EventName   `json:"event"`
	Status    EventStatus `json:"status"`
	Payload   any         `json:"payload"`
	Entity    string      `json:"entity,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId,omitempty"`
}

// Event is produced by the round engine after a mutation commits and routed
// by the hub. An empty Recipient means the whole room.
type Event struct {
	Name      EventName
	Status    EventStatus
	Payload   any
	Entity    string
	TenantID  uint
	GameID    uint
	RoundID   uint
	Recipient string
}

// EventPublisher receives engine events in commit order.
type EventPublisher interface {
	Publish(ev Event)
}

type NewCallPayload struct {
	ID       uint `json:"id"`
	Number   int  `json:"number"`
	Sequence int  `json:"sequence"`
}

type RoundStatusPayload struct {
	RoundID       uint               `json:"roundId"`
	GameID        uint               `json:"gameId"`
	RoundNumber   int                `json:"roundNumber"`
	Status        models.RoundStatus `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	StartedAt     *time.Time         `json:"startedAt,omitempty"`
	EndedAt       *time.Time         `json:"endedAt,omitempty"`
	LastSequence  int                `json:"lastSequence"`
	CalledNumbers []int              `json:"calledNumbers,omitempty"`
}

type ClaimPendingPayload struct {
	ClaimID       uint   `json:"claimId"`
	ParticipantID string `json:"participantId"`
	RoundID       uint   `json:"roundId"`
}

type WinnerVerifiedPayload struct {
	ClaimID       uint    `json:"claimId"`
	ParticipantID string  `json:"participantId"`
	Prize         float64 `json:"prize"`
	PatternID     uint    `json:"patternId"`
	RoundID       uint    `json:"roundId"`
}

type NotificationPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func roundEvent(game *models.Game, round *models.Round, name EventName, status EventStatus, payload any) Event {
	return Event{
		Name:     name,
		Status:   status,
		Payload:  payload,
		Entity:   "round",
		TenantID: game.TenantID,
		GameID:   game.ID,
		RoundID:  round.ID,
	}
}

func statusEvent(game *models.Game, round *models.Round, lastSequence int) Event {
	return roundEvent(game, round, EventRoundStatus, StatusInfo, RoundStatusPayload{
		RoundID:      round.ID,
		GameID:       round.GameID,
		RoundNumber:  round.Number,
		Status:       round.Status,
		Reason:       round.EndReason,
		StartedAt:    round.StartedAt,
		EndedAt:      round.EndedAt,
		LastSequence: lastSequence,
	})
}
