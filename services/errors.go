package services

import (
	"context"
	"errors"

	"bingohall/bingo"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidTransition    = errors.New("invalid round transition")
	ErrRoundAlreadyActive   = errors.New("another round of this game is already active")
	ErrStaleState           = errors.New("state changed concurrently")
	ErrCallInterrupted      = errors.New("call interrupted before commit")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
)

// ErrorCode maps an error to the code reported in system:error payloads.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrRoundAlreadyActive):
		return "round_already_active"
	case errors.Is(err, ErrCallInterrupted), errors.Is(err, context.Canceled):
		return "call_interrupted"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, bingo.ErrInvalidCard), errors.Is(err, bingo.ErrInvalidRange):
		return "invalid_request"
	case errors.Is(err, ErrStaleState):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}
