package models

import "errors"

var (
	// ErrInvalidState means the command is not valid for the slot's current status.
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	// ErrConcurrencyConflict is returned by the store when the saved version is stale.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrConcurrencyExhausted is returned once conflict retries are used up.
	ErrConcurrencyExhausted = errors.New("concurrency retries exhausted")
	ErrTimeout              = errors.New("step timeout")
	// ErrForcedTermination is the fault raised when a step observes an external stop.
	ErrForcedTermination = errors.New("forced termination")
	ErrArgument          = errors.New("invalid argument")
)

// Code returns the short error class used in command results.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "ConcurrencyExhausted"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrForcedTermination):
		return "ForcedTermination"
	case errors.Is(err, ErrArgument):
		return "ArgumentError"
	default:
		return "Internal"
	}
}
