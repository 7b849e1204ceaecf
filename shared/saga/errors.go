package saga

import (
	"github.com/pkg/errors"
)

// Transient faults leave the inbound message unacknowledged so the broker redelivers it.
var (
	ErrLockTimeout     = errors.New("saga lock wait timed out")
	ErrVersionConflict = errors.New("saga version conflict")
	ErrSagaNotFound    = errors.New("saga not found")
	ErrEventAhead      = errors.New("event arrived before the saga reached its stage")
)

// Permanent faults are dead-lettered and acknowledged.
var (
	ErrUnknownTransition = errors.New("unknown saga transition")
	ErrInvalidEnvelope   = errors.New("invalid event envelope")
	ErrInvalidPayload    = errors.New("invalid event payload")
)

// ErrDuplicateDelivery reports a delivery whose effects were already committed.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

// IsPermanent reports whether redelivering the event can never succeed
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownTransition) ||
		errors.Is(err, ErrInvalidEnvelope) ||
		errors.Is(err, ErrInvalidPayload)
}

// outcomeOf names an orchestration result for logs and metrics
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrDuplicateDelivery):
		return "duplicate"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrSagaNotFound):
		return "saga_not_found"
	case errors.Is(err, ErrEventAhead):
		return "event_ahead"
	case IsPermanent(err):
		return "dead_lettered"
	default:
		return "error"
	}
}
