package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
	"github.com/google/uuid"
)

var (
	ErrRepositoryRequired = errors.New("outbox repository is required")
	ErrPublisherRequired  = errors.New("outbox publisher is required")
	ErrDispatcherRunning  = errors.New("outbox dispatcher is already running")
	ErrMessageNotClaimed  = errors.New("outbox message is not part of the batch")
)

// messageNamespace scopes deterministic message ids
var messageNamespace = uuid.MustParse("8c3c0a4e-2b7d-4f55-9a57-5f0f3c2d7e61")

// Message is a pending outbound message written in the same transaction as
// the saga state change that produced it. Only DispatchedAt changes after insert.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID models.ID       `json:"correlation_id"`
	Destination   string          `json:"destination"`
	EventType     string          `json:"event_type"`
	CausationID   string          `json:"causation_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
}

// NewMessageID derives a stable id from the inbound delivery that caused the
// message, so recomputing the same decision yields the same logical ids.
func NewMessageID(correlationID models.ID, causationID string, index int) uuid.UUID {
	name := fmt.Sprintf("%s/%s/%d", correlationID, causationID, index)
	return uuid.NewSHA1(messageNamespace, []byte(name))
}

// IsDispatched reports whether the message was handed to the broker
func (m Message) IsDispatched() bool {
	return m.DispatchedAt != nil
}

// ToEvent converts the message to its wire representation
func (m Message) ToEvent() *events.Event {
	evt := events.NewEvent(m.CorrelationID, m.EventType, m.Payload).
		WithID(models.ID(m.ID.String())).
		WithCorrelationID(m.CorrelationID).
		WithMetadata(events.MetadataCorrelationID, m.CorrelationID.String()).
		WithMetadata(events.MetadataCausationID, m.CausationID).
		WithMetadata(events.MetadataMessageID, m.ID.String()).
		WithMetadata(events.MetadataDestination, m.Destination).
		WithMetadata(events.MetadataEventType, m.EventType)
	evt.Timestamp = m.CreatedAt
	return evt
}

// Batch is a set of claimed messages held exclusively by one dispatcher until Close
type Batch interface {
	Messages() []Message
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	Close(ctx context.Context) error
}

// Repository claims undispatched messages in creation order. Only messages of
// committed transactions are visible to Claim.
type Repository interface {
	Claim(ctx context.Context, limit int) (Batch, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats describes the backlog of undispatched messages
type Stats struct {
	Pending         int        `json:"pending"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
}

// OldestAge returns how long the oldest pending message has waited
func (s Stats) OldestAge(now time.Time) time.Duration {
	if s.OldestCreatedAt == nil {
		return 0
	}
	return now.Sub(*s.OldestCreatedAt)
}
