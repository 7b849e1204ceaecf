package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is a saga state name. The empty state means the saga does not exist yet.
type State string

const StateNone State = ""

func (s State) String() string {
	if s == StateNone {
		return "None"
	}
	return string(s)
}

// Envelope is an inbound event as delivered by the transport
type Envelope struct {
	CorrelationID models.ID       `json:"correlation_id" validate:"required"`
	EventType     string          `json:"event_type" validate:"required"`
	MessageID     string          `json:"message_id,omitempty"`
	DeliveryID    string          `json:"delivery_id" validate:"required"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// DedupKey prefers the producer assigned message id over the per-delivery id,
// since a redelivered message may carry a fresh delivery id.
func (e Envelope) DedupKey() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.DeliveryID
}

// Instance is the persisted state of one saga
type Instance struct {
	CorrelationID models.ID              `json:"correlation_id"`
	State         State                  `json:"state"`
	Version       models.Version         `json:"version"`
	Payload       map[string]interface{} `json:"payload"`
	AppliedEvents []string               `json:"applied_events"`
	models.Timestamps
}

// NewInstance returns the uncommitted record a start event is applied to
func NewInstance(correlationID models.ID, now time.Time) Instance {
	return Instance{
		CorrelationID: correlationID,
		State:         StateNone,
		Payload:       map[string]interface{}{},
		Timestamps:    models.NewTimestamps(now),
	}
}

// Exists reports whether the saga has at least one committed transition
func (i Instance) Exists() bool {
	return i.State != StateNone
}

// HasApplied reports whether an event of the given type already moved this saga
func (i Instance) HasApplied(eventType string) bool {
	for _, applied := range i.AppliedEvents {
		if applied == eventType {
			return true
		}
	}
	return false
}

// Clone returns a deep enough copy for the caller to mutate payload and history
func (i Instance) Clone() Instance {
	clone := i
	clone.Payload = make(map[string]interface{}, len(i.Payload))
	for k, v := range i.Payload {
		clone.Payload[k] = v
	}
	clone.AppliedEvents = append([]string(nil), i.AppliedEvents...)
	return clone
}

// OutboundMessage is a command or notice a transition asks to send
type OutboundMessage struct {
	Destination string
	EventType   string
	Payload     interface{}
}

// Outcome tells the orchestrator what a decision means for the saga
type Outcome int

const (
	// OutcomeApplied moves the saga and commits a new version.
	OutcomeApplied Outcome = iota
	// OutcomeAbsorbed acknowledges the event without any state change.
	OutcomeAbsorbed
)

// Decision is the pure result of applying an event to a saga state
type Decision struct {
	Outcome  Outcome
	Next     State
	Messages []OutboundMessage
	Payload  map[string]interface{}
	Reason   string
}

// Absorb builds a no-op decision
func Absorb(reason string) Decision {
	return Decision{Outcome: OutcomeAbsorbed, Reason: reason}
}

// StateMachine decides transitions without side effects
type StateMachine interface {
	Decide(current Instance, env Envelope) (Decision, error)
	IsStart(eventType string) bool
}

// TransitionRecord is the append-only audit entry of one committed transition
type TransitionRecord struct {
	CorrelationID models.ID `json:"correlation_id"`
	Version       int       `json:"version"`
	FromState     State     `json:"from_state"`
	ToState       State     `json:"to_state"`
	EventType     string    `json:"event_type"`
	DedupKey      string    `json:"dedup_key"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// DeadLetter is an inbound event that can never be applied
type DeadLetter struct {
	ID        uuid.UUID `json:"id"`
	Envelope  Envelope  `json:"envelope"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

var deadLetterNamespace = uuid.MustParse("5b1d7c2e-9a0f-4e3b-8d61-2f4a6c8e0b17")

// NewDeadLetterID is stable per delivery, so a redelivered poison message
// maps onto the row already written.
func NewDeadLetterID(correlationID models.ID, dedupKey string) uuid.UUID {
	return uuid.NewSHA1(deadLetterNamespace, []byte(correlationID.String()+"/"+dedupKey))
}

// Commit is everything written atomically for one transition
type Commit struct {
	Next       Instance
	Messages   []outbox.Message
	Transition TransitionRecord
}

// LockRequest identifies the saga to lock and the delivery being processed
type LockRequest struct {
	CorrelationID models.ID
	DedupKey      string
	Create        bool
}

// DecideFunc runs while the saga row is locked. A nil commit leaves the saga
// untouched and releases the lock.
type DecideFunc func(current Instance) (*Commit, error)

// Store serializes work per correlation id and commits state, outbox rows and
// the processed delivery in one transaction.
type Store interface {
	WithLockedSaga(ctx context.Context, req LockRequest, fn DecideFunc) error
	Load(ctx context.Context, correlationID models.ID) (*Instance, error)
	History(ctx context.Context, correlationID models.ID) ([]TransitionRecord, error)
	DeadLetter(ctx context.Context, letter DeadLetter) error
}

// BuildCommit turns an applied decision into the rows the store writes
func BuildCommit(current Instance, decision Decision, env Envelope, now time.Time) (*Commit, error) {
	if decision.Outcome != OutcomeApplied {
		return nil, errors.Errorf("cannot commit a decision with outcome %d", decision.Outcome)
	}

	next := current.Clone()
	next.State = decision.Next
	next.Version = current.Version.Next()
	next.AppliedEvents = append(next.AppliedEvents, env.EventType)
	for k, v := range decision.Payload {
		next.Payload[k] = v
	}
	if !current.Exists() {
		next.Timestamps = models.NewTimestamps(now)
	} else {
		next.Timestamps = next.Timestamps.Touch(now)
	}

	key := env.DedupKey()
	messages := make([]outbox.Message, 0, len(decision.Messages))
	for i, out := range decision.Messages {
		payload, err := json.Marshal(out.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal %s payload", out.EventType)
		}

		messages = append(messages, outbox.Message{
			ID:            outbox.NewMessageID(current.CorrelationID, key, i),
			CorrelationID: current.CorrelationID,
			Destination:   out.Destination,
			EventType:     out.EventType,
			CausationID:   key,
			Payload:       payload,
			CreatedAt:     now,
		})
	}

	return &Commit{
		Next:     next,
		Messages: messages,
		Transition: TransitionRecord{
			CorrelationID: current.CorrelationID,
			Version:       next.Version.Value,
			FromState:     current.State,
			ToState:       next.State,
			EventType:     env.EventType,
			DedupKey:      key,
			RecordedAt:    now,
		},
	}, nil
}
