package application

import (
	"context"
	"time"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/infrastructure"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// SagaHandler applies one inbound delivery to its saga
type SagaHandler interface {
	Handle(ctx context.Context, env saga.Envelope) error
}

// ProcessOrderEvent use case
type ProcessOrderEvent struct {
	orchestrator SagaHandler
}

// NewProcessOrderEvent creates a new ProcessOrderEvent use case
func NewProcessOrderEvent(orchestrator SagaHandler) *ProcessOrderEvent {
	return &ProcessOrderEvent{
		orchestrator: orchestrator,
	}
}

// Execute converts the broker event to an envelope and hands it to the
// orchestrator. A nil result means the delivery may be acknowledged.
func (uc *ProcessOrderEvent) Execute(ctx context.Context, event *events.Event) error {
	if event == nil {
		return errors.New("event is required")
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(event.Metadata))

	env, err := EnvelopeFromEvent(event)
	if err != nil {
		return err
	}

	return uc.orchestrator.Handle(ctx, env)
}

// EnvelopeFromEvent maps the wire event onto the saga envelope. The producer
// id is the message id; the transport id is the delivery id.
func EnvelopeFromEvent(event *events.Event) (saga.Envelope, error) {
	env := saga.Envelope{
		CorrelationID: correlationOf(event),
		EventType:     event.EventType,
		MessageID:     event.ID.String(),
		DeliveryID:    event.Metadata[infrastructure.SQSMessageIDKey],
		OccurredAt:    event.Timestamp,
	}
	if env.DeliveryID == "" {
		env.DeliveryID = env.MessageID
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}

	payload, err := event.MarshalPayload()
	if err != nil {
		return saga.Envelope{}, errors.Wrap(err, "failed to marshal event payload")
	}
	env.Payload = payload

	return env, nil
}

func correlationOf(event *events.Event) models.ID {
	if !event.CorrelationID.IsEmpty() {
		return event.CorrelationID
	}
	if id := event.Metadata[events.MetadataCorrelationID]; id != "" {
		return models.ID(id)
	}
	return event.AggregateID
}
