package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/order-system/shared/models"
)

// Metadata keys carried on every relayed message
const (
	MetadataCorrelationID = "correlation_id"
	MetadataCausationID   = "causation_id"
	MetadataMessageID     = "message_id"
	MetadataDestination   = "destination"
	MetadataEventType     = "event_type"
)

// Topic is the routing key of an event
type Topic string

func (t Topic) String() string {
	return string(t)
}

// Metadata represents event metadata
type Metadata map[string]string

func (m Metadata) Set(key string, value string) {
	if m == nil {
		return
	}
	m[key] = value
}

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Event is the wire representation of every message crossing the broker
type Event struct {
	ID            models.ID   `json:"id"`
	AggregateID   models.ID   `json:"aggregate_id"`
	Topic         Topic       `json:"topic"`
	EventType     string      `json:"event_type"`
	Version       string      `json:"version"`
	Data          interface{} `json:"data"`
	Metadata      Metadata    `json:"metadata"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID models.ID   `json:"correlation_id"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// EventHandler handles inbound events. A nil error acknowledges the delivery.
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// NewEvent creates a new event whose topic equals its type
func NewEvent(aggregateID models.ID, eventType string, data interface{}) *Event {
	return &Event{
		ID:          models.GenerateUUID(),
		AggregateID: aggregateID,
		Topic:       Topic(eventType),
		EventType:   eventType,
		Version:     "1.0",
		Data:        data,
		Metadata:    make(Metadata),
		Timestamp:   time.Now().UTC(),
	}
}

// WithID overrides the generated id, used when the id must be stable across retries
func (e *Event) WithID(id models.ID) *Event {
	e.ID = id
	return e
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key string, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata.Set(key, value)
	return e
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	if b, ok := e.Data.([]byte); ok {
		return b, nil
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return b, nil
	}

	return json.Marshal(e.Data)
}

// Inbound order lifecycle events
const (
	OrderSubmittedEvent        = "order.submitted"
	InventoryReservedEvent     = "inventory.reserved"
	InventoryRejectedEvent     = "inventory.rejected"
	PaymentConfirmedEvent      = "payment.confirmed"
	PaymentFailedEvent         = "payment.failed"
	FulfillmentAcceptedEvent   = "fulfillment.accepted"
	FulfillmentFailedEvent     = "fulfillment.failed"
	ShipmentDispatchedEvent    = "shipment.dispatched"
	ShipmentConfirmedEvent     = "shipment.confirmed"
	ShipmentFailedEvent        = "shipment.failed"
	CancellationRequestedEvent = "order.cancellation.requested"
)

// Outbound commands and notices
const (
	ReserveInventoryCommand   = "inventory.reserve"
	ReleaseInventoryCommand   = "inventory.release"
	ChargePaymentCommand      = "payment.charge"
	VoidPaymentCommand        = "payment.void"
	RefundPaymentCommand      = "payment.refund"
	RequestFulfillmentCommand = "fulfillment.request"
	CancelFulfillmentCommand  = "fulfillment.cancel"
	RecallShipmentCommand     = "shipment.recall"

	OrderCompletedNotice = "order.completed"
	OrderCancelledNotice = "order.cancelled"
	OrderFaultedNotice   = "order.faulted"
)
