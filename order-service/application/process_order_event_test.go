package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/draftea/order-system/order-service/mocks"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/infrastructure"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestProcessOrderEvent_Execute(t *testing.T) {
	occurredAt := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	newEvent := func() *events.Event {
		evt := events.NewEvent("order-1", events.PaymentConfirmedEvent, map[string]interface{}{"payment_id": "pay-1"}).
			WithID("msg-1").
			WithCorrelationID("order-1")
		evt.Timestamp = occurredAt
		return evt
	}

	tests := []struct {
		name          string
		event         func() *events.Event
		setupMocks    func(*mocks.MockSagaHandler)
		expectedError string
	}{
		{
			name: "sqs delivery id and producer id are both carried",
			event: func() *events.Event {
				return newEvent().WithMetadata(infrastructure.SQSMessageIDKey, "sqs-1")
			},
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.MatchedBy(func(env saga.Envelope) bool {
					return env.CorrelationID == "order-1" &&
						env.EventType == events.PaymentConfirmedEvent &&
						env.MessageID == "msg-1" &&
						env.DeliveryID == "sqs-1" &&
						env.OccurredAt.Equal(occurredAt) &&
						string(env.Payload) == `{"payment_id":"pay-1"}`
				})).Return(nil).Once()
			},
		},
		{
			name:  "delivery id falls back to the event id",
			event: newEvent,
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.MatchedBy(func(env saga.Envelope) bool {
					return env.DeliveryID == "msg-1"
				})).Return(nil).Once()
			},
		},
		{
			name: "orchestrator errors are returned so the delivery is retried",
			event: func() *events.Event {
				return newEvent().WithMetadata(infrastructure.SQSMessageIDKey, "sqs-2")
			},
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.Anything).Return(errors.Wrap(saga.ErrLockTimeout, "order-1")).Once()
			},
			expectedError: "saga lock wait timed out",
		},
		{
			name:          "nil event",
			event:         func() *events.Event { return nil },
			setupMocks:    func(handler *mocks.MockSagaHandler) {},
			expectedError: "event is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mocks.NewMockSagaHandler(t)
			tt.setupMocks(handler)

			err := NewProcessOrderEvent(handler).Execute(context.Background(), tt.event())

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelopeFromEvent_CorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		event    *events.Event
		expected models.ID
	}{
		{
			name:     "event correlation id wins",
			event:    events.NewEvent("aggregate-1", events.OrderSubmittedEvent, nil).WithCorrelationID("order-1").WithMetadata(events.MetadataCorrelationID, "order-2"),
			expected: "order-1",
		},
		{
			name:     "metadata correlation id",
			event:    events.NewEvent("aggregate-1", events.OrderSubmittedEvent, nil).WithMetadata(events.MetadataCorrelationID, "order-2"),
			expected: "order-2",
		},
		{
			name:     "aggregate id",
			event:    events.NewEvent("aggregate-1", events.OrderSubmittedEvent, nil),
			expected: "aggregate-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := EnvelopeFromEvent(tt.event)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, env.CorrelationID)
		})
	}
}

func TestEnvelopeFromEvent_MalformedDelivery(t *testing.T) {
	raw, _ := json.Marshal("{not json")
	evt := &events.Event{Data: json.RawMessage(raw)}
	evt.WithMetadata(infrastructure.MalformedKey, "invalid character").
		WithMetadata(infrastructure.SQSMessageIDKey, "sqs-9")

	env, err := EnvelopeFromEvent(evt)

	assert.NoError(t, err)
	assert.Empty(t, env.EventType)
	assert.Equal(t, "sqs-9", env.DeliveryID)
	assert.Equal(t, "sqs-9", env.DedupKey())
	assert.JSONEq(t, `"{not json"`, string(env.Payload))
}
