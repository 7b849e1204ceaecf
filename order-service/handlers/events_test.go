package handlers

import (
	"context"
	"testing"

	"github.com/draftea/order-system/order-service/application"
	"github.com/draftea/order-system/order-service/mocks"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestOrderEventHandlers_Handle(t *testing.T) {
	tests := []struct {
		name          string
		eventType     string
		setupMocks    func(*mocks.MockSagaHandler)
		expectedError string
	}{
		{
			name:      "acknowledged",
			eventType: events.InventoryReservedEvent,
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.MatchedBy(func(env saga.Envelope) bool {
					return env.EventType == events.InventoryReservedEvent && env.CorrelationID == "order-1"
				})).Return(nil).Once()
			},
		},
		{
			name:      "unknown types still reach the orchestrator",
			eventType: "order.teleported",
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:      "transient failure is returned",
			eventType: events.PaymentConfirmedEvent,
			setupMocks: func(handler *mocks.MockSagaHandler) {
				handler.EXPECT().Handle(mock.Anything, mock.Anything).Return(errors.Wrap(saga.ErrVersionConflict, "order-1")).Once()
			},
			expectedError: "failed to process payment.confirmed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mocks.NewMockSagaHandler(t)
			tt.setupMocks(handler)

			h := NewOrderEventHandlers(application.NewProcessOrderEvent(handler), nil)
			err := h.Handle(context.Background(), events.NewEvent("order-1", tt.eventType, map[string]string{}).WithCorrelationID("order-1"))

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.ErrorIs(t, err, saga.ErrVersionConflict)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderEventHandlers_HandlerID(t *testing.T) {
	assert.Equal(t, "order-saga-event-handler", NewOrderEventHandlers(nil, nil).HandlerID())
}
