package application

import (
	"context"
	"testing"
	"time"

	"github.com/draftea/order-system/order-service/domain"
	"github.com/draftea/order-system/shared/mocks"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestGetOrderSaga_Execute(t *testing.T) {
	testTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	instance := &saga.Instance{
		CorrelationID: "order-1",
		State:         domain.StateAwaitingPayment,
		Version:       models.Version{Value: 2},
		Payload:       map[string]interface{}{"reservation_id": "res-1"},
		AppliedEvents: []string{"order.submitted", "inventory.reserved"},
		Timestamps: models.Timestamps{
			CreatedAt: testTime,
			UpdatedAt: testTime.Add(time.Minute),
		},
	}

	history := []saga.TransitionRecord{
		{CorrelationID: "order-1", Version: 1, FromState: saga.StateNone, ToState: domain.StateSubmitted, EventType: "order.submitted", DedupKey: "m-1", RecordedAt: testTime},
		{CorrelationID: "order-1", Version: 2, FromState: domain.StateSubmitted, ToState: domain.StateAwaitingPayment, EventType: "inventory.reserved", DedupKey: "m-2", TraceID: "abc", RecordedAt: testTime.Add(time.Minute)},
	}

	snapshot := GetOrderSagaResponse{
		OrderID:       "order-1",
		State:         "AwaitingPayment",
		Version:       2,
		Payload:       instance.Payload,
		AppliedEvents: instance.AppliedEvents,
		CreatedAt:     "2025-01-15T10:30:00Z",
		UpdatedAt:     "2025-01-15T10:31:00Z",
	}

	withHistory := snapshot
	withHistory.History = []TransitionResponse{
		{Version: 1, From: "None", To: "Submitted", EventType: "order.submitted", DedupKey: "m-1", RecordedAt: "2025-01-15T10:30:00Z"},
		{Version: 2, From: "Submitted", To: "AwaitingPayment", EventType: "inventory.reserved", DedupKey: "m-2", TraceID: "abc", RecordedAt: "2025-01-15T10:31:00Z"},
	}

	tests := []struct {
		name           string
		query          *GetOrderSagaQuery
		setupMocks     func(*mocks.MockStore)
		expectedErrIs  error
		expectedError  string
		expectedResult *GetOrderSagaResponse
	}{
		{
			name:  "snapshot without history",
			query: &GetOrderSagaQuery{OrderID: "order-1"},
			setupMocks: func(store *mocks.MockStore) {
				store.EXPECT().Load(mock.Anything, models.ID("order-1")).Return(instance, nil).Once()
			},
			expectedResult: &snapshot,
		},
		{
			name:  "snapshot with history",
			query: &GetOrderSagaQuery{OrderID: "order-1", IncludeHistory: true},
			setupMocks: func(store *mocks.MockStore) {
				store.EXPECT().Load(mock.Anything, models.ID("order-1")).Return(instance, nil).Once()
				store.EXPECT().History(mock.Anything, models.ID("order-1")).Return(history, nil).Once()
			},
			expectedResult: &withHistory,
		},
		{
			name:          "empty order ID",
			query:         &GetOrderSagaQuery{},
			setupMocks:    func(store *mocks.MockStore) {},
			expectedError: "order ID is required",
		},
		{
			name:  "saga not found",
			query: &GetOrderSagaQuery{OrderID: "order-404"},
			setupMocks: func(store *mocks.MockStore) {
				store.EXPECT().Load(mock.Anything, models.ID("order-404")).Return(nil, saga.ErrSagaNotFound).Once()
			},
			expectedErrIs: saga.ErrSagaNotFound,
			expectedError: "order order-404",
		},
		{
			name:  "store error",
			query: &GetOrderSagaQuery{OrderID: "order-1"},
			setupMocks: func(store *mocks.MockStore) {
				store.EXPECT().Load(mock.Anything, models.ID("order-1")).Return(nil, errors.New("connection refused")).Once()
			},
			expectedError: "failed to load order saga",
		},
		{
			name:  "history error",
			query: &GetOrderSagaQuery{OrderID: "order-1", IncludeHistory: true},
			setupMocks: func(store *mocks.MockStore) {
				store.EXPECT().Load(mock.Anything, models.ID("order-1")).Return(instance, nil).Once()
				store.EXPECT().History(mock.Anything, models.ID("order-1")).Return(nil, errors.New("timeout")).Once()
			},
			expectedError: "failed to load order saga history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMockStore(t)
			tt.setupMocks(store)

			result, err := NewGetOrderSaga(store).Execute(context.Background(), tt.query)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				if tt.expectedErrIs != nil {
					assert.ErrorIs(t, err, tt.expectedErrIs)
				}
				assert.Nil(t, result)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}

func TestGetOrderSaga_TerminalFlag(t *testing.T) {
	store := mocks.NewMockStore(t)
	store.EXPECT().Load(mock.Anything, models.ID("order-1")).
		Return(&saga.Instance{CorrelationID: "order-1", State: domain.StateCancelled, Version: models.Version{Value: 4}}, nil).Once()

	result, err := NewGetOrderSaga(store).Execute(context.Background(), &GetOrderSagaQuery{OrderID: "order-1"})

	assert.NoError(t, err)
	assert.True(t, result.Terminal)
	assert.Equal(t, "Cancelled", result.State)
}
