package application

import (
	"context"
	"time"

	"github.com/draftea/order-system/order-service/domain"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
)

// SagaReader reads committed saga state
type SagaReader interface {
	Load(ctx context.Context, correlationID models.ID) (*saga.Instance, error)
	History(ctx context.Context, correlationID models.ID) ([]saga.TransitionRecord, error)
}

// GetOrderSagaQuery represents the query to get an order saga
type GetOrderSagaQuery struct {
	OrderID        string `json:"order_id"`
	IncludeHistory bool   `json:"include_history"`
}

// TransitionResponse is one committed transition
type TransitionResponse struct {
	Version    int    `json:"version"`
	From       string `json:"from"`
	To         string `json:"to"`
	EventType  string `json:"event_type"`
	DedupKey   string `json:"dedup_key"`
	TraceID    string `json:"trace_id,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// GetOrderSagaResponse represents the response for getting an order saga
type GetOrderSagaResponse struct {
	OrderID       string                 `json:"order_id"`
	State         string                 `json:"state"`
	Terminal      bool                   `json:"terminal"`
	Version       int                    `json:"version"`
	Payload       map[string]interface{} `json:"payload"`
	AppliedEvents []string               `json:"applied_events"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at"`
	History       []TransitionResponse   `json:"history,omitempty"`
}

// GetOrderSaga use case
type GetOrderSaga struct {
	store SagaReader
}

// NewGetOrderSaga creates a new GetOrderSaga use case
func NewGetOrderSaga(store SagaReader) *GetOrderSaga {
	return &GetOrderSaga{
		store: store,
	}
}

// Execute executes the get order saga use case
func (uc *GetOrderSaga) Execute(ctx context.Context, query *GetOrderSagaQuery) (*GetOrderSagaResponse, error) {
	if query.OrderID == "" {
		return nil, errors.New("order ID is required")
	}

	orderID, err := models.NewID(query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	instance, err := uc.store.Load(ctx, orderID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			return nil, errors.Wrapf(saga.ErrSagaNotFound, "order %s", orderID)
		}
		return nil, errors.Wrap(err, "failed to load order saga")
	}

	response := &GetOrderSagaResponse{
		OrderID:       instance.CorrelationID.String(),
		State:         instance.State.String(),
		Terminal:      domain.IsTerminal(instance.State),
		Version:       instance.Version.Value,
		Payload:       instance.Payload,
		AppliedEvents: instance.AppliedEvents,
		CreatedAt:     instance.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     instance.UpdatedAt.Format(time.RFC3339),
	}

	if !query.IncludeHistory {
		return response, nil
	}

	history, err := uc.store.History(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load order saga history")
	}

	response.History = make([]TransitionResponse, 0, len(history))
	for _, record := range history {
		response.History = append(response.History, TransitionResponse{
			Version:    record.Version,
			From:       record.FromState.String(),
			To:         record.ToState.String(),
			EventType:  record.EventType,
			DedupKey:   record.DedupKey,
			TraceID:    record.TraceID,
			RecordedAt: record.RecordedAt.Format(time.RFC3339),
		})
	}

	return response, nil
}
