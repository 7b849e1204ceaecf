package handlers

import (
	"context"

	"github.com/draftea/order-system/order-service/application"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/logging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ events.EventHandler = (*OrderEventHandlers)(nil)

// OrderEventHandlers routes every inbound order lifecycle event to the saga.
// Unknown event types are not filtered here: the orchestrator dead-letters
// them so they stay observable.
type OrderEventHandlers struct {
	processOrderEvent *application.ProcessOrderEvent
	logger            *zap.Logger
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(processOrderEvent *application.ProcessOrderEvent, logger *zap.Logger) *OrderEventHandlers {
	return &OrderEventHandlers{
		processOrderEvent: processOrderEvent,
		logger:            logging.OrNop(logger),
	}
}

// Handle implements the events.EventHandler interface. Returning an error
// leaves the message on the queue for redelivery.
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	if err := h.processOrderEvent.Execute(ctx, event); err != nil {
		h.logger.Debug("order event not acknowledged",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return errors.Wrapf(err, "failed to process %s", event.EventType)
	}
	return nil
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "order-saga-event-handler"
}
