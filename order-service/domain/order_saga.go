package domain

import (
	"encoding/json"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
)

// Order saga states
const (
	StateSubmitted           saga.State = "Submitted"
	StateAwaitingPayment     saga.State = "AwaitingPayment"
	StatePaymentConfirmed    saga.State = "PaymentConfirmed"
	StateAwaitingFulfillment saga.State = "AwaitingFulfillment"
	StateFulfilled           saga.State = "Fulfilled"
	StateCompleted           saga.State = "Completed"
	StateCancelled           saga.State = "Cancelled"
	StateFaulted             saga.State = "Faulted"
)

// AllStates lists every state a persisted order saga can be in
var AllStates = []saga.State{
	StateSubmitted,
	StateAwaitingPayment,
	StatePaymentConfirmed,
	StateAwaitingFulfillment,
	StateFulfilled,
	StateCompleted,
	StateCancelled,
	StateFaulted,
}

// IsTerminal reports whether the saga absorbs every further event.
// Faulted is not terminal: it waits for an operator cancellation or a late
// shipment confirmation.
func IsTerminal(state saga.State) bool {
	return state == StateCompleted || state == StateCancelled
}

// Logical destinations of outbound messages
const (
	DestinationInventory     = "inventory"
	DestinationPayments      = "payments"
	DestinationShipping      = "shipping"
	DestinationNotifications = "notifications"
)

// Keys of the saga payload
const (
	keyCustomerID         = "customer_id"
	keyItems              = "items"
	keyTotal              = "total"
	keySubmittedAt        = "submitted_at"
	keyReservationID      = "reservation_id"
	keyPaymentID          = "payment_id"
	keyAmountCharged      = "amount_charged"
	keyFulfillmentID      = "fulfillment_id"
	keyShipmentID         = "shipment_id"
	keyCarrier            = "carrier"
	keyTrackingNumber     = "tracking_number"
	keyDeliveredAt        = "delivered_at"
	keyFailureReason      = "failure_reason"
	keyCancellationReason = "cancellation_reason"
	keyCancelledBy        = "cancelled_by"
)

// OrderItem is one order line
type OrderItem struct {
	SKU       string       `json:"sku" validate:"required"`
	Quantity  int          `json:"quantity" validate:"gt=0"`
	UnitPrice models.Money `json:"unit_price"`
}

// OrderSagaData is the typed view of the saga payload
type OrderSagaData struct {
	CustomerID         string       `json:"customer_id"`
	Items              []OrderItem  `json:"items"`
	Total              models.Money `json:"total"`
	SubmittedAt        *time.Time   `json:"submitted_at,omitempty"`
	ReservationID      string       `json:"reservation_id,omitempty"`
	PaymentID          string       `json:"payment_id,omitempty"`
	AmountCharged      models.Money `json:"amount_charged"`
	FulfillmentID      string       `json:"fulfillment_id,omitempty"`
	ShipmentID         string       `json:"shipment_id,omitempty"`
	Carrier            string       `json:"carrier,omitempty"`
	TrackingNumber     string       `json:"tracking_number,omitempty"`
	DeliveredAt        *time.Time   `json:"delivered_at,omitempty"`
	FailureReason      string       `json:"failure_reason,omitempty"`
	CancellationReason string       `json:"cancellation_reason,omitempty"`
	CancelledBy        string       `json:"cancelled_by,omitempty"`
}

// DecodeSagaData reads the typed payload of a saga. The payload holds typed
// values in memory and plain JSON values once loaded from storage, so both
// go through a JSON round trip.
func DecodeSagaData(payload map[string]interface{}) (OrderSagaData, error) {
	var data OrderSagaData
	if len(payload) == 0 {
		return data, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return data, errors.Wrap(err, "failed to marshal saga payload")
	}

	if err := json.Unmarshal(raw, &data); err != nil {
		return data, errors.Wrap(err, "failed to unmarshal saga payload")
	}

	return data, nil
}

// refundAmount is what compensation must return to the customer
func (d OrderSagaData) refundAmount() models.Money {
	if d.AmountCharged.IsPositive() {
		return d.AmountCharged
	}
	return d.Total
}
