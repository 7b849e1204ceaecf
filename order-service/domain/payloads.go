package domain

import (
	"github.com/draftea/order-system/shared/models"
)

// Inbound event payloads

type OrderSubmittedData struct {
	CustomerID string       `json:"customer_id" validate:"required"`
	Items      []OrderItem  `json:"items" validate:"required,min=1,dive"`
	Total      models.Money `json:"total"`
}

type InventoryReservedData struct {
	ReservationID string `json:"reservation_id"`
}

type PaymentConfirmedData struct {
	PaymentID string       `json:"payment_id"`
	Amount    models.Money `json:"amount"`
}

type FulfillmentAcceptedData struct {
	FulfillmentID string `json:"fulfillment_id"`
}

type ShipmentDispatchedData struct {
	ShipmentID     string `json:"shipment_id"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type ShipmentConfirmedData struct {
	ShipmentID  string `json:"shipment_id,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}

// FailureData is shared by every rejection and failure event
type FailureData struct {
	Reason string `json:"reason"`
}

type CancellationRequestedData struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Outbound command and notice payloads

type ReserveInventoryCommand struct {
	OrderID models.ID   `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

type ReleaseInventoryCommand struct {
	OrderID       models.ID `json:"order_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Reason        string    `json:"reason"`
}

type ChargePaymentCommand struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID string       `json:"customer_id"`
	Amount     models.Money `json:"amount"`
}

type VoidPaymentCommand struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

type RefundPaymentCommand struct {
	OrderID   models.ID    `json:"order_id"`
	PaymentID string       `json:"payment_id,omitempty"`
	Amount    models.Money `json:"amount"`
	Reason    string       `json:"reason"`
}

type RequestFulfillmentCommand struct {
	OrderID    models.ID   `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
}

type CancelFulfillmentCommand struct {
	OrderID       models.ID `json:"order_id"`
	FulfillmentID string    `json:"fulfillment_id,omitempty"`
	Reason        string    `json:"reason"`
}

type RecallShipmentCommand struct {
	OrderID    models.ID `json:"order_id"`
	ShipmentID string    `json:"shipment_id,omitempty"`
	Reason     string    `json:"reason"`
}

type OrderCompletedNotice struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID string       `json:"customer_id"`
	Total      models.Money `json:"total"`
}

type OrderCancelledNotice struct {
	OrderID    models.ID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Reason     string    `json:"reason"`
}

type OrderFaultedNotice struct {
	OrderID    models.ID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Reason     string    `json:"reason"`
}
