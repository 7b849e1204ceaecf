package domain

import (
	"encoding/json"
	"fmt"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// eventStages orders inbound events along the happy path. An unhandled event
// whose stage is ahead of the current state is retried later; one behind it
// can never apply.
var eventStages = map[string]int{
	events.OrderSubmittedEvent:      0,
	events.InventoryReservedEvent:   1,
	events.InventoryRejectedEvent:   1,
	events.PaymentConfirmedEvent:    2,
	events.PaymentFailedEvent:       2,
	events.FulfillmentAcceptedEvent: 3,
	events.FulfillmentFailedEvent:   3,
	events.ShipmentDispatchedEvent:  4,
	events.ShipmentConfirmedEvent:   5,
	events.ShipmentFailedEvent:      5,
}

// stateStages is the stage of the event each state waits for
var stateStages = map[saga.State]int{
	saga.StateNone:           0,
	StateSubmitted:           1,
	StateAwaitingPayment:     2,
	StatePaymentConfirmed:    3,
	StateAwaitingFulfillment: 4,
	StateFulfilled:           5,
	StateFaulted:             6,
}

// OrderStateMachine decides order saga transitions. It is pure: the same
// record and envelope always yield the same decision.
type OrderStateMachine struct {
	validate *validator.Validate
}

// NewOrderStateMachine creates the order saga state machine
func NewOrderStateMachine() *OrderStateMachine {
	return &OrderStateMachine{validate: validator.New()}
}

// IsStart reports whether the event may create a saga
func (m *OrderStateMachine) IsStart(eventType string) bool {
	return eventType == events.OrderSubmittedEvent
}

// Decide applies one inbound event to the current saga record
func (m *OrderStateMachine) Decide(current saga.Instance, env saga.Envelope) (saga.Decision, error) {
	if IsTerminal(current.State) {
		return saga.Absorb(fmt.Sprintf("saga already %s", current.State)), nil
	}

	if current.HasApplied(env.EventType) {
		return saga.Absorb(fmt.Sprintf("%s already applied", env.EventType)), nil
	}

	data, err := DecodeSagaData(current.Payload)
	if err != nil {
		return saga.Decision{}, errors.Wrap(saga.ErrInvalidPayload, err.Error())
	}

	t := transition{id: current.CorrelationID, data: data, env: env}

	var handled bool
	switch current.State {
	case saga.StateNone:
		handled, err = t.fromNone(m.validate)
	case StateSubmitted:
		handled, err = t.fromSubmitted()
	case StateAwaitingPayment:
		handled, err = t.fromAwaitingPayment()
	case StatePaymentConfirmed:
		handled, err = t.fromPaymentConfirmed()
	case StateAwaitingFulfillment:
		handled, err = t.fromAwaitingFulfillment()
	case StateFulfilled:
		handled, err = t.fromFulfilled()
	case StateFaulted:
		handled, err = t.fromFaulted()
	default:
		return saga.Decision{}, errors.Wrapf(saga.ErrUnknownTransition, "unknown state %q", current.State)
	}
	if err != nil {
		return saga.Decision{}, err
	}
	if handled {
		return t.decision, nil
	}

	return saga.Decision{}, classify(current.State, env.EventType)
}

// classify explains why an event has no transition from the given state
func classify(state saga.State, eventType string) error {
	stage, known := eventStages[eventType]
	if !known && eventType != events.CancellationRequestedEvent {
		return errors.Wrapf(saga.ErrUnknownTransition, "unknown event type %q", eventType)
	}

	if known && stage > stateStages[state] {
		return errors.Wrapf(saga.ErrEventAhead, "%s received in state %s", eventType, state)
	}

	return errors.Wrapf(saga.ErrUnknownTransition, "%s not allowed in state %s", eventType, state)
}

// transition accumulates the decision for one state and event pair
type transition struct {
	id       models.ID
	data     OrderSagaData
	env      saga.Envelope
	decision saga.Decision
}

func (t *transition) moveTo(next saga.State) {
	t.decision.Outcome = saga.OutcomeApplied
	t.decision.Next = next
}

func (t *transition) set(key string, value interface{}) {
	if t.decision.Payload == nil {
		t.decision.Payload = map[string]interface{}{}
	}
	t.decision.Payload[key] = value
}

func (t *transition) send(destination, eventType string, payload interface{}) {
	t.decision.Messages = append(t.decision.Messages, saga.OutboundMessage{
		Destination: destination,
		EventType:   eventType,
		Payload:     payload,
	})
}

func (t *transition) decode(v interface{}) error {
	if len(t.env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.env.Payload, v); err != nil {
		return errors.Wrapf(saga.ErrInvalidPayload, "%s: %v", t.env.EventType, err)
	}
	return nil
}

// failure records the reason of a failure event and returns it
func (t *transition) failure() (string, error) {
	var data FailureData
	if err := t.decode(&data); err != nil {
		return "", err
	}
	reason := data.Reason
	if reason == "" {
		reason = t.env.EventType
	}
	t.set(keyFailureReason, reason)
	return reason, nil
}

func (t *transition) fromNone(validate *validator.Validate) (bool, error) {
	if t.env.EventType != events.OrderSubmittedEvent {
		return false, nil
	}

	var submitted OrderSubmittedData
	if len(t.env.Payload) == 0 {
		return false, errors.Wrap(saga.ErrInvalidPayload, "order submitted without payload")
	}
	if err := t.decode(&submitted); err != nil {
		return false, err
	}
	if err := validate.Struct(submitted); err != nil {
		return false, errors.Wrap(saga.ErrInvalidPayload, err.Error())
	}
	if err := checkTotal(submitted); err != nil {
		return false, err
	}

	t.moveTo(StateSubmitted)
	t.set(keyCustomerID, submitted.CustomerID)
	t.set(keyItems, submitted.Items)
	t.set(keyTotal, submitted.Total)
	if !t.env.OccurredAt.IsZero() {
		t.set(keySubmittedAt, t.env.OccurredAt)
	}
	t.send(DestinationInventory, events.ReserveInventoryCommand, ReserveInventoryCommand{
		OrderID: t.id,
		Items:   submitted.Items,
	})
	return true, nil
}

// checkTotal requires a positive total matching the priced order lines
func checkTotal(submitted OrderSubmittedData) error {
	if !submitted.Total.IsPositive() {
		return errors.Wrap(saga.ErrInvalidPayload, "order total must be positive")
	}

	sum := models.NewMoney(0, submitted.Total.Currency)
	for _, item := range submitted.Items {
		if item.UnitPrice.Amount < 0 {
			return errors.Wrapf(saga.ErrInvalidPayload, "item %s: negative unit price", item.SKU)
		}
		if item.UnitPrice.IsZero() {
			continue
		}
		line, err := item.UnitPrice.Multiply(int64(item.Quantity))
		if err != nil {
			return errors.Wrapf(saga.ErrInvalidPayload, "item %s: %v", item.SKU, err)
		}
		next, err := sum.Add(line)
		if err != nil {
			return errors.Wrapf(saga.ErrInvalidPayload, "item %s: %v", item.SKU, err)
		}
		sum = next
	}

	if !sum.IsZero() && sum != submitted.Total {
		return errors.Wrapf(saga.ErrInvalidPayload, "total %d does not match items %d", submitted.Total.Amount, sum.Amount)
	}
	return nil
}

func (t *transition) fromSubmitted() (bool, error) {
	switch t.env.EventType {
	case events.InventoryReservedEvent:
		var reserved InventoryReservedData
		if err := t.decode(&reserved); err != nil {
			return false, err
		}
		t.moveTo(StateAwaitingPayment)
		if reserved.ReservationID != "" {
			t.set(keyReservationID, reserved.ReservationID)
		}
		t.send(DestinationPayments, events.ChargePaymentCommand, ChargePaymentCommand{
			OrderID:    t.id,
			CustomerID: t.data.CustomerID,
			Amount:     t.data.Total,
		})
		return true, nil

	case events.InventoryRejectedEvent:
		reason, err := t.failure()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.cancelledNotice(reason)
		return true, nil

	case events.CancellationRequestedEvent:
		reason, err := t.cancellation()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.releaseInventory(reason)
		t.cancelledNotice(reason)
		return true, nil
	}
	return false, nil
}

func (t *transition) fromAwaitingPayment() (bool, error) {
	switch t.env.EventType {
	case events.PaymentConfirmedEvent:
		var confirmed PaymentConfirmedData
		if err := t.decode(&confirmed); err != nil {
			return false, err
		}
		t.moveTo(StatePaymentConfirmed)
		if confirmed.PaymentID != "" {
			t.set(keyPaymentID, confirmed.PaymentID)
		}
		if confirmed.Amount.IsPositive() {
			t.set(keyAmountCharged, confirmed.Amount)
		}
		t.send(DestinationShipping, events.RequestFulfillmentCommand, RequestFulfillmentCommand{
			OrderID:    t.id,
			CustomerID: t.data.CustomerID,
			Items:      t.data.Items,
		})
		return true, nil

	case events.PaymentFailedEvent:
		reason, err := t.failure()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.releaseInventory(reason)
		t.cancelledNotice(reason)
		return true, nil

	case events.CancellationRequestedEvent:
		reason, err := t.cancellation()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.send(DestinationPayments, events.VoidPaymentCommand, VoidPaymentCommand{OrderID: t.id, Reason: reason})
		t.releaseInventory(reason)
		t.cancelledNotice(reason)
		return true, nil
	}
	return false, nil
}

func (t *transition) fromPaymentConfirmed() (bool, error) {
	if t.env.EventType == events.FulfillmentAcceptedEvent {
		var accepted FulfillmentAcceptedData
		if err := t.decode(&accepted); err != nil {
			return false, err
		}
		t.moveTo(StateAwaitingFulfillment)
		if accepted.FulfillmentID != "" {
			t.set(keyFulfillmentID, accepted.FulfillmentID)
		}
		return true, nil
	}
	return t.afterPayment()
}

func (t *transition) fromAwaitingFulfillment() (bool, error) {
	return t.afterPayment()
}

// afterPayment covers the events shared by PaymentConfirmed and
// AwaitingFulfillment, since fulfillment acceptance may never be reported.
func (t *transition) afterPayment() (bool, error) {
	switch t.env.EventType {
	case events.ShipmentDispatchedEvent:
		if err := t.dispatched(); err != nil {
			return false, err
		}
		t.moveTo(StateFulfilled)
		return true, nil

	case events.ShipmentConfirmedEvent:
		if err := t.confirmed(); err != nil {
			return false, err
		}
		t.moveTo(StateCompleted)
		t.completedNotice()
		return true, nil

	case events.FulfillmentFailedEvent:
		reason, err := t.failure()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.refundPayment(reason)
		t.releaseInventory(reason)
		t.cancelledNotice(reason)
		return true, nil

	case events.CancellationRequestedEvent:
		reason, err := t.cancellation()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.send(DestinationShipping, events.CancelFulfillmentCommand, CancelFulfillmentCommand{
			OrderID:       t.id,
			FulfillmentID: t.data.FulfillmentID,
			Reason:        reason,
		})
		t.refundPayment(reason)
		t.releaseInventory(reason)
		t.cancelledNotice(reason)
		return true, nil
	}
	return false, nil
}

func (t *transition) fromFulfilled() (bool, error) {
	switch t.env.EventType {
	case events.ShipmentConfirmedEvent:
		if err := t.confirmed(); err != nil {
			return false, err
		}
		t.moveTo(StateCompleted)
		t.completedNotice()
		return true, nil

	case events.ShipmentFailedEvent:
		reason, err := t.failure()
		if err != nil {
			return false, err
		}
		t.moveTo(StateFaulted)
		t.refundPayment(reason)
		t.send(DestinationNotifications, events.OrderFaultedNotice, OrderFaultedNotice{
			OrderID:    t.id,
			CustomerID: t.data.CustomerID,
			Reason:     reason,
		})
		return true, nil

	case events.CancellationRequestedEvent:
		reason, err := t.cancellation()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.send(DestinationShipping, events.RecallShipmentCommand, RecallShipmentCommand{
			OrderID:    t.id,
			ShipmentID: t.data.ShipmentID,
			Reason:     reason,
		})
		t.refundPayment(reason)
		t.cancelledNotice(reason)
		return true, nil
	}
	return false, nil
}

// fromFaulted only accepts a late delivery confirmation or an operator
// cancellation. The refund was already requested on entry.
func (t *transition) fromFaulted() (bool, error) {
	switch t.env.EventType {
	case events.ShipmentConfirmedEvent:
		if err := t.confirmed(); err != nil {
			return false, err
		}
		t.moveTo(StateCompleted)
		t.completedNotice()
		return true, nil

	case events.CancellationRequestedEvent:
		reason, err := t.cancellation()
		if err != nil {
			return false, err
		}
		t.moveTo(StateCancelled)
		t.cancelledNotice(reason)
		return true, nil
	}
	return false, nil
}

func (t *transition) dispatched() error {
	var dispatched ShipmentDispatchedData
	if err := t.decode(&dispatched); err != nil {
		return err
	}
	if dispatched.ShipmentID != "" {
		t.set(keyShipmentID, dispatched.ShipmentID)
	}
	if dispatched.Carrier != "" {
		t.set(keyCarrier, dispatched.Carrier)
	}
	if dispatched.TrackingNumber != "" {
		t.set(keyTrackingNumber, dispatched.TrackingNumber)
	}
	return nil
}

func (t *transition) confirmed() error {
	var confirmed ShipmentConfirmedData
	if err := t.decode(&confirmed); err != nil {
		return err
	}
	if confirmed.ShipmentID != "" && t.data.ShipmentID == "" {
		t.set(keyShipmentID, confirmed.ShipmentID)
	}
	if confirmed.DeliveredAt != "" {
		t.set(keyDeliveredAt, confirmed.DeliveredAt)
	} else if !t.env.OccurredAt.IsZero() {
		t.set(keyDeliveredAt, t.env.OccurredAt)
	}
	return nil
}

func (t *transition) cancellation() (string, error) {
	var requested CancellationRequestedData
	if err := t.decode(&requested); err != nil {
		return "", err
	}
	reason := requested.Reason
	if reason == "" {
		reason = "cancellation requested"
	}
	t.set(keyCancellationReason, reason)
	if requested.RequestedBy != "" {
		t.set(keyCancelledBy, requested.RequestedBy)
	}
	return reason, nil
}

func (t *transition) releaseInventory(reason string) {
	t.send(DestinationInventory, events.ReleaseInventoryCommand, ReleaseInventoryCommand{
		OrderID:       t.id,
		ReservationID: t.data.ReservationID,
		Reason:        reason,
	})
}

func (t *transition) refundPayment(reason string) {
	t.send(DestinationPayments, events.RefundPaymentCommand, RefundPaymentCommand{
		OrderID:   t.id,
		PaymentID: t.data.PaymentID,
		Amount:    t.data.refundAmount(),
		Reason:    reason,
	})
}

func (t *transition) completedNotice() {
	t.send(DestinationNotifications, events.OrderCompletedNotice, OrderCompletedNotice{
		OrderID:    t.id,
		CustomerID: t.data.CustomerID,
		Total:      t.data.Total,
	})
}

func (t *transition) cancelledNotice(reason string) {
	t.send(DestinationNotifications, events.OrderCancelledNotice, OrderCancelledNotice{
		OrderID:    t.id,
		CustomerID: t.data.CustomerID,
		Reason:     reason,
	})
}
