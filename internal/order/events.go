package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// Event is the closed set of order history entries. Every implementation
// lives in this file; adding a variant without extending the aggregate's
// apply switch is a bug the round-trip test catches.
type Event interface {
	EventType() enums.EventType
	isOrderEvent()
}

// Created opens the history. It is always the first event on an order and
// carries the full immutable order content.
type Created struct {
	ConsumerID      uuid.UUID        `json:"consumerId"`
	RestaurantID    uuid.UUID        `json:"restaurantId"`
	LineItems       []types.LineItem `json:"lineItems"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	DeliveryAddress types.Address    `json:"deliveryAddress"`
}

func (Created) EventType() enums.EventType { return enums.EventOrderCreated }
func (Created) isOrderEvent()              {}

// Approved records the saga's final confirmation plus the assigned courier.
type Approved struct {
	CourierID uuid.UUID `json:"courierId"`
}

func (Approved) EventType() enums.EventType { return enums.EventOrderApproved }
func (Approved) isOrderEvent()              {}

// Rejected terminates a pending order before approval.
type Rejected struct {
	Reason string `json:"reason,omitempty"`
}

func (Rejected) EventType() enums.EventType { return enums.EventOrderRejected }
func (Rejected) isOrderEvent()              {}

// Cancelled terminates an approved order before the restaurant accepts it.
type Cancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (Cancelled) EventType() enums.EventType { return enums.EventOrderCancelled }
func (Cancelled) isOrderEvent()              {}

// Accepted records the restaurant taking the order.
type Accepted struct{}

func (Accepted) EventType() enums.EventType { return enums.EventOrderAccepted }
func (Accepted) isOrderEvent()              {}

// Preparing records the kitchen starting on the order.
type Preparing struct{}

func (Preparing) EventType() enums.EventType { return enums.EventOrderPreparing }
func (Preparing) isOrderEvent()              {}

// ReadyForPickup records the order waiting on the courier.
type ReadyForPickup struct{}

func (ReadyForPickup) EventType() enums.EventType { return enums.EventOrderReadyForPickup }
func (ReadyForPickup) isOrderEvent()              {}

// PickedUp records the courier collecting the order.
type PickedUp struct{}

func (PickedUp) EventType() enums.EventType { return enums.EventOrderPickedUp }
func (PickedUp) isOrderEvent()              {}

// Delivered closes the history on the happy path.
type Delivered struct{}

func (Delivered) EventType() enums.EventType { return enums.EventOrderDelivered }
func (Delivered) isOrderEvent()              {}
