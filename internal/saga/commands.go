package saga

import (
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/pkg/types"
)

// AssignCourierCommand asks the courier fleet for a pickup assignment. It
// travels through the outbox, so the request commits atomically with the
// saga transition that issued it.
type AssignCourierCommand struct {
	OrderID         uuid.UUID     `json:"orderId"`
	RestaurantID    uuid.UUID     `json:"restaurantId"`
	DeliveryAddress types.Address `json:"deliveryAddress"`
}

// ReleaseCourierCommand undoes an assignment during compensation.
type ReleaseCourierCommand struct {
	OrderID   uuid.UUID `json:"orderId"`
	CourierID uuid.UUID `json:"courierId"`
}

// CourierReply is the fleet's answer, correlated by saga id.
type CourierReply struct {
	SagaID    uuid.UUID  `json:"sagaId"`
	OrderID   uuid.UUID  `json:"orderId"`
	CourierID *uuid.UUID `json:"courierId,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
