package enums

import "fmt"

// OrderState maps to the order_state enum in Postgres.
type OrderState string

const (
	OrderStateApprovalPending OrderState = "APPROVAL_PENDING"
	OrderStateApproved        OrderState = "APPROVED"
	OrderStateAccepted        OrderState = "ACCEPTED"
	OrderStatePreparing       OrderState = "PREPARING"
	OrderStateReadyForPickup  OrderState = "READY_FOR_PICKUP"
	OrderStatePickedUp        OrderState = "PICKED_UP"
	OrderStateDelivered       OrderState = "DELIVERED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateCancelled       OrderState = "CANCELLED"
)

var validOrderStates = []OrderState{
	OrderStateApprovalPending,
	OrderStateApproved,
	OrderStateAccepted,
	OrderStatePreparing,
	OrderStateReadyForPickup,
	OrderStatePickedUp,
	OrderStateDelivered,
	OrderStateRejected,
	OrderStateCancelled,
}

// IsValid reports whether the value matches the canonical order_state enum.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateDelivered, OrderStateRejected, OrderStateCancelled:
		return true
	}
	return false
}

// ParseOrderState converts raw input into OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
