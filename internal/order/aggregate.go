package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// Recorded is one event as it sits in the store: the typed payload plus the
// version slot it occupies in the aggregate's history.
type Recorded struct {
	Event      Event
	Version    int
	OccurredAt time.Time
}

// Aggregate is the in-memory order rebuilt by replaying its history. It is
// never persisted directly; the event rows are the source of truth and the
// read model is derived separately.
type Aggregate struct {
	ID              uuid.UUID
	State           enums.OrderState
	ConsumerID      uuid.UUID
	RestaurantID    uuid.UUID
	CourierID       *uuid.UUID
	LineItems       []types.LineItem
	TotalAmount     decimal.Decimal
	DeliveryAddress types.Address
	Version         int
}

// Reconstitute replays the full ordered history into an aggregate. An empty
// history yields a zero aggregate with Version 0, which only Create accepts.
func Reconstitute(id uuid.UUID, history []Recorded) (*Aggregate, error) {
	agg := &Aggregate{ID: id}
	for _, recorded := range history {
		if recorded.Version != agg.Version+1 {
			return nil, fmt.Errorf("order %s: history gap at version %d", id, recorded.Version)
		}
		if err := agg.apply(recorded.Event); err != nil {
			return nil, err
		}
		agg.Version = recorded.Version
	}
	return agg, nil
}

// apply mutates state for one event. The switch is exhaustive over the event
// union; it carries no business rules, those live in the command methods.
func (a *Aggregate) apply(event Event) error {
	switch e := event.(type) {
	case Created:
		a.State = enums.OrderStateApprovalPending
		a.ConsumerID = e.ConsumerID
		a.RestaurantID = e.RestaurantID
		a.LineItems = e.LineItems
		a.TotalAmount = e.TotalAmount
		a.DeliveryAddress = e.DeliveryAddress
	case Approved:
		a.State = enums.OrderStateApproved
		courierID := e.CourierID
		a.CourierID = &courierID
	case Rejected:
		a.State = enums.OrderStateRejected
	case Cancelled:
		a.State = enums.OrderStateCancelled
	case Accepted:
		a.State = enums.OrderStateAccepted
	case Preparing:
		a.State = enums.OrderStatePreparing
	case ReadyForPickup:
		a.State = enums.OrderStateReadyForPickup
	case PickedUp:
		a.State = enums.OrderStatePickedUp
	case Delivered:
		a.State = enums.OrderStateDelivered
	default:
		return fmt.Errorf("order %s: unhandled event %T", a.ID, event)
	}
	return nil
}

// decide validates a command against current state, then applies the
// resulting event so chained commands in one session see fresh state.
func (a *Aggregate) decide(event Event, allowed ...enums.OrderState) (Event, error) {
	if a.Version == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	for _, state := range allowed {
		if a.State == state {
			if err := a.apply(event); err != nil {
				return nil, err
			}
			a.Version++
			return event, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot apply %s in state %s", event.EventType(), a.State)).
		WithDetails(map[string]any{"state": a.State, "event": event.EventType()})
}

// Create opens a new order history. It validates order content and rejects
// aggregates that already have events.
func (a *Aggregate) Create(consumerID, restaurantID uuid.UUID, items []types.LineItem, address types.Address) (Event, error) {
	if a.Version != 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already exists")
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line item")
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item unit price cannot be negative")
		}
	}
	total := types.OrderTotal(items)
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	event := Created{
		ConsumerID:      consumerID,
		RestaurantID:    restaurantID,
		LineItems:       items,
		TotalAmount:     total,
		DeliveryAddress: address,
	}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	a.Version = 1
	return event, nil
}

// Approve confirms a pending order and pins the courier assignment.
func (a *Aggregate) Approve(courierID uuid.UUID) (Event, error) {
	return a.decide(Approved{CourierID: courierID}, enums.OrderStateApprovalPending)
}

// Reject terminates a pending order.
func (a *Aggregate) Reject(reason string) (Event, error) {
	return a.decide(Rejected{Reason: reason}, enums.OrderStateApprovalPending)
}

// Cancel terminates an approved order the restaurant has not accepted yet.
func (a *Aggregate) Cancel(reason string) (Event, error) {
	return a.decide(Cancelled{Reason: reason}, enums.OrderStateApproved)
}

// Accept records the restaurant taking the order.
func (a *Aggregate) Accept() (Event, error) {
	return a.decide(Accepted{}, enums.OrderStateApproved)
}

// StartPreparing records the kitchen starting on the order.
func (a *Aggregate) StartPreparing() (Event, error) {
	return a.decide(Preparing{}, enums.OrderStateAccepted)
}

// MarkReadyForPickup records the order waiting on the courier.
func (a *Aggregate) MarkReadyForPickup() (Event, error) {
	return a.decide(ReadyForPickup{}, enums.OrderStatePreparing)
}

// MarkPickedUp records the courier collecting the order.
func (a *Aggregate) MarkPickedUp() (Event, error) {
	return a.decide(PickedUp{}, enums.OrderStateReadyForPickup)
}

// MarkDelivered closes the order.
func (a *Aggregate) MarkDelivered() (Event, error) {
	return a.decide(Delivered{}, enums.OrderStatePickedUp)
}
