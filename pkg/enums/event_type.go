package enums

import "fmt"

// AggregateType maps to the aggregate_type enum in Postgres.
type AggregateType string

const (
	AggregateOrder AggregateType = "order"
	AggregateSaga  AggregateType = "create_order_saga"
)

var validAggregateTypes = []AggregateType{
	AggregateOrder,
	AggregateSaga,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a AggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAggregateType converts raw input into AggregateType.
func ParseAggregateType(value string) (AggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// EventType maps to the event_type enum in Postgres. The same taxonomy covers
// rows in the event store and rows staged in the outbox.
type EventType string

const (
	EventOrderCreated        EventType = "order_created"
	EventOrderApproved       EventType = "order_approved"
	EventOrderRejected       EventType = "order_rejected"
	EventOrderCancelled      EventType = "order_cancelled"
	EventOrderAccepted       EventType = "order_accepted"
	EventOrderPreparing      EventType = "order_preparing"
	EventOrderReadyForPickup EventType = "order_ready_for_pickup"
	EventOrderPickedUp       EventType = "order_picked_up"
	EventOrderDelivered      EventType = "order_delivered"

	// Courier commands travel through the outbox like domain events, so the
	// saga's command publish shares the domain mutation's transaction.
	EventAssignCourier  EventType = "assign_courier"
	EventReleaseCourier EventType = "release_courier"
)

var validEventTypes = []EventType{
	EventOrderCreated,
	EventOrderApproved,
	EventOrderRejected,
	EventOrderCancelled,
	EventOrderAccepted,
	EventOrderPreparing,
	EventOrderReadyForPickup,
	EventOrderPickedUp,
	EventOrderDelivered,
	EventAssignCourier,
	EventReleaseCourier,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// ReplyType identifies messages on the saga reply topic.
type ReplyType string

const (
	ReplyCourierAssigned         ReplyType = "courier_assigned"
	ReplyCourierAssignmentFailed ReplyType = "courier_assignment_failed"
)

// ParseReplyType converts raw input into ReplyType.
func ParseReplyType(value string) (ReplyType, error) {
	switch ReplyType(value) {
	case ReplyCourierAssigned, ReplyCourierAssignmentFailed:
		return ReplyType(value), nil
	}
	return "", fmt.Errorf("invalid reply type %q", value)
}
