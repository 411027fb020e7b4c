package order

import (
	"encoding/json"
	"fmt"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
)

// Decode maps a stored event row back to its typed form. The switch is
// exhaustive over the order event taxonomy; an unknown type means the row
// was written by a newer build and the caller must not guess.
func Decode(eventType enums.EventType, payload json.RawMessage) (Event, error) {
	switch eventType {
	case enums.EventOrderCreated:
		var event Created
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return event, nil
	case enums.EventOrderApproved:
		var event Approved
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return event, nil
	case enums.EventOrderRejected:
		var event Rejected
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return event, nil
	case enums.EventOrderCancelled:
		var event Cancelled
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return event, nil
	case enums.EventOrderAccepted:
		return Accepted{}, nil
	case enums.EventOrderPreparing:
		return Preparing{}, nil
	case enums.EventOrderReadyForPickup:
		return ReadyForPickup{}, nil
	case enums.EventOrderPickedUp:
		return PickedUp{}, nil
	case enums.EventOrderDelivered:
		return Delivered{}, nil
	default:
		return nil, fmt.Errorf("unknown order event type %q", eventType)
	}
}

// DecodeRow converts a persisted event store row.
func DecodeRow(row models.Event) (Recorded, error) {
	event, err := Decode(row.EventType, row.Payload)
	if err != nil {
		return Recorded{}, err
	}
	return Recorded{
		Event:      event,
		Version:    row.Version,
		OccurredAt: row.OccurredAt,
	}, nil
}

// DecodeHistory converts a full ordered event page.
func DecodeHistory(rows []models.Event) ([]Recorded, error) {
	history := make([]Recorded, 0, len(rows))
	for _, row := range rows {
		recorded, err := DecodeRow(row)
		if err != nil {
			return nil, err
		}
		history = append(history, recorded)
	}
	return history, nil
}
