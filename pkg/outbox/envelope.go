package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// delivered to the broker. EventID is the consumer-side deduplication key:
// delivery is at-least-once, never exactly-once.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	SagaID     *uuid.UUID      `json:"sagaId,omitempty"`
	Data       json.RawMessage `json:"data"`
}
