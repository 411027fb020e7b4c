package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/pkg/enums"
)

// Event is one immutable row in the append-only event store. Rows are created
// once and never updated; (aggregate_id, version) carries a hard unique
// constraint (ux_events_aggregate_version).
type Event struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AggregateID   uuid.UUID           `gorm:"column:aggregate_id;type:uuid;not null;uniqueIndex:ux_events_aggregate_version"`
	AggregateType enums.AggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	EventType     enums.EventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	Version       int                 `gorm:"column:version;not null;uniqueIndex:ux_events_aggregate_version"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	OccurredAt    time.Time           `gorm:"column:occurred_at;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the event store table.
func (Event) TableName() string { return "events" }
