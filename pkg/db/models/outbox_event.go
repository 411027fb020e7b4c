package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/pkg/enums"
)

// OutboxEvent is one staged message awaiting delivery to the broker. Rows are
// inserted in the same transaction as the domain mutation that produced them
// and mutated only by the relay. ClaimedAt/ClaimedBy implement row-level
// claiming so concurrent relay instances never double-select a row.
type OutboxEvent struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.EventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.AggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID           `gorm:"column:aggregate_id;type:uuid;not null"`
	Topic         string              `gorm:"column:topic;not null"`
	PartitionKey  string              `gorm:"column:partition_key;not null"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime;index"`
	PublishedAt   *time.Time          `gorm:"column:published_at;index"`
	AttemptCount  int                 `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string             `gorm:"column:last_error"`
	ClaimedAt     *time.Time          `gorm:"column:claimed_at"`
	ClaimedBy     *string             `gorm:"column:claimed_by"`
}

// TableName pins the outbox table.
func (OutboxEvent) TableName() string { return "outbox_events" }
