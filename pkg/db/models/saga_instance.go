package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// SagaInstance is the durable record of one order-creation attempt. The
// instance is the only state carried across the async courier hop; a reply
// arriving after a process restart is resumed purely from this row. Version
// is an optimistic lock bumped on every mutation.
type SagaInstance struct {
	ID                     uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CurrentStep            enums.SagaStep   `gorm:"column:current_step;type:saga_step_enum;not null"`
	Status                 enums.SagaStatus `gorm:"column:status;type:saga_status_enum;not null;index"`
	ConsumerID             uuid.UUID        `gorm:"column:consumer_id;type:uuid;not null"`
	RestaurantID           uuid.UUID        `gorm:"column:restaurant_id;type:uuid;not null"`
	OrderID                *uuid.UUID       `gorm:"column:order_id;type:uuid"`
	CourierID              *uuid.UUID       `gorm:"column:courier_id;type:uuid"`
	OrderTotal             decimal.Decimal  `gorm:"column:order_total;type:numeric(12,2);not null"`
	LineItems              []types.LineItem `gorm:"column:line_items;type:jsonb;serializer:json"`
	DeliveryAddress        types.Address    `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	FailureReason          *string          `gorm:"column:failure_reason"`
	FailedStep             *enums.SagaStep  `gorm:"column:failed_step;type:saga_step_enum"`
	CompensationIncomplete bool             `gorm:"column:compensation_incomplete;not null;default:false"`
	ReplyDeadline          *time.Time       `gorm:"column:reply_deadline;index"`
	Version                int              `gorm:"column:version;not null;default:1"`
	CreatedAt              time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the saga instance table.
func (SagaInstance) TableName() string { return "saga_instances" }
