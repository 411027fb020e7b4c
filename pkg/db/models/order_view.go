package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// OrderView is the denormalized read model for one order. It is mutated only
// by the projection, exactly once per event, in event order; EventVersion is
// the last applied event store version.
type OrderView struct {
	OrderID         uuid.UUID        `gorm:"column:order_id;type:uuid;primaryKey"`
	State           enums.OrderState `gorm:"column:state;type:order_state_enum;not null"`
	ConsumerID      uuid.UUID        `gorm:"column:consumer_id;type:uuid;not null;index"`
	RestaurantID    uuid.UUID        `gorm:"column:restaurant_id;type:uuid;not null;index"`
	CourierID       *uuid.UUID       `gorm:"column:courier_id;type:uuid;index"`
	LineItems       []types.LineItem `gorm:"column:line_items;type:jsonb;serializer:json"`
	TotalAmount     decimal.Decimal  `gorm:"column:total_amount;type:numeric(12,2);not null"`
	DeliveryAddress types.Address    `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	EventVersion    int              `gorm:"column:event_version;not null"`
	ApprovedAt      *time.Time       `gorm:"column:approved_at"`
	RejectedAt      *time.Time       `gorm:"column:rejected_at"`
	CancelledAt     *time.Time       `gorm:"column:cancelled_at"`
	DeliveredAt     *time.Time       `gorm:"column:delivered_at"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the read model table.
func (OrderView) TableName() string { return "order_views" }
