package orderview

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/internal/order"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/logger"
)

// viewStore is the slice of the repository the projection mutates through.
type viewStore interface {
	FindTx(tx *gorm.DB, orderID uuid.UUID) (*models.OrderView, error)
	SaveTx(tx *gorm.DB, view *models.OrderView) error
}

// Projection maintains the order_views read model. It runs inside the
// append transaction, so a query issued right after a command commit sees
// the new state. Events at or below the stored event_version are skipped,
// which makes replays and rebuilds idempotent.
type Projection struct {
	repo viewStore
	logg *logger.Logger
}

// NewProjection wires the read model projection.
func NewProjection(repo viewStore, logg *logger.Logger) *Projection {
	return &Projection{repo: repo, logg: logg}
}

// ApplyEvent folds one event store row into the view.
func (p *Projection) ApplyEvent(ctx context.Context, tx *gorm.DB, row models.Event) error {
	if row.AggregateType != enums.AggregateOrder {
		return nil
	}
	event, err := order.Decode(row.EventType, row.Payload)
	if err != nil {
		return err
	}

	view, err := p.repo.FindTx(tx, row.AggregateID)
	if err != nil {
		return err
	}
	if view != nil && row.Version <= view.EventVersion {
		if p.logg != nil {
			logCtx := p.logg.WithFields(ctx, map[string]any{
				"order_id":      row.AggregateID.String(),
				"event_version": row.Version,
				"view_version":  view.EventVersion,
			})
			p.logg.Info(logCtx, "projection skipping already applied event")
		}
		return nil
	}

	switch e := event.(type) {
	case order.Created:
		view = &models.OrderView{
			OrderID:         row.AggregateID,
			State:           enums.OrderStateApprovalPending,
			ConsumerID:      e.ConsumerID,
			RestaurantID:    e.RestaurantID,
			LineItems:       e.LineItems,
			TotalAmount:     e.TotalAmount,
			DeliveryAddress: e.DeliveryAddress,
		}
	case order.Approved:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateApproved
		courierID := e.CourierID
		view.CourierID = &courierID
		at := row.OccurredAt
		view.ApprovedAt = &at
	case order.Rejected:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateRejected
		at := row.OccurredAt
		view.RejectedAt = &at
	case order.Cancelled:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateCancelled
		at := row.OccurredAt
		view.CancelledAt = &at
	case order.Accepted:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateAccepted
	case order.Preparing:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStatePreparing
	case order.ReadyForPickup:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateReadyForPickup
	case order.PickedUp:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStatePickedUp
	case order.Delivered:
		if view == nil {
			return missingViewErr(row)
		}
		view.State = enums.OrderStateDelivered
		at := row.OccurredAt
		view.DeliveredAt = &at
	default:
		return fmt.Errorf("projection: unhandled event %T", event)
	}

	view.EventVersion = row.Version
	return p.repo.SaveTx(tx, view)
}

func missingViewErr(row models.Event) error {
	return fmt.Errorf("projection: no view for order %s at version %d", row.AggregateID, row.Version)
}
