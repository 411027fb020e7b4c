package orderview

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/pagination"
)

// historySource reads an aggregate's event rows inside a transaction.
type historySource interface {
	EventsTx(tx *gorm.DB, aggregateID uuid.UUID) ([]models.Event, error)
}

// viewRepo is the slice of the repository the query service reads through.
type viewRepo interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error)
	ListByConsumer(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*OrderPage, error)
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*OrderPage, error)
	ListByCourier(ctx context.Context, courierID uuid.UUID, params pagination.Params) (*OrderPage, error)
	DeleteTx(tx *gorm.DB, orderID uuid.UUID) error
}

// Service answers order queries from the read model and can rebuild a view
// from the event log when the two drift.
type Service struct {
	repo       viewRepo
	projection *Projection
	store      historySource
	tx         db.TxRunner
	logg       *logger.Logger
}

// NewService wires the query service.
func NewService(repo viewRepo, projection *Projection, store historySource, tx db.TxRunner, logg *logger.Logger) *Service {
	return &Service{repo: repo, projection: projection, store: store, tx: tx, logg: logg}
}

// GetOrder returns one order view.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error) {
	return s.repo.Get(ctx, orderID)
}

// ListByConsumer pages a consumer's orders.
func (s *Service) ListByConsumer(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return s.repo.ListByConsumer(ctx, consumerID, params)
}

// ListByRestaurant pages a restaurant's orders.
func (s *Service) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return s.repo.ListByRestaurant(ctx, restaurantID, params)
}

// ListByCourier pages a courier's orders.
func (s *Service) ListByCourier(ctx context.Context, courierID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return s.repo.ListByCourier(ctx, courierID, params)
}

// Rebuild drops one order's view and replays its full history through the
// projection in a single transaction. Replaying twice lands on the same row.
func (s *Service) Rebuild(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.store.EventsTx(tx, orderID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order has no events")
		}
		if err := s.repo.DeleteTx(tx, orderID); err != nil {
			return err
		}
		for _, row := range rows {
			if err := s.projection.ApplyEvent(ctx, tx, row); err != nil {
				return err
			}
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": orderID.String(),
				"events":   len(rows),
			})
			s.logg.Info(logCtx, "order view rebuilt")
		}
		return nil
	})
}
