package orderview

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/pagination"
)

// OrderPage is one cursor page of order views.
type OrderPage struct {
	Orders     []models.OrderView `json:"orders"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// Repository persists and queries the order_views read model.
type Repository struct {
	conn *gorm.DB
}

// NewRepository wires the read model repository.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

// FindTx loads one view inside an open transaction, nil when absent.
func (r *Repository) FindTx(tx *gorm.DB, orderID uuid.UUID) (*models.OrderView, error) {
	var view models.OrderView
	err := tx.Where("order_id = ?", orderID).First(&view).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SaveTx upserts one view inside an open transaction.
func (r *Repository) SaveTx(tx *gorm.DB, view *models.OrderView) error {
	return tx.Save(view).Error
}

// DeleteTx removes one view inside an open transaction.
func (r *Repository) DeleteTx(tx *gorm.DB, orderID uuid.UUID) error {
	return tx.Where("order_id = ?", orderID).Delete(&models.OrderView{}).Error
}

// Get loads one view, NOT_FOUND when absent.
func (r *Repository) Get(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error) {
	var view models.OrderView
	err := r.conn.WithContext(ctx).Where("order_id = ?", orderID).First(&view).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListByConsumer pages a consumer's orders, newest first.
func (r *Repository) ListByConsumer(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return r.list(ctx, "consumer_id = ?", consumerID, params)
}

// ListByRestaurant pages a restaurant's orders, newest first.
func (r *Repository) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return r.list(ctx, "restaurant_id = ?", restaurantID, params)
}

// ListByCourier pages a courier's orders, newest first.
func (r *Repository) ListByCourier(ctx context.Context, courierID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	return r.list(ctx, "courier_id = ?", courierID, params)
}

func (r *Repository) list(ctx context.Context, condition string, id uuid.UUID, params pagination.Params) (*OrderPage, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(strings.TrimSpace(params.Cursor))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.conn.WithContext(ctx).
		Model(&models.OrderView{}).
		Where(condition, id).
		Order("created_at DESC, order_id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if cursor != nil {
		query = query.Where(
			"(created_at, order_id) < (?, ?)",
			cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.OrderView
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.OrderID,
		})
	}

	return &OrderPage{Orders: rows, NextCursor: nextCursor}, nil
}
