package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
)

// Repository persists saga instances. Every mutation goes through an
// optimistic version check, so a reply consumer and the timeout sweeper can
// never both win the same transition.
type Repository struct {
	conn *gorm.DB
}

// NewRepository wires the saga instance repository.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

// Create inserts a fresh instance at version 1.
func (r *Repository) Create(ctx context.Context, instance *models.SagaInstance) error {
	instance.Version = 1
	return r.conn.WithContext(ctx).Create(instance).Error
}

// FindByID loads one instance.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SagaInstance, error) {
	var instance models.SagaInstance
	err := r.conn.WithContext(ctx).Where("id = ?", id).First(&instance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "saga not found")
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// Update persists the instance if nobody else has touched it since it was
// loaded. On success the in-memory version is bumped to match the row.
func (r *Repository) Update(ctx context.Context, instance *models.SagaInstance) error {
	return r.update(r.conn.WithContext(ctx), instance)
}

// UpdateTx is Update inside an open transaction.
func (r *Repository) UpdateTx(tx *gorm.DB, instance *models.SagaInstance) error {
	return r.update(tx, instance)
}

func (r *Repository) update(conn *gorm.DB, instance *models.SagaInstance) error {
	loadedVersion := instance.Version
	result := conn.
		Model(&models.SagaInstance{}).
		Where("id = ? AND version = ?", instance.ID, loadedVersion).
		Updates(map[string]any{
			"current_step":            instance.CurrentStep,
			"status":                  instance.Status,
			"order_id":                instance.OrderID,
			"courier_id":              instance.CourierID,
			"failure_reason":          instance.FailureReason,
			"failed_step":             instance.FailedStep,
			"compensation_incomplete": instance.CompensationIncomplete,
			"reply_deadline":          instance.ReplyDeadline,
			"version":                 loadedVersion + 1,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "saga instance modified concurrently")
	}
	instance.Version = loadedVersion + 1
	return nil
}

// ListExpiredAwaitingReply returns instances whose courier reply never
// arrived before the deadline.
func (r *Repository) ListExpiredAwaitingReply(ctx context.Context, now time.Time, limit int) ([]models.SagaInstance, error) {
	var instances []models.SagaInstance
	err := r.conn.WithContext(ctx).
		Where("status = ? AND reply_deadline IS NOT NULL AND reply_deadline < ?", enums.SagaAwaitingReply, now).
		Order("reply_deadline ASC").
		Limit(limit).
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}
