package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// ClaimUnpublished atomically claims up to limit unpublished rows for the
// named relay instance. Rows claimed by another live relay (claimed within
// claimWindow) are skipped, as are rows that exhausted their attempts.
func (r *Repository) ClaimUnpublished(tx *gorm.DB, claimer string, limit, maxAttempts int, claimWindow time.Duration) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	staleBefore := time.Now().Add(-claimWindow)
	err := tx.Raw(`
		UPDATE outbox_events
		SET claimed_at = NOW(), claimed_by = ?
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE published_at IS NULL
			  AND attempt_count < ?
			  AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY created_at ASC, id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		claimer, maxAttempts, staleBefore, limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now(),
			"claimed_at":   nil,
			"claimed_by":   nil,
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"claimed_at":    nil,
			"claimed_by":    nil,
		}).Error
}

// MarkTerminalTx pins the row at its attempt ceiling so no relay reselects it.
// The corresponding DLQ row is inserted by the caller in the same transaction.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": terminalAttempts,
			"claimed_at":    nil,
			"claimed_by":    nil,
		}).Error
}

// DeletePublishedBefore removes published rows older than the cutoff. Used by
// the retention sweep; unpublished rows are never deleted here.
func (r *Repository) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

// CountUnpublished reports the current backlog, used by readiness diagnostics.
func (r *Repository) CountUnpublished() (int64, error) {
	var count int64
	err := r.db.Model(&models.OutboxEvent{}).
		Where("published_at IS NULL").
		Count(&count).Error
	return count, err
}
