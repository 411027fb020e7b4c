package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/internal/eventstore"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

const conflictBackoffBase = 25 * time.Millisecond

// eventStore is the slice of the event store the command service needs.
type eventStore interface {
	EventsTx(tx *gorm.DB, aggregateID uuid.UUID) ([]models.Event, error)
	Append(ctx context.Context, tx *gorm.DB, params eventstore.AppendParams) ([]models.Event, error)
}

// CreateInput is the content of a new order command.
type CreateInput struct {
	ConsumerID      uuid.UUID
	RestaurantID    uuid.UUID
	LineItems       []types.LineItem
	DeliveryAddress types.Address
}

// Service executes order commands against the event store. Commands that
// lose an optimistic concurrency race are replayed against fresh state a
// bounded number of times before CONFLICT surfaces to the caller.
type Service struct {
	store           eventStore
	tx              db.TxRunner
	logg            *logger.Logger
	conflictRetries int
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewService wires the command service.
func NewService(store eventStore, tx db.TxRunner, cfg config.SagaConfig, logg *logger.Logger) *Service {
	retries := cfg.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	return &Service{
		store:           store,
		tx:              tx,
		logg:            logg,
		conflictRetries: retries,
		sleep:           sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Create opens a new order in APPROVAL_PENDING and returns its id.
func (s *Service) Create(ctx context.Context, input CreateInput) (uuid.UUID, error) {
	orderID := uuid.New()
	err := s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.Create(input.ConsumerID, input.RestaurantID, input.LineItems, input.DeliveryAddress)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return orderID, nil
}

// Approve confirms a pending order with its courier assignment.
func (s *Service) Approve(ctx context.Context, orderID, courierID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.Approve(courierID)
	})
}

// Reject terminates a pending order.
func (s *Service) Reject(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.Reject(reason)
	})
}

// Cancel terminates an approved order before the restaurant accepts.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.Cancel(reason)
	})
}

// Accept records the restaurant taking the order.
func (s *Service) Accept(ctx context.Context, orderID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.Accept()
	})
}

// StartPreparing records the kitchen starting on the order.
func (s *Service) StartPreparing(ctx context.Context, orderID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.StartPreparing()
	})
}

// MarkReadyForPickup records the order waiting on the courier.
func (s *Service) MarkReadyForPickup(ctx context.Context, orderID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.MarkReadyForPickup()
	})
}

// MarkPickedUp records the courier collecting the order.
func (s *Service) MarkPickedUp(ctx context.Context, orderID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.MarkPickedUp()
	})
}

// MarkDelivered closes the order.
func (s *Service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.runCommand(ctx, orderID, func(agg *Aggregate) (Event, error) {
		return agg.MarkDelivered()
	})
}

// runCommand loads the aggregate, runs mutate, and appends the produced
// event in one transaction. CONFLICT retries rebuild from fresh state with
// doubling backoff; any other error returns immediately.
func (s *Service) runCommand(ctx context.Context, orderID uuid.UUID, mutate func(*Aggregate) (Event, error)) error {
	backoff := conflictBackoffBase
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.store.EventsTx(tx, orderID)
			if err != nil {
				return err
			}
			history, err := DecodeHistory(rows)
			if err != nil {
				return err
			}
			agg, err := Reconstitute(orderID, history)
			if err != nil {
				return err
			}
			expected := agg.Version
			event, err := mutate(agg)
			if err != nil {
				return err
			}
			_, err = s.store.Append(ctx, tx, eventstore.AppendParams{
				AggregateID:     orderID,
				AggregateType:   enums.AggregateOrder,
				ExpectedVersion: expected,
				Events:          []eventstore.NewEvent{{Type: event.EventType(), Payload: event}},
			})
			return err
		})
		if err == nil {
			return nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			return err
		}
		lastErr = err
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": orderID.String(),
				"attempt":  attempt + 1,
			})
			s.logg.Warn(logCtx, "order command lost concurrency race, retrying")
		}
	}
	return lastErr
}
