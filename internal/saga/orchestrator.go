package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/internal/collab"
	"github.com/mealmesh/ordering-backend/internal/order"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/metrics"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// consumerValidator answers whether a consumer may place an order.
type consumerValidator interface {
	ValidateOrder(ctx context.Context, consumerID uuid.UUID, orderTotal decimal.Decimal) error
}

// restaurantDirectory resolves restaurants.
type restaurantDirectory interface {
	GetRestaurant(ctx context.Context, restaurantID uuid.UUID) (*collab.Restaurant, error)
}

// orderCommands is the slice of the order service the saga drives.
type orderCommands interface {
	Create(ctx context.Context, input order.CreateInput) (uuid.UUID, error)
	Approve(ctx context.Context, orderID, courierID uuid.UUID) error
	Reject(ctx context.Context, orderID uuid.UUID, reason string) error
}

// commandEmitter stages courier commands through the outbox.
type commandEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// instanceRepo persists saga instances.
type instanceRepo interface {
	Create(ctx context.Context, instance *models.SagaInstance) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SagaInstance, error)
	Update(ctx context.Context, instance *models.SagaInstance) error
	UpdateTx(tx *gorm.DB, instance *models.SagaInstance) error
	ListExpiredAwaitingReply(ctx context.Context, now time.Time, limit int) ([]models.SagaInstance, error)
}

// StartInput is one order-creation request.
type StartInput struct {
	ConsumerID      uuid.UUID
	RestaurantID    uuid.UUID
	LineItems       []types.LineItem
	DeliveryAddress types.Address
}

// Orchestrator drives the order-creation saga. The persisted instance is the
// only state carried across the async courier hop: a reply arriving after a
// restart resumes purely from the saga_instances row.
type Orchestrator struct {
	repo        instanceRepo
	tx          db.TxRunner
	consumers   consumerValidator
	restaurants restaurantDirectory
	orders      orderCommands
	outbox      commandEmitter

	courierTopic        string
	stepTimeout         time.Duration
	replyTimeout        time.Duration
	compensationRetries int

	metrics *metrics.SagaMetrics
	logg    *logger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the saga orchestrator.
func NewOrchestrator(
	repo instanceRepo,
	tx db.TxRunner,
	consumers consumerValidator,
	restaurants restaurantDirectory,
	orders orderCommands,
	emitter commandEmitter,
	courierTopic string,
	cfg config.SagaConfig,
	sagaMetrics *metrics.SagaMetrics,
	logg *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		repo:                repo,
		tx:                  tx,
		consumers:           consumers,
		restaurants:         restaurants,
		orders:              orders,
		outbox:              emitter,
		courierTopic:        courierTopic,
		stepTimeout:         cfg.StepTimeout,
		replyTimeout:        cfg.ReplyTimeout,
		compensationRetries: cfg.CompensationRetries,
		metrics:             sagaMetrics,
		logg:                logg,
		now:                 time.Now,
		sleep:               sleepContext,
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

// Start creates a saga instance and drives it until it suspends on the
// courier reply or terminates. The returned instance reflects the outcome;
// a FAILED saga is a valid result, not an error.
func (o *Orchestrator) Start(ctx context.Context, input StartInput) (*models.SagaInstance, error) {
	if len(input.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line item")
	}
	total := types.OrderTotal(input.LineItems)
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	instance := &models.SagaInstance{
		ID:              uuid.New(),
		CurrentStep:     enums.StepValidateConsumer,
		Status:          enums.SagaStarted,
		ConsumerID:      input.ConsumerID,
		RestaurantID:    input.RestaurantID,
		OrderTotal:      total,
		LineItems:       input.LineItems,
		DeliveryAddress: input.DeliveryAddress,
	}
	if err := o.repo.Create(ctx, instance); err != nil {
		return nil, err
	}

	ctx = o.logCtx(ctx, instance)
	if o.logg != nil {
		o.logg.Info(ctx, "saga started")
	}
	return o.advance(ctx, instance)
}

// Status returns the current saga instance.
func (o *Orchestrator) Status(ctx context.Context, sagaID uuid.UUID) (*models.SagaInstance, error) {
	return o.repo.FindByID(ctx, sagaID)
}

// advance executes steps until the saga suspends or terminates. Step
// failures route into compensation; only infrastructure errors propagate.
func (o *Orchestrator) advance(ctx context.Context, instance *models.SagaInstance) (*models.SagaInstance, error) {
	for {
		var stepErr error
		switch instance.CurrentStep {
		case enums.StepValidateConsumer:
			stepErr = o.validateConsumer(ctx, instance)
			if stepErr == nil {
				instance.Status = enums.SagaInProgress
				instance.CurrentStep = enums.StepValidateRestaurant
			}
		case enums.StepValidateRestaurant:
			stepErr = o.validateRestaurant(ctx, instance)
			if stepErr == nil {
				instance.CurrentStep = enums.StepCreateOrder
			}
		case enums.StepCreateOrder:
			var orderID uuid.UUID
			orderID, stepErr = o.orders.Create(ctx, order.CreateInput{
				ConsumerID:      instance.ConsumerID,
				RestaurantID:    instance.RestaurantID,
				LineItems:       instance.LineItems,
				DeliveryAddress: instance.DeliveryAddress,
			})
			if stepErr == nil {
				instance.OrderID = &orderID
				instance.CurrentStep = enums.StepAssignCourier
			}
		case enums.StepAssignCourier:
			return o.requestCourier(ctx, instance)
		case enums.StepApproveOrder:
			stepErr = o.orders.Approve(ctx, *instance.OrderID, *instance.CourierID)
			if stepErr == nil {
				instance.Status = enums.SagaCompleted
				if err := o.repo.Update(ctx, instance); err != nil {
					return instance, err
				}
				o.metrics.IncCompleted()
				if o.logg != nil {
					o.logg.Info(ctx, "saga completed")
				}
				return instance, nil
			}
		default:
			return instance, pkgerrors.New(pkgerrors.CodeInternal, "saga in unknown step")
		}

		if stepErr != nil {
			return o.fail(ctx, instance, stepErr)
		}
		if err := o.repo.Update(ctx, instance); err != nil {
			return instance, err
		}
	}
}

func (o *Orchestrator) validateConsumer(ctx context.Context, instance *models.SagaInstance) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()
	return o.consumers.ValidateOrder(stepCtx, instance.ConsumerID, instance.OrderTotal)
}

func (o *Orchestrator) validateRestaurant(ctx context.Context, instance *models.SagaInstance) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()
	restaurant, err := o.restaurants.GetRestaurant(stepCtx, instance.RestaurantID)
	if err != nil {
		return err
	}
	if !restaurant.Open {
		return pkgerrors.New(pkgerrors.CodeValidation, "restaurant is not accepting orders")
	}
	if restaurant.OrderMinimum.GreaterThan(instance.OrderTotal) {
		return pkgerrors.New(pkgerrors.CodeValidation, "order total below restaurant minimum")
	}
	return nil
}

// requestCourier stages the assign command and parks the saga. The outbox
// row and the AWAITING_REPLY transition share one transaction, so the
// command exists exactly when the saga says it is waiting.
func (o *Orchestrator) requestCourier(ctx context.Context, instance *models.SagaInstance) (*models.SagaInstance, error) {
	deadline := o.now().Add(o.replyTimeout)
	prevStatus := instance.Status
	prevDeadline := instance.ReplyDeadline
	prevVersion := instance.Version
	instance.Status = enums.SagaAwaitingReply
	instance.ReplyDeadline = &deadline

	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssignCourier,
			AggregateType: enums.AggregateSaga,
			AggregateID:   instance.ID,
			Topic:         o.courierTopic,
			SagaID:        &instance.ID,
			Data: AssignCourierCommand{
				OrderID:         *instance.OrderID,
				RestaurantID:    instance.RestaurantID,
				DeliveryAddress: instance.DeliveryAddress,
			},
		}); err != nil {
			return err
		}
		return o.repo.UpdateTx(tx, instance)
	})
	if err != nil {
		// The row never changed; the returned instance must not claim it did.
		instance.Status = prevStatus
		instance.ReplyDeadline = prevDeadline
		instance.Version = prevVersion
		return instance, err
	}
	if o.logg != nil {
		o.logg.Info(ctx, "saga awaiting courier reply")
	}
	return instance, nil
}

// HandleCourierReply resumes a parked saga. Replies for unknown, terminal,
// or non-waiting sagas are dropped; at-least-once delivery makes duplicates
// and stragglers normal, not exceptional.
func (o *Orchestrator) HandleCourierReply(ctx context.Context, replyType enums.ReplyType, reply CourierReply) error {
	instance, err := o.repo.FindByID(ctx, reply.SagaID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if o.logg != nil {
				o.logg.Warn(o.logg.WithSagaID(ctx, reply.SagaID.String()), "courier reply for unknown saga dropped")
			}
			return nil
		}
		return err
	}
	ctx = o.logCtx(ctx, instance)
	if instance.Status != enums.SagaAwaitingReply {
		if o.logg != nil {
			o.logg.Info(ctx, "courier reply ignored, saga no longer waiting")
		}
		return nil
	}

	switch replyType {
	case enums.ReplyCourierAssigned:
		if reply.CourierID == nil {
			_, err := o.fail(ctx, instance, pkgerrors.New(pkgerrors.CodeDependency, "courier reply missing courier id"))
			return err
		}
		instance.CourierID = reply.CourierID
		instance.CurrentStep = enums.StepApproveOrder
		instance.Status = enums.SagaInProgress
		instance.ReplyDeadline = nil
		if err := o.repo.Update(ctx, instance); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				if o.logg != nil {
					o.logg.Warn(ctx, "courier reply lost race with another transition")
				}
				return nil
			}
			return err
		}
		_, err := o.advance(ctx, instance)
		return err
	case enums.ReplyCourierAssignmentFailed:
		reason := reply.Reason
		if reason == "" {
			reason = "courier assignment failed"
		}
		_, err := o.fail(ctx, instance, pkgerrors.New(pkgerrors.CodeDependency, reason))
		return err
	default:
		if o.logg != nil {
			o.logg.Warn(ctx, "unknown courier reply type dropped")
		}
		return nil
	}
}

// ExpireAwaitingReplies fails sagas whose courier reply never arrived. It
// returns how many sagas it transitioned.
func (o *Orchestrator) ExpireAwaitingReplies(ctx context.Context, limit int) (int, error) {
	instances, err := o.repo.ListExpiredAwaitingReply(ctx, o.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range instances {
		instance := &instances[i]
		instCtx := o.logCtx(ctx, instance)
		if o.logg != nil {
			o.logg.Warn(instCtx, "courier reply deadline passed")
		}
		if _, err := o.fail(instCtx, instance, pkgerrors.New(pkgerrors.CodeDependency, "courier reply timed out")); err != nil {
			if o.logg != nil {
				o.logg.Error(instCtx, "failed to expire saga", err)
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// fail compensates completed side effects in reverse order, then parks the
// saga in FAILED. A lost optimistic race means another worker owns the
// transition, so the failure is dropped silently.
func (o *Orchestrator) fail(ctx context.Context, instance *models.SagaInstance, cause error) (*models.SagaInstance, error) {
	failedStep := instance.CurrentStep
	reason := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		reason = typed.Message()
	}
	instance.FailedStep = &failedStep
	instance.FailureReason = &reason
	instance.ReplyDeadline = nil

	hasSideEffects := instance.OrderID != nil || instance.CourierID != nil
	if hasSideEffects {
		instance.Status = enums.SagaCompensating
		err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if instance.CourierID != nil {
				if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventReleaseCourier,
					AggregateType: enums.AggregateSaga,
					AggregateID:   instance.ID,
					Topic:         o.courierTopic,
					SagaID:        &instance.ID,
					Data: ReleaseCourierCommand{
						OrderID:   *instance.OrderID,
						CourierID: *instance.CourierID,
					},
				}); err != nil {
					return err
				}
			}
			return o.repo.UpdateTx(tx, instance)
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				if o.logg != nil {
					o.logg.Warn(ctx, "saga failure lost race with another transition")
				}
				return instance, nil
			}
			return instance, err
		}

		if instance.OrderID != nil {
			if err := o.rejectOrderWithRetries(ctx, *instance.OrderID, reason); err != nil {
				instance.CompensationIncomplete = true
				o.metrics.IncCompensationIncomplete()
				if o.logg != nil {
					o.logg.Error(ctx, "saga compensation incomplete, manual reconciliation required", err)
				}
			}
		}
	}

	instance.Status = enums.SagaFailed
	if err := o.repo.Update(ctx, instance); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			if o.logg != nil {
				o.logg.Warn(ctx, "saga failure lost race with another transition")
			}
			return instance, nil
		}
		return instance, err
	}
	o.metrics.IncFailed(string(failedStep))
	if o.logg != nil {
		logCtx := o.logg.WithFields(ctx, map[string]any{
			"failed_step": failedStep,
			"reason":      reason,
		})
		o.logg.Warn(logCtx, "saga failed")
	}
	return instance, nil
}

// rejectOrderWithRetries is the compensation for a created order. An order
// already out of APPROVAL_PENDING counts as done.
func (o *Orchestrator) rejectOrderWithRetries(ctx context.Context, orderID uuid.UUID, reason string) error {
	var lastErr error
	for attempt := 0; attempt <= o.compensationRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, time.Duration(attempt)*250*time.Millisecond); err != nil {
				return err
			}
		}
		err := o.orders.Reject(ctx, orderID, reason)
		if err == nil {
			return nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			if o.logg != nil {
				o.logg.Warn(ctx, "order already left approval pending, skipping reject")
			}
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (o *Orchestrator) logCtx(ctx context.Context, instance *models.SagaInstance) context.Context {
	if o.logg == nil {
		return ctx
	}
	ctx = o.logg.WithSagaID(ctx, instance.ID.String())
	if instance.OrderID != nil {
		ctx = o.logg.WithOrderID(ctx, instance.OrderID.String())
	}
	return ctx
}
