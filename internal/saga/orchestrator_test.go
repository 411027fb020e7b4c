package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/internal/collab"
	"github.com/mealmesh/ordering-backend/internal/order"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubInstanceRepo struct {
	instances map[uuid.UUID]*models.SagaInstance
}

func newStubInstanceRepo() *stubInstanceRepo {
	return &stubInstanceRepo{instances: map[uuid.UUID]*models.SagaInstance{}}
}

func (r *stubInstanceRepo) Create(ctx context.Context, instance *models.SagaInstance) error {
	instance.Version = 1
	copied := *instance
	r.instances[instance.ID] = &copied
	return nil
}

func (r *stubInstanceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.SagaInstance, error) {
	stored, ok := r.instances[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "saga not found")
	}
	copied := *stored
	return &copied, nil
}

func (r *stubInstanceRepo) Update(ctx context.Context, instance *models.SagaInstance) error {
	stored, ok := r.instances[instance.ID]
	if !ok || stored.Version != instance.Version {
		return pkgerrors.New(pkgerrors.CodeConflict, "saga instance modified concurrently")
	}
	instance.Version++
	copied := *instance
	r.instances[instance.ID] = &copied
	return nil
}

func (r *stubInstanceRepo) UpdateTx(tx *gorm.DB, instance *models.SagaInstance) error {
	return r.Update(context.Background(), instance)
}

func (r *stubInstanceRepo) ListExpiredAwaitingReply(ctx context.Context, now time.Time, limit int) ([]models.SagaInstance, error) {
	var out []models.SagaInstance
	for _, instance := range r.instances {
		if instance.Status == enums.SagaAwaitingReply && instance.ReplyDeadline != nil && instance.ReplyDeadline.Before(now) {
			out = append(out, *instance)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type stubConsumers struct {
	err   error
	calls int
}

func (s *stubConsumers) ValidateOrder(ctx context.Context, consumerID uuid.UUID, orderTotal decimal.Decimal) error {
	s.calls++
	return s.err
}

type stubRestaurants struct {
	restaurant *collab.Restaurant
	err        error
}

func (s *stubRestaurants) GetRestaurant(ctx context.Context, restaurantID uuid.UUID) (*collab.Restaurant, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.restaurant, nil
}

type stubOrders struct {
	createErr  error
	approveErr error
	rejectErr  error

	created  []order.CreateInput
	approves []uuid.UUID
	rejects  []uuid.UUID
	orderID  uuid.UUID
}

func (s *stubOrders) Create(ctx context.Context, input order.CreateInput) (uuid.UUID, error) {
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	if s.orderID == uuid.Nil {
		s.orderID = uuid.New()
	}
	s.created = append(s.created, input)
	return s.orderID, nil
}

func (s *stubOrders) Approve(ctx context.Context, orderID, courierID uuid.UUID) error {
	if s.approveErr != nil {
		return s.approveErr
	}
	s.approves = append(s.approves, orderID)
	return nil
}

func (s *stubOrders) Reject(ctx context.Context, orderID uuid.UUID, reason string) error {
	if s.rejectErr != nil {
		return s.rejectErr
	}
	s.rejects = append(s.rejects, orderID)
	return nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fixture struct {
	repo        *stubInstanceRepo
	consumers   *stubConsumers
	restaurants *stubRestaurants
	orders      *stubOrders
	emitter     *stubEmitter
	orch        *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newStubInstanceRepo(),
		consumers: &stubConsumers{},
		restaurants: &stubRestaurants{
			restaurant: &collab.Restaurant{
				ID:           uuid.New(),
				Name:         "Siam Garden",
				Open:         true,
				OrderMinimum: decimal.NewFromInt(10),
			},
		},
		orders:  &stubOrders{},
		emitter: &stubEmitter{},
	}
	f.orch = NewOrchestrator(
		f.repo, stubTxRunner{}, f.consumers, f.restaurants, f.orders, f.emitter,
		"mm-courier-commands",
		config.SagaConfig{
			StepTimeout:         time.Second,
			ReplyTimeout:        2 * time.Minute,
			CompensationRetries: 2,
			ConflictRetries:     2,
		},
		nil, nil,
	)
	f.orch.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func startInput() StartInput {
	return StartInput{
		ConsumerID:   uuid.New(),
		RestaurantID: uuid.New(),
		LineItems: []types.LineItem{{
			MenuItemID: uuid.New(),
			Name:       "Green Curry",
			Quantity:   2,
			UnitPrice:  decimal.NewFromFloat(14.00),
		}},
		DeliveryAddress: types.Address{Street1: "1 Main St", City: "Oakland", State: "CA", Zip: "94607"},
	}
}

func TestStartParksSagaAwaitingCourier(t *testing.T) {
	f := newFixture()

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if instance.Status != enums.SagaAwaitingReply {
		t.Fatalf("status = %s, want AWAITING_REPLY", instance.Status)
	}
	if instance.CurrentStep != enums.StepAssignCourier {
		t.Fatalf("step = %s, want ASSIGN_COURIER", instance.CurrentStep)
	}
	if instance.OrderID == nil {
		t.Fatal("order id not recorded")
	}
	if instance.ReplyDeadline == nil {
		t.Fatal("reply deadline not set")
	}
	if len(f.orders.created) != 1 {
		t.Fatalf("orders created = %d, want 1", len(f.orders.created))
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("emitted events = %d, want 1", len(f.emitter.events))
	}
	command := f.emitter.events[0]
	if command.EventType != enums.EventAssignCourier {
		t.Fatalf("event type = %s, want assign_courier", command.EventType)
	}
	if command.SagaID == nil || *command.SagaID != instance.ID {
		t.Fatal("assign command not keyed by saga id")
	}
	if !instance.OrderTotal.Equal(decimal.NewFromInt(28)) {
		t.Fatalf("order total = %s, want 28", instance.OrderTotal)
	}
}

func TestCourierAssignedCompletesSaga(t *testing.T) {
	f := newFixture()
	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	courierID := uuid.New()
	err = f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, CourierReply{
		SagaID:    instance.ID,
		OrderID:   *instance.OrderID,
		CourierID: &courierID,
	})
	if err != nil {
		t.Fatalf("handle reply: %v", err)
	}

	final, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != enums.SagaCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	if final.CourierID == nil || *final.CourierID != courierID {
		t.Fatal("courier id not recorded")
	}
	if len(f.orders.approves) != 1 {
		t.Fatalf("approvals = %d, want 1", len(f.orders.approves))
	}
	if len(f.orders.rejects) != 0 {
		t.Fatal("completed saga must not reject the order")
	}
}

func TestConsumerRejectionFailsWithoutSideEffects(t *testing.T) {
	f := newFixture()
	f.consumers.err = pkgerrors.New(pkgerrors.CodeValidation, "credit limit exceeded")

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if instance.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", instance.Status)
	}
	if instance.FailedStep == nil || *instance.FailedStep != enums.StepValidateConsumer {
		t.Fatalf("failed step = %v, want VALIDATE_CONSUMER", instance.FailedStep)
	}
	if instance.FailureReason == nil || *instance.FailureReason != "credit limit exceeded" {
		t.Fatalf("failure reason = %v", instance.FailureReason)
	}
	if len(f.orders.created) != 0 || len(f.orders.rejects) != 0 || len(f.emitter.events) != 0 {
		t.Fatal("validation failure must not produce side effects")
	}
}

func TestUnknownRestaurantFailsSaga(t *testing.T) {
	f := newFixture()
	f.restaurants.err = pkgerrors.New(pkgerrors.CodeNotFound, "restaurant not found")

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if instance.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", instance.Status)
	}
	if instance.FailedStep == nil || *instance.FailedStep != enums.StepValidateRestaurant {
		t.Fatalf("failed step = %v, want VALIDATE_RESTAURANT", instance.FailedStep)
	}
	if len(f.orders.created) != 0 {
		t.Fatal("no order may exist for an unknown restaurant")
	}
}

func TestClosedRestaurantFailsSaga(t *testing.T) {
	f := newFixture()
	f.restaurants.restaurant.Open = false

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if instance.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", instance.Status)
	}
}

func TestCourierAssignmentFailedCompensates(t *testing.T) {
	f := newFixture()
	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	err = f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssignmentFailed, CourierReply{
		SagaID:  instance.ID,
		OrderID: *instance.OrderID,
		Reason:  "no couriers in range",
	})
	if err != nil {
		t.Fatalf("handle reply: %v", err)
	}

	final, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.FailedStep == nil || *final.FailedStep != enums.StepAssignCourier {
		t.Fatalf("failed step = %v, want ASSIGN_COURIER", final.FailedStep)
	}
	if len(f.orders.rejects) != 1 {
		t.Fatalf("rejects = %d, want 1", len(f.orders.rejects))
	}
	// Only the assign command: no courier was ever assigned to release.
	if len(f.emitter.events) != 1 {
		t.Fatalf("emitted events = %d, want 1", len(f.emitter.events))
	}
	if final.CompensationIncomplete {
		t.Fatal("compensation completed, flag must stay false")
	}
}

func TestApproveFailureReleasesCourier(t *testing.T) {
	f := newFixture()
	f.orders.approveErr = pkgerrors.New(pkgerrors.CodeDependency, "event store unavailable")

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	courierID := uuid.New()
	err = f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, CourierReply{
		SagaID:    instance.ID,
		OrderID:   *instance.OrderID,
		CourierID: &courierID,
	})
	if err != nil {
		t.Fatalf("handle reply: %v", err)
	}

	final, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.FailedStep == nil || *final.FailedStep != enums.StepApproveOrder {
		t.Fatalf("failed step = %v, want APPROVE_ORDER", final.FailedStep)
	}
	var sawRelease bool
	for _, event := range f.emitter.events {
		if event.EventType == enums.EventReleaseCourier {
			sawRelease = true
		}
	}
	if !sawRelease {
		t.Fatal("expected release_courier command during compensation")
	}
	if len(f.orders.rejects) != 1 {
		t.Fatalf("rejects = %d, want 1", len(f.orders.rejects))
	}
}

func TestCompensationExhaustionSetsIncompleteFlag(t *testing.T) {
	f := newFixture()
	f.orders.rejectErr = pkgerrors.New(pkgerrors.CodeDependency, "event store unavailable")

	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	err = f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssignmentFailed, CourierReply{
		SagaID:  instance.ID,
		OrderID: *instance.OrderID,
		Reason:  "no couriers in range",
	})
	if err != nil {
		t.Fatalf("handle reply: %v", err)
	}

	final, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if !final.CompensationIncomplete {
		t.Fatal("exhausted compensation must set the incomplete flag")
	}
}

func TestExpireAwaitingRepliesTimesOutSaga(t *testing.T) {
	f := newFixture()
	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.orch.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	expired, err := f.orch.ExpireAwaitingReplies(context.Background(), 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	final, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != enums.SagaFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if len(f.orders.rejects) != 1 {
		t.Fatalf("rejects = %d, want 1", len(f.orders.rejects))
	}

	// The straggler reply arrives after the sweep: it must be dropped.
	courierID := uuid.New()
	err = f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, CourierReply{
		SagaID:    instance.ID,
		OrderID:   *instance.OrderID,
		CourierID: &courierID,
	})
	if err != nil {
		t.Fatalf("late reply: %v", err)
	}
	if len(f.orders.approves) != 0 {
		t.Fatal("late reply must not approve the order")
	}
}

func TestDuplicateReplyIsIgnored(t *testing.T) {
	f := newFixture()
	instance, err := f.orch.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	courierID := uuid.New()
	reply := CourierReply{SagaID: instance.ID, OrderID: *instance.OrderID, CourierID: &courierID}

	if err := f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, reply); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if err := f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, reply); err != nil {
		t.Fatalf("duplicate reply: %v", err)
	}
	if len(f.orders.approves) != 1 {
		t.Fatalf("approvals = %d, want exactly 1", len(f.orders.approves))
	}
}

func TestReplyForUnknownSagaIsDropped(t *testing.T) {
	f := newFixture()
	err := f.orch.HandleCourierReply(context.Background(), enums.ReplyCourierAssigned, CourierReply{
		SagaID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("unknown saga reply: %v", err)
	}
}

func TestCourierRequestFailureLeavesSagaInProgress(t *testing.T) {
	f := newFixture()
	f.emitter.err = pkgerrors.New(pkgerrors.CodeDependency, "outbox unavailable")

	instance, err := f.orch.Start(context.Background(), startInput())
	if err == nil {
		t.Fatal("expected emit failure to surface")
	}
	if instance.Status != enums.SagaInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", instance.Status)
	}
	if instance.ReplyDeadline != nil {
		t.Fatal("reply deadline must not be set when the command was never staged")
	}

	stored, err := f.orch.Status(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if stored.Status != enums.SagaInProgress {
		t.Fatalf("stored status = %s, want IN_PROGRESS", stored.Status)
	}
	if instance.Version != stored.Version {
		t.Fatalf("returned version %d diverges from stored %d", instance.Version, stored.Version)
	}
}

func TestStartValidatesInput(t *testing.T) {
	f := newFixture()
	_, err := f.orch.Start(context.Background(), StartInput{
		ConsumerID:   uuid.New(),
		RestaurantID: uuid.New(),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}
