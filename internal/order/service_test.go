package order

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/internal/eventstore"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubEventStore struct {
	rows     []models.Event
	appends  []eventstore.AppendParams
	appendFn func(params eventstore.AppendParams) error
}

func (s *stubEventStore) EventsTx(tx *gorm.DB, aggregateID uuid.UUID) ([]models.Event, error) {
	out := make([]models.Event, 0, len(s.rows))
	for _, row := range s.rows {
		if row.AggregateID == aggregateID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubEventStore) Append(ctx context.Context, tx *gorm.DB, params eventstore.AppendParams) ([]models.Event, error) {
	s.appends = append(s.appends, params)
	if s.appendFn != nil {
		if err := s.appendFn(params); err != nil {
			return nil, err
		}
	}
	rows := make([]models.Event, 0, len(params.Events))
	for i, event := range params.Events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, err
		}
		row := models.Event{
			AggregateID: params.AggregateID,
			EventType:   event.Type,
			Version:     params.ExpectedVersion + i + 1,
			Payload:     payload,
			OccurredAt:  time.Now(),
		}
		s.rows = append(s.rows, row)
		rows = append(rows, row)
	}
	return rows, nil
}

func newTestService(store *stubEventStore) *Service {
	svc := NewService(store, stubTxRunner{}, config.SagaConfig{ConflictRetries: 3}, nil)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func TestServiceCreateAppendsCreatedEvent(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	orderID, err := svc.Create(context.Background(), CreateInput{
		ConsumerID:      uuid.New(),
		RestaurantID:    uuid.New(),
		LineItems:       testLineItems(),
		DeliveryAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if orderID == uuid.Nil {
		t.Fatal("expected order id")
	}
	if len(store.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(store.appends))
	}
	params := store.appends[0]
	if params.ExpectedVersion != 0 {
		t.Fatalf("expected version = %d, want 0", params.ExpectedVersion)
	}
	if params.AggregateID != orderID {
		t.Fatalf("aggregate id mismatch")
	}
}

func TestServiceCreateValidationSkipsAppend(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateInput{
		ConsumerID:   uuid.New(),
		RestaurantID: uuid.New(),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if len(store.appends) != 0 {
		t.Fatalf("validation failure must not append")
	}
}

func TestServiceApproveRetriesConflict(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	orderID, err := svc.Create(context.Background(), CreateInput{
		ConsumerID:      uuid.New(),
		RestaurantID:    uuid.New(),
		LineItems:       testLineItems(),
		DeliveryAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failures := 2
	store.appendFn = func(params eventstore.AppendParams) error {
		if failures > 0 {
			failures--
			return pkgerrors.New(pkgerrors.CodeConflict, "concurrent append")
		}
		return nil
	}

	if err := svc.Approve(context.Background(), orderID, uuid.New()); err != nil {
		t.Fatalf("approve after retries: %v", err)
	}
	// 1 create + 2 conflicted approves + 1 successful approve
	if len(store.appends) != 4 {
		t.Fatalf("appends = %d, want 4", len(store.appends))
	}
}

func TestServiceApproveConflictExhaustion(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	orderID, err := svc.Create(context.Background(), CreateInput{
		ConsumerID:      uuid.New(),
		RestaurantID:    uuid.New(),
		LineItems:       testLineItems(),
		DeliveryAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.appendFn = func(params eventstore.AppendParams) error {
		return pkgerrors.New(pkgerrors.CodeConflict, "concurrent append")
	}

	err = svc.Approve(context.Background(), orderID, uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
}

func TestServiceCommandUnknownOrder(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	err := svc.Approve(context.Background(), uuid.New(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if len(store.appends) != 0 {
		t.Fatalf("missing order must not append")
	}
}

func TestServiceStateConflictDoesNotRetry(t *testing.T) {
	store := &stubEventStore{}
	svc := newTestService(store)

	orderID, err := svc.Create(context.Background(), CreateInput{
		ConsumerID:      uuid.New(),
		RestaurantID:    uuid.New(),
		LineItems:       testLineItems(),
		DeliveryAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Accept(context.Background(), orderID); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("err = %v, want STATE_CONFLICT", err)
	}
	// Only the create append: the state conflict fails once, no retries.
	if len(store.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(store.appends))
	}
}
