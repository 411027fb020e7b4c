package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
)

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakePubSub struct{}

func (fakePubSub) Ping(context.Context) error                { return nil }
func (fakePubSub) Publisher(string) *gcppubsub.Publisher     { return nil }

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	claimer   string
}

func (r *fakeRepo) ClaimUnpublished(tx *gorm.DB, claimer string, limit, maxAttempts int, claimWindow time.Duration) ([]models.OutboxEvent, error) {
	r.claimer = claimer
	if len(r.events) > limit {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	r.failed = append(r.failed, id)
	return nil
}

func (r *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	r.terminal = append(r.terminal, id)
	return nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (r *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	r.entries = append(r.entries, entry)
	return nil
}

type fakePublishResult struct {
	err error
}

func (r fakePublishResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if len(p.results) == 0 {
		return fakePublishResult{}
	}
	next := p.results[0]
	p.results = p.results[1:]
	return next
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(t *testing.T, repo *fakeRepo, pub *fakePublisher, dlq *fakeDLQRepo) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	cfg.Outbox.PollIntervalMS = 10
	cfg.Outbox.ClaimWindow = time.Minute

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "outbox-test", Output: discardWriter{}}),
		DB:            fakeDB{},
		PubSub:        fakePubSub{},
		Repository:    repo,
		DLQRepository: dlq,
		Claimer:       "test-claimer",
		PublisherFactory: func(topic string) publisher {
			return pub
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func envelopePayload(t *testing.T, sagaID *uuid.UUID) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		SagaID:     sagaID,
		Data:       json.RawMessage(`{"orderId":"` + uuid.NewString() + `"}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func stagedEvent(t *testing.T, eventType enums.EventType, sagaID *uuid.UUID) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Topic:         "mm-order-events",
		PartitionKey:  uuid.NewString(),
		Payload:       envelopePayload(t, sagaID),
		CreatedAt:     time.Now().UTC(),
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			stagedEvent(t, enums.EventOrderCreated, nil),
			stagedEvent(t, enums.EventOrderApproved, nil),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, dlq)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
	if repo.claimer != "test-claimer" {
		t.Fatalf("claimer = %q", repo.claimer)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("no rows should dead-letter on a first failure")
	}
}

func TestProcessBatchSetsMessageAttributes(t *testing.T) {
	sagaID := uuid.New()
	event := stagedEvent(t, enums.EventAssignCourier, &sagaID)
	event.Topic = "mm-courier-commands"
	event.PartitionKey = sagaID.String()
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, &fakeDLQRepo{})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["event_type"] != string(enums.EventAssignCourier) {
		t.Fatalf("event_type attribute = %q", msg.Attributes["event_type"])
	}
	if msg.Attributes["saga_id"] != sagaID.String() {
		t.Fatalf("saga_id attribute = %q", msg.Attributes["saga_id"])
	}
	if msg.Attributes["event_id"] == "" {
		t.Fatalf("event_id attribute missing")
	}
	if msg.OrderingKey != sagaID.String() {
		t.Fatalf("ordering key = %q, want saga id", msg.OrderingKey)
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatalf("message data must be the raw envelope payload")
	}
}

func TestProcessBatchDeadLettersUndecodablePayload(t *testing.T) {
	event := stagedEvent(t, enums.EventOrderCreated, nil)
	event.Payload = json.RawMessage(`{not json`)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, dlq)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlq.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("terminal rows = %+v", repo.terminal)
	}
}

func TestProcessBatchDeadLettersOnMaxAttempts(t *testing.T) {
	event := stagedEvent(t, enums.EventOrderCreated, nil)
	event.AttemptCount = 2
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("broker down")}}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, dlq)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if got := len(dlq.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("row at the attempt ceiling must go terminal, not failed")
	}
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	service := newTestService(t, repo, &fakePublisher{}, &fakeDLQRepo{})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatalf("empty queue must not report processed")
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	b := nextBackoff(base, base, maxBackoff)
	if b != time.Second {
		t.Fatalf("backoff = %s, want 1s", b)
	}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b, base, maxBackoff)
	}
	if b != maxBackoff {
		t.Fatalf("backoff = %s, want cap %s", b, maxBackoff)
	}
}
