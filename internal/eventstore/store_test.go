package eventstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
)

func setupEventsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE events (
  id TEXT PRIMARY KEY,
  aggregate_id TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  event_type TEXT NOT NULL,
  version INTEGER NOT NULL,
  payload TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX ux_events_aggregate_version ON events(aggregate_id, version);`,
	).Error)
	return db
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func createdEvent() NewEvent {
	return NewEvent{
		Type:    enums.EventOrderCreated,
		Payload: map[string]string{"state": "APPROVAL_PENDING"},
	}
}

func approvedEvent() NewEvent {
	return NewEvent{
		Type:    enums.EventOrderApproved,
		Payload: map[string]string{"state": "APPROVED"},
	}
}

func TestAppendAssignsConsecutiveVersions(t *testing.T) {
	db := setupEventsTestDB(t)
	emitter := &recordingEmitter{}
	store := New(db, emitter, "mm-order-events", nil)
	aggregateID := uuid.New()

	rows, err := store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{createdEvent(), approvedEvent()},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Version)
	assert.Equal(t, 2, rows[1].Version)

	_, err = store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 2,
		Events:          []NewEvent{{Type: enums.EventOrderAccepted, Payload: map[string]string{}}},
	})
	require.NoError(t, err)

	history, err := store.Events(context.Background(), aggregateID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, row := range history {
		assert.Equal(t, i+1, row.Version)
	}

	current, err := store.CurrentVersion(context.Background(), aggregateID)
	require.NoError(t, err)
	assert.Equal(t, 3, current)

	tail, err := store.EventsAfterVersion(context.Background(), aggregateID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 2, tail[0].Version)
	assert.Equal(t, 3, tail[1].Version)

	// One staged delivery per appended event, on the store's topic.
	require.Len(t, emitter.events, 3)
	for _, event := range emitter.events {
		assert.Equal(t, "mm-order-events", event.Topic)
		assert.Equal(t, aggregateID, event.AggregateID)
	}
}

func TestAppendStaleVersionWritesNothing(t *testing.T) {
	db := setupEventsTestDB(t)
	store := New(db, nil, "mm-order-events", nil)
	aggregateID := uuid.New()

	_, err := store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{createdEvent()},
	})
	require.NoError(t, err)

	_, err = store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{approvedEvent()},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "err = %v, want CONFLICT", err)

	// Read after the failed attempt: the history is untouched.
	history, err := store.Events(context.Background(), aggregateID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, enums.EventOrderCreated, history[0].EventType)
}

func TestRacingAppendsCannotInterleave(t *testing.T) {
	db := setupEventsTestDB(t)
	store := New(db, nil, "mm-order-events", nil)
	aggregateID := uuid.New()

	// Two writers reconstitute the same aggregate at version 0; only the
	// first append lands.
	_, err := store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{createdEvent()},
	})
	require.NoError(t, err)

	_, err = store.Append(context.Background(), db, AppendParams{
		AggregateID:     aggregateID,
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{createdEvent()},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "err = %v, want CONFLICT", err)

	// The unique index backstops the version check: a duplicate
	// (aggregate_id, version) row cannot exist even via a raw insert.
	dup := models.Event{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: enums.AggregateOrder,
		EventType:     enums.EventOrderApproved,
		Version:       1,
		Payload:       []byte(`{}`),
	}
	require.Error(t, db.Create(&dup).Error)

	var count int64
	require.NoError(t, db.Model(&models.Event{}).Where("aggregate_id = ?", aggregateID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendRequiresTransactionAndEvents(t *testing.T) {
	db := setupEventsTestDB(t)
	store := New(db, nil, "mm-order-events", nil)

	_, err := store.Append(context.Background(), nil, AppendParams{
		AggregateID:     uuid.New(),
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
		Events:          []NewEvent{createdEvent()},
	})
	require.Error(t, err)

	_, err = store.Append(context.Background(), db, AppendParams{
		AggregateID:     uuid.New(),
		AggregateType:   enums.AggregateOrder,
		ExpectedVersion: 0,
	})
	require.Error(t, err)
}
