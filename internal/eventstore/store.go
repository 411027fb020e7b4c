package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
)

const versionConstraint = "ux_events_aggregate_version"

// Emitter stages broker deliveries inside the append transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Projection consumes appended events inside the same transaction, so the
// read model commits or rolls back with the event rows.
type Projection interface {
	ApplyEvent(ctx context.Context, tx *gorm.DB, row models.Event) error
}

// NewEvent is one event to append. OccurredAt defaults to now.
type NewEvent struct {
	Type       enums.EventType
	Payload    any
	OccurredAt time.Time
}

// AppendParams describe one atomic append to a single aggregate's history.
type AppendParams struct {
	AggregateID     uuid.UUID
	AggregateType   enums.AggregateType
	ExpectedVersion int
	Events          []NewEvent
}

// Store is the append-only event log. Appends check expected version twice:
// once by query and again through the unique (aggregate_id, version)
// constraint, so concurrent writers can never interleave histories.
type Store struct {
	conn        *gorm.DB
	emitter     Emitter
	projections []Projection
	topic       string
	logg        *logger.Logger
}

// New builds a store that fans appended events out to topic.
func New(conn *gorm.DB, emitter Emitter, topic string, logg *logger.Logger) *Store {
	return &Store{conn: conn, emitter: emitter, topic: topic, logg: logg}
}

// Register attaches a projection. Registration order is apply order.
func (s *Store) Register(p Projection) {
	if p != nil {
		s.projections = append(s.projections, p)
	}
}

// Append writes events with consecutive versions starting after
// ExpectedVersion, stages one outbox row per event, and drives the
// registered projections. A stale ExpectedVersion returns CONFLICT with
// zero writes; the caller's transaction decides atomicity.
func (s *Store) Append(ctx context.Context, tx *gorm.DB, params AppendParams) ([]models.Event, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if len(params.Events) == 0 {
		return nil, errors.New("append requires at least one event")
	}

	current, err := currentVersion(tx, params.AggregateID)
	if err != nil {
		return nil, err
	}
	if current != params.ExpectedVersion {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("aggregate %s is at version %d, expected %d", params.AggregateID, current, params.ExpectedVersion))
	}

	rows := make([]models.Event, 0, len(params.Events))
	for i, event := range params.Events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event.Type, err)
		}
		occurredAt := event.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		rows = append(rows, models.Event{
			ID:            uuid.New(),
			AggregateID:   params.AggregateID,
			AggregateType: params.AggregateType,
			EventType:     event.Type,
			Version:       params.ExpectedVersion + i + 1,
			Payload:       payload,
			OccurredAt:    occurredAt,
		})
	}

	if err := tx.Create(&rows).Error; err != nil {
		if db.IsUniqueViolation(err, versionConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err,
				fmt.Sprintf("concurrent append on aggregate %s", params.AggregateID))
		}
		return nil, err
	}

	for _, row := range rows {
		if s.emitter != nil {
			emit := outbox.DomainEvent{
				EventType:     row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Topic:         s.topic,
				Data:          json.RawMessage(row.Payload),
				Version:       row.Version,
				OccurredAt:    row.OccurredAt,
			}
			if err := s.emitter.Emit(ctx, tx, emit); err != nil {
				return nil, err
			}
		}
		for _, projection := range s.projections {
			if err := projection.ApplyEvent(ctx, tx, row); err != nil {
				return nil, err
			}
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"aggregate_id": params.AggregateID.String(),
			"from_version": params.ExpectedVersion,
			"events":       len(rows),
		})
		s.logg.Info(logCtx, "events appended")
	}
	return rows, nil
}

// Events returns the full ordered history for one aggregate.
func (s *Store) Events(ctx context.Context, aggregateID uuid.UUID) ([]models.Event, error) {
	return loadEvents(s.conn.WithContext(ctx), aggregateID, 0)
}

// EventsTx reads the history inside an open transaction, so a command sees
// every event it races against within its own isolation level.
func (s *Store) EventsTx(tx *gorm.DB, aggregateID uuid.UUID) ([]models.Event, error) {
	return loadEvents(tx, aggregateID, 0)
}

// EventsAfterVersion returns history strictly after the given version.
func (s *Store) EventsAfterVersion(ctx context.Context, aggregateID uuid.UUID, version int) ([]models.Event, error) {
	return loadEvents(s.conn.WithContext(ctx), aggregateID, version)
}

// CurrentVersion returns the highest stored version, zero when unseen.
func (s *Store) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	return currentVersion(s.conn.WithContext(ctx), aggregateID)
}

func loadEvents(conn *gorm.DB, aggregateID uuid.UUID, afterVersion int) ([]models.Event, error) {
	var rows []models.Event
	err := conn.
		Where("aggregate_id = ? AND version > ?", aggregateID, afterVersion).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func currentVersion(conn *gorm.DB, aggregateID uuid.UUID) (int, error) {
	var version int
	err := conn.
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}
