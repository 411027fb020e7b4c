// Package courier implements the fleet-side worker: it consumes assign and
// release commands from the saga and answers on the reply topic.
package courier

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/internal/saga"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
)

// Fleet decides which courier takes an order.
type Fleet interface {
	Assign(ctx context.Context, command saga.AssignCourierCommand) (uuid.UUID, error)
	Release(ctx context.Context, courierID uuid.UUID) error
}

// StaticFleet hands out couriers from a fixed pool, round robin, and tracks
// outstanding assignments so a fully booked pool rejects new orders.
type StaticFleet struct {
	mu       sync.Mutex
	couriers []uuid.UUID
	next     int
	busy     map[uuid.UUID]bool
}

// NewStaticFleet builds a fleet over the given courier ids.
func NewStaticFleet(couriers []uuid.UUID) *StaticFleet {
	pool := make([]uuid.UUID, len(couriers))
	copy(pool, couriers)
	return &StaticFleet{
		couriers: pool,
		busy:     make(map[uuid.UUID]bool, len(pool)),
	}
}

// Assign picks the next free courier.
func (f *StaticFleet) Assign(ctx context.Context, command saga.AssignCourierCommand) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range f.couriers {
		candidate := f.couriers[f.next%len(f.couriers)]
		f.next++
		if !f.busy[candidate] {
			f.busy[candidate] = true
			return candidate, nil
		}
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeDependency, "no couriers available")
}

// Release frees a courier after delivery or compensation.
func (f *StaticFleet) Release(ctx context.Context, courierID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.busy, courierID)
	return nil
}
