package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
)

// Settings configure one collaborator breaker.
type Settings struct {
	Name     string
	MaxFails int
	OpenFor  time.Duration
}

// Breaker guards calls to one collaborator. An open breaker fails fast with a
// DEPENDENCY_ERROR instead of blocking the saga's executing task.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	logg *logger.Logger
}

// New builds a breaker that opens after MaxFails consecutive failures and
// stays open for OpenFor before probing again.
func New(settings Settings, logg *logger.Logger) *Breaker {
	maxFails := settings.MaxFails
	if maxFails <= 0 {
		maxFails = 5
	}
	openFor := settings.OpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    settings.Name,
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state changed")
		},
	})
	return &Breaker{cb: cb, logg: logg}
}

// Do executes fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, b.cb.Name()+" circuit open")
	}
	return err
}
