// Package collab holds HTTP clients for the collaborating services the
// order-creation saga validates against. Both clients sit behind circuit
// breakers so a dead collaborator fails fast instead of pinning saga
// goroutines on timeouts.
package collab

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Consumer is the consumer-service representation the saga cares about.
type Consumer struct {
	ID       uuid.UUID `json:"id"`
	Standing string    `json:"standing"`
}

// Restaurant is the restaurant-service representation the saga cares about.
type Restaurant struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Open         bool            `json:"open"`
	OrderMinimum decimal.Decimal `json:"orderMinimum"`
}
