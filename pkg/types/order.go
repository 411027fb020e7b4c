package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItem is one menu item on an order.
type LineItem struct {
	MenuItemID uuid.UUID       `json:"menuItemId" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Quantity   int             `json:"quantity" validate:"required,min=1"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

// Total returns quantity * unit price.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// OrderTotal sums the line item totals.
func OrderTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// Address is a delivery address.
type Address struct {
	Street1 string `json:"street1" validate:"required"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
}

// SuccessEnvelope wraps successful API responses.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps API error responses.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// APIError is the public error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
