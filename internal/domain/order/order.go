package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Payment holds the settled payment details recorded on an order.
type Payment struct {
	Provider    string
	Status      string
	Amount      decimal.Decimal
	Currency    string
	ExternalRef string
	CreatedAt   time.Time
}

// Invoice holds the issued document number for an order. All fields are
// empty until invoice issuance runs; once set they never change.
type Invoice struct {
	Number   string
	Series   string
	IssuedAt time.Time
}

// Issued reports whether an invoice number has been assigned.
func (i Invoice) Issued() bool {
	return i.Number != ""
}

// Order is the durable, user-visible record produced by exactly one
// settlement of a draft. Payload carries the materialized order contents
// (line items, fulfillment, notes) from the draft.
type Order struct {
	ID        string
	Payload   json.RawMessage
	Payment   Payment
	Invoice   Invoice
	CreatedAt time.Time
}

// Repository defines read operations for orders. Order creation happens
// only inside the settlement transaction; invoice fields are written only
// inside the issuance transaction.
type Repository interface {
	// GetByID returns the order with the given ID, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Order, error)
}
