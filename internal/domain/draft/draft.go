package draft

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for draft persistence.
var (
	// ErrDuplicateRef is returned when a draft already exists for the
	// external reference. Callers should treat this as "already initiated"
	// rather than a failure.
	ErrDuplicateRef = errors.New("draft already exists for external reference")

	// ErrNotFound is returned when no draft matches the external reference.
	ErrNotFound = errors.New("draft not found")
)

// Status is the lifecycle state of a draft. Completed and Failed are
// terminal: once a draft reaches either, it never transitions again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Draft represents one payment attempt before an order exists. It is keyed
// by the payment processor's external reference; at most one draft exists
// per reference.
type Draft struct {
	ID          string
	ExternalRef string
	Status      Status
	Provider    string
	Amount      decimal.Decimal
	Currency    string

	// Payload is the order-to-be (line items, fulfillment, notes). It is
	// opaque to the settlement core and materialized verbatim onto the
	// order at settlement time.
	Payload json.RawMessage

	// OrderID is set exactly once, when the draft completes.
	OrderID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams holds the input for creating a draft.
type CreateParams struct {
	ExternalRef string
	Provider    string
	Amount      decimal.Decimal
	Currency    string
	Payload     json.RawMessage
}

// Repository defines persistence operations for drafts outside the
// settlement transaction. Transitions to terminal states happen only inside
// the settlement transaction (see the settlement package).
type Repository interface {
	// Create persists a new pending draft. Returns ErrDuplicateRef when a
	// draft for the same external reference already exists.
	Create(ctx context.Context, p CreateParams) (*Draft, error)

	// FindByExternalRef returns the draft for the given external reference,
	// or ErrNotFound.
	FindByExternalRef(ctx context.Context, externalRef string) (*Draft, error)
}
