// Package settlement implements the atomic transaction that turns a payment
// processor confirmation into a durable order, exactly once per external
// reference.
//
// All coordination is delegated to the store: every call to Settle runs as a
// single transactional unit in which the draft row is read under an exclusive
// lock, the idempotency check is resolved, and any order creation and draft
// transition commit together. Two concurrent settles for the same external
// reference serialize on that lock; settles for different references do not
// contend.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/draft"
	"github.com/xenking/oolio-pay-core/internal/domain/order"
)

// ErrDraftNotFound is returned when settlement is invoked for an external
// reference with no draft. Gateways may acknowledge anyway: the confirmation
// can belong to a flow this core does not own.
var ErrDraftNotFound = errors.New("no draft for external reference")

// Outcome is the payment processor's verdict for an attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Result describes the effect of one Settle call.
type Result struct {
	// OrderID is set when the draft is (or already was) completed.
	OrderID string

	// Status is the draft's status after the call.
	Status draft.Status

	// Replayed is true when the call observed an already-terminal draft and
	// applied no effect.
	Replayed bool
}

// Tx is the set of store operations available inside one settlement
// transaction. Implementations must make all writes commit or abort as one
// unit with the surrounding transaction.
type Tx interface {
	// DraftForUpdate reads the draft for externalRef under an exclusive
	// lock, or returns draft.ErrNotFound. Concurrent transactions on the
	// same reference block here until the holder commits.
	DraftForUpdate(ctx context.Context, externalRef string) (*draft.Draft, error)

	// InsertOrder persists a new order.
	InsertOrder(ctx context.Context, o *order.Order) error

	// CompleteDraft transitions the draft to completed with the given order ID.
	CompleteDraft(ctx context.Context, draftID, orderID string) error

	// FailDraft transitions the draft to failed.
	FailDraft(ctx context.Context, draftID string) error
}

// Store runs a function inside one atomic transaction. If fn returns an
// error the transaction is rolled back and the error is returned; commit
// errors are returned as-is and the whole operation is safe to retry from
// the top.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Service executes settlement transactions.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a settlement Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// Settle applies a payment outcome to the draft identified by externalRef.
//
// Replays are side-effect free: a draft that is already terminal keeps its
// state and, when completed, its original order ID is returned. First
// terminal state wins — a success confirmation arriving after a recorded
// failure does not resurrect the draft.
func (s *Service) Settle(ctx context.Context, externalRef string, outcome Outcome) (*Result, error) {
	if !outcome.Valid() {
		return nil, errors.Errorf("unknown outcome %q", outcome)
	}

	var res Result
	err := s.store.InTx(ctx, func(tx Tx) error {
		d, err := tx.DraftForUpdate(ctx, externalRef)
		if err != nil {
			if errors.Is(err, draft.ErrNotFound) {
				return ErrDraftNotFound
			}
			return errors.Wrap(err, "read draft")
		}

		// Terminal drafts are never touched again. Returning the recorded
		// state here, inside the same locked read, is the idempotency
		// guarantee: a replayed confirmation observes exactly the first
		// application's result.
		if d.Status.Terminal() {
			res = Result{OrderID: d.OrderID, Status: d.Status, Replayed: true}
			zctx.From(ctx).Info("settlement replay ignored",
				zap.String("external_ref", externalRef),
				zap.String("status", string(d.Status)),
				zap.String("outcome", string(outcome)),
			)
			return nil
		}

		if outcome == OutcomeFailed {
			if err := tx.FailDraft(ctx, d.ID); err != nil {
				return errors.Wrap(err, "fail draft")
			}
			res = Result{Status: draft.StatusFailed}
			return nil
		}

		now := s.now().UTC()
		o := &order.Order{
			ID:      uuid.New().String(),
			Payload: d.Payload,
			Payment: order.Payment{
				Provider:    d.Provider,
				Status:      string(OutcomeSucceeded),
				Amount:      d.Amount,
				Currency:    d.Currency,
				ExternalRef: d.ExternalRef,
				CreatedAt:   now,
			},
			CreatedAt: now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.CompleteDraft(ctx, d.ID, o.ID); err != nil {
			return errors.Wrap(err, "complete draft")
		}

		res = Result{OrderID: o.ID, Status: draft.StatusCompleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
