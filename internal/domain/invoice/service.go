package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/order"
)

// ErrNumberingDisabled is returned when issuance is requested while invoice
// numbering is turned off in the configuration.
var ErrNumberingDisabled = errors.New("invoice numbering is disabled")

// Issued describes the invoice assigned to an order.
type Issued struct {
	Number   string
	Series   string
	IssuedAt time.Time

	// Replayed is true when the order already carried an invoice and no new
	// sequence value was allocated.
	Replayed bool
}

// Tx is the set of store operations available inside one issuance
// transaction. The sequence allocation and the order update must commit or
// abort together.
type Tx interface {
	// OrderForUpdate reads the order under an exclusive lock, or returns
	// order.ErrNotFound.
	OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error)

	// NextSequence atomically increments the counter for (name, periodKey)
	// and returns the value before the increment, starting at 1 for a key
	// never seen before. Different period keys do not contend.
	NextSequence(ctx context.Context, name, periodKey string) (int64, error)

	// SetInvoice writes the issued invoice fields onto the order.
	SetInvoice(ctx context.Context, orderID string, inv order.Invoice) error
}

// Store runs a function inside one atomic transaction, with the same
// semantics as settlement.Store.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Service issues invoice numbers for settled orders.
type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewService creates an issuance Service with the given numbering
// configuration.
func NewService(store Store, cfg Config) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Issue assigns an invoice number to the order, exactly once. A second call
// for the same order returns the stored number unchanged; the row lock in
// OrderForUpdate guarantees that two concurrent calls allocate at most one
// sequence value.
//
// A sequence value consumed by a transaction that later aborts is lost, so
// numbers may have gaps after failures; they never repeat.
func (s *Service) Issue(ctx context.Context, orderID string) (*Issued, error) {
	var res Issued
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "read order")
		}

		if o.Invoice.Issued() {
			res = Issued{
				Number:   o.Invoice.Number,
				Series:   o.Invoice.Series,
				IssuedAt: o.Invoice.IssuedAt,
				Replayed: true,
			}
			return nil
		}

		if !s.cfg.Enabled {
			return ErrNumberingDisabled
		}

		now := s.now().UTC()
		periodKey := s.cfg.ResetPolicy.PeriodKey(now)

		n, err := tx.NextSequence(ctx, CounterName, periodKey)
		if err != nil {
			return errors.Wrap(err, "allocate sequence")
		}

		inv := order.Invoice{
			Number:   Compose(s.cfg, n),
			Series:   s.cfg.Series,
			IssuedAt: now,
		}
		if err := tx.SetInvoice(ctx, o.ID, inv); err != nil {
			return errors.Wrap(err, "write invoice")
		}

		zctx.From(ctx).Info("invoice issued",
			zap.String("order_id", o.ID),
			zap.String("invoice_number", inv.Number),
			zap.String("period_key", periodKey),
		)
		res = Issued{Number: inv.Number, Series: inv.Series, IssuedAt: inv.IssuedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
