package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-pay-core/internal/domain/draft"
	"github.com/xenking/oolio-pay-core/internal/domain/invoice"
	"github.com/xenking/oolio-pay-core/internal/domain/order"
	"github.com/xenking/oolio-pay-core/internal/domain/settlement"
)

const (
	draftForUpdateSQL = findDraftByRefSQL + ` FOR UPDATE`

	insertOrderSQL = `INSERT INTO orders
		(id, payload, payment_provider, payment_status, amount, currency, external_ref, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	completeDraftSQL = `UPDATE drafts
	SET status = 'completed', order_id = $2, updated_at = now()
	WHERE id = $1 AND status = 'pending'`

	failDraftSQL = `UPDATE drafts
	SET status = 'failed', updated_at = now()
	WHERE id = $1 AND status = 'pending'`

	orderForUpdateSQL = getOrderByIDSQL + ` FOR UPDATE`

	// Allocates the stored "next" value and persists next+1 as one
	// statement. A key never seen before hands out 1 and leaves 2 behind.
	nextSequenceSQL = `INSERT INTO sequence_counters (name, period_key, next)
	VALUES ($1, $2, 2)
	ON CONFLICT (name, period_key)
	DO UPDATE SET next = sequence_counters.next + 1
	RETURNING next - 1`

	setInvoiceSQL = `UPDATE orders
	SET invoice_number = $2, invoice_series = $3, invoice_issued_at = $4
	WHERE id = $1`
)

// Compile-time checks against the domain store contracts.
var (
	_ settlement.Store = (*SettlementStore)(nil)
	_ invoice.Store    = (*IssuanceStore)(nil)
)

// SettlementStore runs settlement transactions against PostgreSQL. The
// FOR UPDATE lock taken by DraftForUpdate serializes concurrent settlements
// of the same external reference; different references lock different rows
// and proceed in parallel.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore returns a SettlementStore that uses the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// InTx runs fn inside one database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (s *SettlementStore) InTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&settlementTx{tx: tx})
	})
}

type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) DraftForUpdate(ctx context.Context, externalRef string) (*draft.Draft, error) {
	d, err := scanDraft(t.tx.QueryRow(ctx, draftForUpdateSQL, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, draft.ErrNotFound
		}
		return nil, fmt.Errorf("locking draft for ref %q: %w", externalRef, err)
	}
	return d, nil
}

func (t *settlementTx) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Payload, o.Payment.Provider, o.Payment.Status,
		o.Payment.Amount, o.Payment.Currency, o.Payment.ExternalRef, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (t *settlementTx) CompleteDraft(ctx context.Context, draftID, orderID string) error {
	tag, err := t.tx.Exec(ctx, completeDraftSQL, draftID, orderID)
	if err != nil {
		return fmt.Errorf("completing draft %q: %w", draftID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("draft %q is not pending", draftID)
	}
	return nil
}

func (t *settlementTx) FailDraft(ctx context.Context, draftID string) error {
	tag, err := t.tx.Exec(ctx, failDraftSQL, draftID)
	if err != nil {
		return fmt.Errorf("failing draft %q: %w", draftID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("draft %q is not pending", draftID)
	}
	return nil
}

// IssuanceStore runs invoice issuance transactions against PostgreSQL. The
// order row lock serializes concurrent issuance for one order; the counter
// upsert serializes allocations per (name, period_key) row.
type IssuanceStore struct {
	pool *pgxpool.Pool
}

// NewIssuanceStore returns an IssuanceStore that uses the given pool.
func NewIssuanceStore(pool *pgxpool.Pool) *IssuanceStore {
	return &IssuanceStore{pool: pool}
}

// InTx runs fn inside one database transaction.
func (s *IssuanceStore) InTx(ctx context.Context, fn func(tx invoice.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&issuanceTx{tx: tx})
	})
}

type issuanceTx struct {
	tx pgx.Tx
}

func (t *issuanceTx) OrderForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, orderForUpdateSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", orderID, err)
	}
	return o, nil
}

func (t *issuanceTx) NextSequence(ctx context.Context, name, periodKey string) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, nextSequenceSQL, name, periodKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocating sequence %s/%s: %w", name, periodKey, err)
	}
	return n, nil
}

func (t *issuanceTx) SetInvoice(ctx context.Context, orderID string, inv order.Invoice) error {
	_, err := t.tx.Exec(ctx, setInvoiceSQL, orderID, inv.Number, inv.Series, inv.IssuedAt)
	if err != nil {
		return fmt.Errorf("writing invoice on order %q: %w", orderID, err)
	}
	return nil
}
