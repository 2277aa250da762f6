package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-pay-core/internal/domain/order"
)

const getOrderByIDSQL = `SELECT id, payload,
		payment_provider, payment_status, amount, currency, external_ref,
		COALESCE(invoice_number, ''), COALESCE(invoice_series, ''), invoice_issued_at,
		created_at
	FROM orders WHERE id = $1`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns the order with the given ID, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o        order.Order
		issuedAt *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Payload,
		&o.Payment.Provider, &o.Payment.Status, &o.Payment.Amount,
		&o.Payment.Currency, &o.Payment.ExternalRef,
		&o.Invoice.Number, &o.Invoice.Series, &issuedAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if issuedAt != nil {
		o.Invoice.IssuedAt = *issuedAt
	}
	o.Payment.CreatedAt = o.CreatedAt
	return &o, nil
}
