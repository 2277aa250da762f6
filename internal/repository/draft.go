package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-pay-core/internal/domain/draft"
)

const (
	createDraftSQL = `INSERT INTO drafts (id, external_ref, status, provider, amount, currency, payload)
	VALUES ($1, $2, 'pending', $3, $4, $5, $6)
	RETURNING created_at, updated_at`

	findDraftByRefSQL = `SELECT id, external_ref, status, provider, amount, currency, payload,
		COALESCE(order_id::text, ''), created_at, updated_at
	FROM drafts WHERE external_ref = $1`
)

var _ draft.Repository = (*DraftRepository)(nil)

// DraftRepository implements draft.Repository backed by PostgreSQL.
type DraftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository returns a DraftRepository that uses the given pool.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

// Create persists a new pending draft. The UNIQUE constraint on external_ref
// is the authority on duplicates: a violation maps to draft.ErrDuplicateRef
// with no read-before-write race.
func (r *DraftRepository) Create(ctx context.Context, p draft.CreateParams) (*draft.Draft, error) {
	d := &draft.Draft{
		ID:          uuid.New().String(),
		ExternalRef: p.ExternalRef,
		Status:      draft.StatusPending,
		Provider:    p.Provider,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Payload:     p.Payload,
	}

	err := r.pool.QueryRow(ctx, createDraftSQL,
		d.ID, d.ExternalRef, d.Provider, d.Amount, d.Currency, d.Payload,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, draft.ErrDuplicateRef
		}
		return nil, fmt.Errorf("creating draft for ref %q: %w", p.ExternalRef, err)
	}

	return d, nil
}

// FindByExternalRef returns the draft for the external reference, or
// draft.ErrNotFound.
func (r *DraftRepository) FindByExternalRef(ctx context.Context, externalRef string) (*draft.Draft, error) {
	d, err := scanDraft(r.pool.QueryRow(ctx, findDraftByRefSQL, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, draft.ErrNotFound
		}
		return nil, fmt.Errorf("finding draft by ref %q: %w", externalRef, err)
	}
	return d, nil
}

func scanDraft(row pgx.Row) (*draft.Draft, error) {
	var d draft.Draft
	err := row.Scan(
		&d.ID, &d.ExternalRef, &d.Status, &d.Provider, &d.Amount, &d.Currency,
		&d.Payload, &d.OrderID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
