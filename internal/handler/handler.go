// Package handler exposes the settlement core over HTTP: checkout draft
// creation, processor webhooks, client-initiated capture, and invoice
// issuance. Handlers translate requests into domain calls and domain errors
// into HTTP responses; all correctness guarantees live below, in the
// settlement and invoice services.
package handler

import (
	"net/http"

	"github.com/xenking/oolio-pay-core/internal/domain/draft"
	"github.com/xenking/oolio-pay-core/internal/domain/invoice"
	"github.com/xenking/oolio-pay-core/internal/domain/order"
	"github.com/xenking/oolio-pay-core/internal/domain/settlement"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecrets maps a payment provider tag to the shared secret used
	// to verify that provider's webhook signatures. Providers without an
	// entry are rejected.
	WebhookSecrets map[string]string
}

// Handler routes the settlement API. Authentication is layered outside:
// API-key middleware guards every route except webhooks, which carry their
// own per-provider signature instead.
type Handler struct {
	cfg     Config
	drafts  draft.Repository
	orders  order.Repository
	settler *settlement.Service
	issuer  *invoice.Service
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	drafts draft.Repository,
	orders order.Repository,
	settler *settlement.Service,
	issuer *invoice.Service,
) *Handler {
	return &Handler{
		cfg:     cfg,
		drafts:  drafts,
		orders:  orders,
		settler: settler,
		issuer:  issuer,
	}
}

// Register mounts all API routes on mux. The auth middleware is applied to
// every route except the webhook endpoint.
func (h *Handler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	protected := func(hf http.HandlerFunc) http.Handler { return auth(hf) }

	mux.Handle("POST /api/checkout/drafts", protected(h.createDraft))
	mux.Handle("POST /api/payments/{ref}/capture", protected(h.capture))
	mux.Handle("POST /api/orders/{id}/invoice", protected(h.issueInvoice))
	mux.Handle("GET /api/orders/{id}", protected(h.getOrder))

	mux.HandleFunc("POST /api/webhooks/{provider}", h.webhook)
}
