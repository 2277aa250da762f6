package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/invoice"
	"github.com/xenking/oolio-pay-core/internal/domain/order"
)

// invoiceResponse is the body returned by invoice issuance. Replays return
// the identical body.
type invoiceResponse struct {
	InvoiceNumber string    `json:"invoiceNumber"`
	Series        string    `json:"series,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// issueInvoice handles POST /api/orders/{id}/invoice.
func (h *Handler) issueInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	issued, err := h.issuer.Issue(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "order not found")
		case errors.Is(err, invoice.ErrNumberingDisabled):
			writeError(w, r, http.StatusConflict, "invoice numbering is disabled")
		default:
			zctx.From(ctx).Error("issue invoice", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "issue invoice")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, invoiceResponse{
		InvoiceNumber: issued.Number,
		Series:        issued.Series,
		IssuedAt:      issued.IssuedAt,
	})
}

// orderResponse is the representation returned for an order read.
type orderResponse struct {
	ID        string           `json:"id"`
	Payload   json.RawMessage  `json:"payload"`
	Payment   paymentResponse  `json:"payment"`
	Invoice   *invoiceResponse `json:"invoice,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type paymentResponse struct {
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ExternalRef string `json:"externalRef"`
}

// getOrder handles GET /api/orders/{id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	o, err := h.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(ctx).Error("get order", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "get order")
		return
	}

	resp := orderResponse{
		ID:        o.ID,
		Payload:   o.Payload,
		CreatedAt: o.CreatedAt,
		Payment: paymentResponse{
			Provider:    o.Payment.Provider,
			Status:      o.Payment.Status,
			Amount:      o.Payment.Amount.StringFixed(2),
			Currency:    o.Payment.Currency,
			ExternalRef: o.Payment.ExternalRef,
		},
	}
	if o.Invoice.Issued() {
		resp.Invoice = &invoiceResponse{
			InvoiceNumber: o.Invoice.Number,
			Series:        o.Invoice.Series,
			IssuedAt:      o.Invoice.IssuedAt,
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}
