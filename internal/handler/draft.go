package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/draft"
)

// createDraftRequest is the body for POST /api/checkout/drafts.
type createDraftRequest struct {
	ExternalRef string          `json:"externalRef"`
	Provider    string          `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Payload     json.RawMessage `json:"payload"`
}

// draftResponse is the representation returned for a draft.
type draftResponse struct {
	ID          string          `json:"id"`
	ExternalRef string          `json:"externalRef"`
	Status      string          `json:"status"`
	Provider    string          `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	OrderID     string          `json:"orderId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// createDraft handles POST /api/checkout/drafts. A duplicate external
// reference is not an error for the initiator: the existing draft is
// returned with 200, so the client can re-enter a checkout it already
// started.
func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExternalRef == "" || req.Provider == "" || req.Currency == "" {
		writeError(w, r, http.StatusBadRequest, "externalRef, provider and currency are required")
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, r, http.StatusBadRequest, "amount must not be negative")
		return
	}

	d, err := h.drafts.Create(ctx, draft.CreateParams{
		ExternalRef: req.ExternalRef,
		Provider:    req.Provider,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Payload:     req.Payload,
	})
	if err != nil {
		if errors.Is(err, draft.ErrDuplicateRef) {
			existing, ferr := h.drafts.FindByExternalRef(ctx, req.ExternalRef)
			if ferr != nil {
				zctx.From(ctx).Error("load existing draft", zap.Error(ferr))
				writeError(w, r, http.StatusInternalServerError, "load existing draft")
				return
			}
			writeJSON(w, r, http.StatusOK, toDraftResponse(existing))
			return
		}
		zctx.From(ctx).Error("create draft", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "create draft")
		return
	}

	writeJSON(w, r, http.StatusCreated, toDraftResponse(d))
}

func toDraftResponse(d *draft.Draft) draftResponse {
	return draftResponse{
		ID:          d.ID,
		ExternalRef: d.ExternalRef,
		Status:      string(d.Status),
		Provider:    d.Provider,
		Amount:      d.Amount,
		Currency:    d.Currency,
		OrderID:     d.OrderID,
		CreatedAt:   d.CreatedAt,
	}
}
