package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/settlement"
)

// captureRequest is the body for POST /api/payments/{ref}/capture.
type captureRequest struct {
	Outcome string `json:"outcome"`
}

// capture handles the client-initiated capture call. Unlike the webhook
// path, an unknown reference is an error here: the client claims to have
// completed a payment this core has never seen.
func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := r.PathValue("ref")

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome := settlement.Outcome(req.Outcome)
	if !outcome.Valid() {
		writeError(w, r, http.StatusBadRequest, "outcome must be succeeded or failed")
		return
	}

	res, err := h.settler.Settle(ctx, ref, outcome)
	if err != nil {
		if errors.Is(err, settlement.ErrDraftNotFound) {
			writeError(w, r, http.StatusNotFound, "no draft for reference")
			return
		}
		zctx.From(ctx).Error("capture settlement failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "settlement failed")
		return
	}

	writeJSON(w, r, http.StatusOK, settleResponse(res))
}
