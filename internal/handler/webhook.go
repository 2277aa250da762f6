package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-pay-core/internal/domain/settlement"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body,
// computed with the provider's shared secret.
const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds the confirmation payload size.
const maxWebhookBody = 1 << 20

// confirmation is the subset of a processor's webhook payload this core
// consumes. Everything else in the delivery is ignored.
type confirmation struct {
	ExternalRef string
	Status      string
	Amount      decimal.Decimal
	Currency    string
}

// webhook handles POST /api/webhooks/{provider}: verifies the delivery's
// signature, translates it into a settlement call, and acknowledges.
//
// Replayed deliveries and confirmations for unknown references are
// acknowledged with 200 so the processor stops retrying; the settlement
// transaction guarantees replays have no effect.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)
	provider := r.PathValue("provider")

	secret, ok := h.cfg.WebhookSecrets[provider]
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "read body")
		return
	}

	if !verifySignature(body, r.Header.Get(signatureHeader), secret) {
		lg.Warn("webhook signature rejected", zap.String("provider", provider))
		writeError(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}

	conf, err := parseConfirmation(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	outcome := settlement.Outcome(conf.Status)
	if !outcome.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}

	// The order is always built from the draft's stored amount; a mismatch
	// against the processor's figure is worth an alert but does not block
	// settlement.
	if d, derr := h.drafts.FindByExternalRef(ctx, conf.ExternalRef); derr == nil && !conf.Amount.IsZero() {
		if !d.Amount.Equal(conf.Amount) || (conf.Currency != "" && d.Currency != conf.Currency) {
			lg.Warn("webhook amount mismatch",
				zap.String("external_ref", conf.ExternalRef),
				zap.String("draft_amount", d.Amount.String()),
				zap.String("webhook_amount", conf.Amount.String()),
			)
		}
	}

	res, err := h.settler.Settle(ctx, conf.ExternalRef, outcome)
	if err != nil {
		if errors.Is(err, settlement.ErrDraftNotFound) {
			// Not ours to settle. Acknowledge so the processor stops
			// retrying a delivery we will never consume.
			lg.Info("webhook for unknown reference acknowledged",
				zap.String("provider", provider),
				zap.String("external_ref", conf.ExternalRef),
			)
			writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		lg.Error("webhook settlement failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "settlement failed")
		return
	}

	writeJSON(w, r, http.StatusOK, settleResponse(res))
}

// verifySignature checks the hex HMAC-SHA256 signature of body in constant
// time.
func verifySignature(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// parseConfirmation extracts the consumed fields from a raw webhook payload.
func parseConfirmation(body []byte) (*confirmation, error) {
	var c confirmation
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "externalRef":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "externalRef")
			}
			c.ExternalRef = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "status")
			}
			c.Status = v
		case "amount":
			num, err := d.Num()
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			amount, err := decimal.NewFromString(num.String())
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			c.Amount = amount
		case "currency":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "currency")
			}
			c.Currency = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode confirmation")
	}
	if c.ExternalRef == "" {
		return nil, errors.New("externalRef is required")
	}
	if c.Status == "" {
		return nil, errors.New("status is required")
	}
	return &c, nil
}

// settleResponse maps a settlement result to the acknowledgement body shared
// by the webhook and capture endpoints.
func settleResponse(res *settlement.Result) map[string]any {
	body := map[string]any{
		"status":   string(res.Status),
		"replayed": res.Replayed,
	}
	if res.OrderID != "" {
		body["orderId"] = res.OrderID
	}
	return body
}
