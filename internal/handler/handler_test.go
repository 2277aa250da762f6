package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-pay-core/internal/domain/auth"
	"github.com/xenking/oolio-pay-core/internal/domain/draft"
	"github.com/xenking/oolio-pay-core/internal/domain/invoice"
	"github.com/xenking/oolio-pay-core/internal/domain/order"
	"github.com/xenking/oolio-pay-core/internal/domain/settlement"
)

const testSecret = "webhook-test-secret"

// --- In-memory backing store shared by all mocked dependencies ---

type memBackend struct {
	mu       sync.Mutex
	drafts   map[string]*draft.Draft // by external ref
	orders   map[string]*order.Order
	counters map[string]int64
}

func newBackend() *memBackend {
	return &memBackend{
		drafts:   make(map[string]*draft.Draft),
		orders:   make(map[string]*order.Order),
		counters: make(map[string]int64),
	}
}

func (b *memBackend) addPendingDraft(ref string) {
	b.drafts[ref] = &draft.Draft{
		ID:          "draft-" + ref,
		ExternalRef: ref,
		Status:      draft.StatusPending,
		Provider:    "stripe",
		Amount:      decimal.RequireFromString("19.90"),
		Currency:    "USD",
		Payload:     json.RawMessage(`{"items":[]}`),
	}
}

// draft.Repository

func (b *memBackend) Create(_ context.Context, p draft.CreateParams) (*draft.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.drafts[p.ExternalRef]; ok {
		return nil, draft.ErrDuplicateRef
	}
	d := &draft.Draft{
		ID:          "draft-" + p.ExternalRef,
		ExternalRef: p.ExternalRef,
		Status:      draft.StatusPending,
		Provider:    p.Provider,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Payload:     p.Payload,
	}
	b.drafts[p.ExternalRef] = d
	return d, nil
}

func (b *memBackend) FindByExternalRef(_ context.Context, ref string) (*draft.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drafts[ref]
	if !ok {
		return nil, draft.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// order.Repository

func (b *memBackend) GetByID(_ context.Context, id string) (*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// settlement.Store

type settlementStore struct{ b *memBackend }

func (s settlementStore) InTx(_ context.Context, fn func(tx settlement.Tx) error) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return fn(settlementTx{b: s.b})
}

type settlementTx struct{ b *memBackend }

func (t settlementTx) DraftForUpdate(_ context.Context, ref string) (*draft.Draft, error) {
	d, ok := t.b.drafts[ref]
	if !ok {
		return nil, draft.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (t settlementTx) InsertOrder(_ context.Context, o *order.Order) error {
	cp := *o
	t.b.orders[o.ID] = &cp
	return nil
}

func (t settlementTx) CompleteDraft(_ context.Context, draftID, orderID string) error {
	for _, d := range t.b.drafts {
		if d.ID == draftID {
			d.Status = draft.StatusCompleted
			d.OrderID = orderID
		}
	}
	return nil
}

func (t settlementTx) FailDraft(_ context.Context, draftID string) error {
	for _, d := range t.b.drafts {
		if d.ID == draftID {
			d.Status = draft.StatusFailed
		}
	}
	return nil
}

// invoice.Store

type issuanceStore struct{ b *memBackend }

func (s issuanceStore) InTx(_ context.Context, fn func(tx invoice.Tx) error) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return fn(issuanceTx{b: s.b})
}

type issuanceTx struct{ b *memBackend }

func (t issuanceTx) OrderForUpdate(_ context.Context, orderID string) (*order.Order, error) {
	o, ok := t.b.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (t issuanceTx) NextSequence(_ context.Context, name, periodKey string) (int64, error) {
	key := name + "/" + periodKey
	next, ok := t.b.counters[key]
	if !ok {
		next = 1
	}
	t.b.counters[key] = next + 1
	return next, nil
}

func (t issuanceTx) SetInvoice(_ context.Context, orderID string, inv order.Invoice) error {
	t.b.orders[orderID].Invoice = inv
	return nil
}

// --- Helpers ---

func newTestServer(t *testing.T, b *memBackend) *httptest.Server {
	t.Helper()

	h := New(
		Config{WebhookSecrets: map[string]string{"stripe": testSecret}},
		b,
		b,
		settlement.NewService(settlementStore{b: b}),
		invoice.NewService(issuanceStore{b: b}, invoice.Config{
			Enabled: true,
			Prefix:  "INV-",
			Series:  "A",
			Padding: 6,
		}),
	)

	mux := http.NewServeMux()
	// Auth is a pass-through here; APIKeyAuth has its own test.
	h.Register(mux, func(next http.Handler) http.Handler { return next })

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, srv *httptest.Server, provider string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/webhooks/"+provider, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

// --- Webhook tests ---

func TestWebhook_SucceededCreatesOrder(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"succeeded","amount":19.90,"currency":"USD"}`)
	resp := postWebhook(t, srv, "stripe", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "completed", got["status"])
	assert.NotEmpty(t, got["orderId"])
	assert.Len(t, b.orders, 1)
}

func TestWebhook_DuplicateDeliveryAcknowledgedWithoutSecondOrder(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"succeeded","amount":19.90,"currency":"USD"}`)

	first := decodeBody(t, postWebhook(t, srv, "stripe", body, sign(body)))

	resp := postWebhook(t, srv, "stripe", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode, "duplicate delivery must still be acknowledged")
	second := decodeBody(t, resp)

	assert.Equal(t, first["orderId"], second["orderId"])
	assert.Equal(t, true, second["replayed"])
	assert.Len(t, b.orders, 1, "duplicate delivery must not create a second order")
}

func TestWebhook_InvalidSignature(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"succeeded","amount":19.90,"currency":"USD"}`)

	resp := postWebhook(t, srv, "stripe", body, "deadbeef")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, srv, "stripe", body, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Empty(t, b.orders, "unverified delivery must not settle")
}

func TestWebhook_UnknownProvider(t *testing.T) {
	srv := newTestServer(t, newBackend())

	body := []byte(`{"externalRef":"pi_123","status":"succeeded"}`)
	resp := postWebhook(t, srv, "squarepay", body, sign(body))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhook_UnknownRefAcknowledged(t *testing.T) {
	b := newBackend()
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_other_system","status":"succeeded","amount":5,"currency":"USD"}`)
	resp := postWebhook(t, srv, "stripe", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode, "unknown refs are acked, not retried forever")

	got := decodeBody(t, resp)
	assert.Equal(t, "ignored", got["status"])
	assert.Empty(t, b.orders)
}

func TestWebhook_FailedOutcome(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"failed","amount":19.90,"currency":"USD"}`)
	resp := postWebhook(t, srv, "stripe", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "failed", got["status"])
	assert.Empty(t, b.orders)
	assert.Equal(t, draft.StatusFailed, b.drafts["pi_123"].Status)
}

// --- Capture tests ---

func TestCapture_Succeeded(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	resp, err := srv.Client().Post(srv.URL+"/api/payments/pi_123/capture", "application/json",
		bytes.NewReader([]byte(`{"outcome":"succeeded"}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "completed", got["status"])
	assert.Len(t, b.orders, 1)
}

func TestCapture_UnknownRef(t *testing.T) {
	srv := newTestServer(t, newBackend())

	resp, err := srv.Client().Post(srv.URL+"/api/payments/pi_nope/capture", "application/json",
		bytes.NewReader([]byte(`{"outcome":"succeeded"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCapture_BadOutcome(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	resp, err := srv.Client().Post(srv.URL+"/api/payments/pi_123/capture", "application/json",
		bytes.NewReader([]byte(`{"outcome":"maybe"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Draft tests ---

func TestCreateDraft(t *testing.T) {
	b := newBackend()
	srv := newTestServer(t, b)

	body := `{"externalRef":"pi_9","provider":"stripe","amount":10.50,"currency":"USD","payload":{"items":[{"name":"Pepperoni","qty":2}]}}`
	resp, err := srv.Client().Post(srv.URL+"/api/checkout/drafts", "application/json",
		bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "pi_9", got["externalRef"])
	assert.Equal(t, "pending", got["status"])
}

func TestCreateDraft_DuplicateReturnsExisting(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_9")
	srv := newTestServer(t, b)

	body := `{"externalRef":"pi_9","provider":"stripe","amount":10.50,"currency":"USD"}`
	resp, err := srv.Client().Post(srv.URL+"/api/checkout/drafts", "application/json",
		bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "duplicate is benign, not an error")

	got := decodeBody(t, resp)
	assert.Equal(t, "draft-pi_9", got["id"])
}

func TestCreateDraft_MissingFields(t *testing.T) {
	srv := newTestServer(t, newBackend())

	resp, err := srv.Client().Post(srv.URL+"/api/checkout/drafts", "application/json",
		bytes.NewReader([]byte(`{"externalRef":"pi_9"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Invoice and order read tests ---

func TestIssueInvoice_TwiceReturnsSameNumber(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"succeeded","amount":19.90,"currency":"USD"}`)
	settled := decodeBody(t, postWebhook(t, srv, "stripe", body, sign(body)))
	orderID := settled["orderId"].(string)

	resp, err := srv.Client().Post(srv.URL+"/api/orders/"+orderID+"/invoice", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody(t, resp)
	assert.Equal(t, "INV-A000001", first["invoiceNumber"])

	resp, err = srv.Client().Post(srv.URL+"/api/orders/"+orderID+"/invoice", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeBody(t, resp)

	assert.Equal(t, first, second, "reissue must return the identical document")
}

func TestIssueInvoice_OrderNotFound(t *testing.T) {
	srv := newTestServer(t, newBackend())

	resp, err := srv.Client().Post(srv.URL+"/api/orders/nope/invoice", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrder(t *testing.T) {
	b := newBackend()
	b.addPendingDraft("pi_123")
	srv := newTestServer(t, b)

	body := []byte(`{"externalRef":"pi_123","status":"succeeded","amount":19.90,"currency":"USD"}`)
	settled := decodeBody(t, postWebhook(t, srv, "stripe", body, sign(body)))
	orderID := settled["orderId"].(string)

	resp, err := srv.Client().Get(srv.URL + "/api/orders/" + orderID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, orderID, got["id"])
	payment := got["payment"].(map[string]any)
	assert.Equal(t, "pi_123", payment["externalRef"])
	assert.Equal(t, "19.90", payment["amount"])
}

// --- Auth middleware ---

type staticKeyRepo struct {
	hash string
}

func (r staticKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if hash != r.hash {
		return nil, assert.AnError
	}
	return &auth.APIKeyInfo{ID: "k1", KeyHash: r.hash, Name: "test"}, nil
}

func TestAPIKeyAuth(t *testing.T) {
	pepper := []byte("pepper")
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte("valid-key"))
	hash := hex.EncodeToString(mac.Sum(nil))

	mw := APIKeyAuth(staticKeyRepo{hash: hash}, pepper)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(apiKeyHeader, "valid-key")
		mw(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(apiKeyHeader, "wrong-key")
		mw(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		mw(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
