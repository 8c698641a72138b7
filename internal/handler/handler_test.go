package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/webhook"
)

// --- Mock implementations ---

type mockVerifier struct {
	verifyErr error
	event     *payment.WebhookEvent
	parseErr  error
}

func (m *mockVerifier) VerifyWebhookSignature(_ []byte, _ string) error {
	return m.verifyErr
}

func (m *mockVerifier) ParseWebhookPayload(_ []byte) (*payment.WebhookEvent, error) {
	return m.event, m.parseErr
}

type mockWebhookMachine struct {
	res *payment.Result
	err error
}

func (m *mockWebhookMachine) HandleGatewayEvent(_ context.Context, _ *payment.WebhookEvent, _ []byte) (*payment.Result, error) {
	return m.res, m.err
}

type mockAPIKeyRepo struct {
	byHash map[string]*auth.APIKey
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, fault.New(fault.NotFound, "api key not found")
	}
	return info, nil
}

// --- Error mapping ---

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{fault.New(fault.Validation, "bad input"), http.StatusBadRequest, "validation", false},
		{fault.New(fault.NotFound, "no such order"), http.StatusNotFound, "not_found", false},
		{fault.New(fault.InvalidTransition, "bad edge"), http.StatusUnprocessableEntity, "invalid_transition", false},
		{fault.New(fault.Conflict, "version mismatch"), http.StatusConflict, "conflict", true},
		{fault.New(fault.External, "gateway down"), http.StatusBadGateway, "external", true},
		{fault.New(fault.Internal, "boom"), http.StatusInternalServerError, "internal", false},
		{errors.New("raw untyped error"), http.StatusInternalServerError, "internal", false},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestWriteError_InternalMessageIsOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(rec, req, errors.New("pq: password authentication failed for user"))

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSON_UnknownFieldRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"new_status":"shipped","surprise":1}`))

	var body transitionRequest
	err := decodeJSON(req, &body)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))
}

// --- Webhook endpoint ---

func newWebhookHandler(verifier payment.WebhookVerifier, machine webhook.Machine) *Handler {
	return &Handler{webhooks: webhook.NewProcessor(verifier, machine)}
}

func TestPaymentWebhook_Processed(t *testing.T) {
	h := newWebhookHandler(
		&mockVerifier{event: &payment.WebhookEvent{GatewayPaymentID: "gw-1", Status: "succeeded"}},
		&mockWebhookMachine{res: &payment.Result{
			Payment: &payment.Payment{ID: "pay1", Status: payment.StatusSuccess},
			Applied: true,
		}},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "cafe")
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "processed", body.Status)
}

func TestPaymentWebhook_DuplicateIs200(t *testing.T) {
	h := newWebhookHandler(
		&mockVerifier{event: &payment.WebhookEvent{GatewayPaymentID: "gw-1", Status: "succeeded"}},
		&mockWebhookMachine{res: &payment.Result{
			Payment: &payment.Payment{ID: "pay1", Status: payment.StatusSuccess},
			Applied: false,
		}},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "duplicate", body.Status)
}

func TestPaymentWebhook_BadSignatureIs400(t *testing.T) {
	h := newWebhookHandler(&mockVerifier{verifyErr: payment.ErrInvalidSignature}, &mockWebhookMachine{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook_UnknownPaymentIs404(t *testing.T) {
	h := newWebhookHandler(
		&mockVerifier{event: &payment.WebhookEvent{GatewayPaymentID: "gw-ghost", Status: "succeeded"}},
		&mockWebhookMachine{err: fault.New(fault.NotFound, "payment not found")},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- API key middleware ---

func hashKey(pepper, key string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}), &called
}

func TestSecurityMiddleware_ValidKey(t *testing.T) {
	const pepper, key = "pepper", "secret-key"
	repo := &mockAPIKeyRepo{byHash: map[string]*auth.APIKey{
		hashKey(pepper, key): {ID: "k1", KeyHash: hashKey(pepper, key), Name: "test"},
	}}
	next, called := okHandler()
	sec := NewSecurity(repo, []byte(pepper))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set(APIKeyHeader, key)
	rec := httptest.NewRecorder()

	sec.Middleware(next).ServeHTTP(rec, req)

	assert.True(t, *called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSecurityMiddleware_MissingKey(t *testing.T) {
	next, called := okHandler()
	sec := NewSecurity(&mockAPIKeyRepo{byHash: map[string]*auth.APIKey{}}, []byte("pepper"))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	rec := httptest.NewRecorder()

	sec.Middleware(next).ServeHTTP(rec, req)

	assert.False(t, *called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityMiddleware_UnknownKey(t *testing.T) {
	next, called := okHandler()
	sec := NewSecurity(&mockAPIKeyRepo{byHash: map[string]*auth.APIKey{}}, []byte("pepper"))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set(APIKeyHeader, "wrong-key")
	rec := httptest.NewRecorder()

	sec.Middleware(next).ServeHTTP(rec, req)

	assert.False(t, *called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScope(t *testing.T) {
	ordersOnly := &auth.APIKey{ID: "k1", Scopes: []string{auth.ScopeOrders}}

	tests := []struct {
		name       string
		key        *auth.APIKey
		scope      string
		wantStatus int
	}{
		{"scope granted", ordersOnly, auth.ScopeOrders, http.StatusNoContent},
		{"scope missing", ordersOnly, auth.ScopePayments, http.StatusForbidden},
		{"no key on context", nil, auth.ScopeOrders, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, called := okHandler()
			req := httptest.NewRequest(http.MethodPost, "/api/payments/p1/refund", nil)
			if tt.key != nil {
				req = req.WithContext(auth.WithAPIKey(req.Context(), tt.key))
			}
			rec := httptest.NewRecorder()

			requireScope(tt.scope, next.ServeHTTP)(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, *called)
		})
	}
}

func TestSecurityMiddleware_ScopedRoute(t *testing.T) {
	const pepper, key = "pepper", "secret-key"
	repo := &mockAPIKeyRepo{byHash: map[string]*auth.APIKey{
		hashKey(pepper, key): {
			ID:      "k1",
			KeyHash: hashKey(pepper, key),
			Name:    "cargo only",
			Scopes:  []string{auth.ScopeCargo},
		},
	}}
	sec := NewSecurity(repo, []byte(pepper))
	next, called := okHandler()

	// Authenticated, but the key's scopes do not cover orders.
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set(APIKeyHeader, key)
	rec := httptest.NewRecorder()

	sec.Middleware(requireScope(auth.ScopeOrders, next.ServeHTTP)).ServeHTTP(rec, req)

	assert.False(t, *called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
