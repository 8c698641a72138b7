package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/payment"
)

func TestInitiatePayment_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody initiateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(gatewayResponse{
			PaymentID:     "gw-1",
			TransactionID: "txn-1",
			Status:        "succeeded",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1"})
	res, err := c.InitiatePayment(context.Background(), payment.InitiateGatewayRequest{
		PaymentID: "pay1",
		OrderID:   "o1",
		Amount:    decimal.RequireFromString("25.00"),
		Currency:  "USD",
		Method:    payment.MethodCard,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/payments", gotPath)
	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, "pay1", gotBody.PaymentID)
	assert.Equal(t, "card", gotBody.Method)

	assert.Equal(t, "gw-1", res.GatewayPaymentID)
	assert.Equal(t, "txn-1", res.GatewayTransactionID)
	assert.Equal(t, payment.GatewaySucceeded, res.Status)
	assert.NotEmpty(t, res.Raw)
}

func TestPost_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.CancelPayment(context.Background(), "gw-1")
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

func TestPost_ClientErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"card declined"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.RefundPayment(context.Background(), "gw-1", decimal.NewFromInt(10), "damaged")
	require.ErrorIs(t, err, payment.ErrGatewayRejected)
}

func TestPost_TransportFailureIsUnavailable(t *testing.T) {
	// Nothing listens on this address.
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.CancelPayment(context.Background(), "gw-1")
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

func TestPost_ContextErrorPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Verify3DSecure(ctx, "gw-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerify3DSecure_Requires3DSRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/gw-1/verify-3ds", r.URL.Path)
		_ = json.NewEncoder(w).Encode(gatewayResponse{
			PaymentID:   "gw-1",
			Status:      "requires_3ds",
			RedirectURL: "https://acs.example/challenge",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Verify3DSecure(context.Background(), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, payment.GatewayRequires3DS, res.Status)
	assert.Equal(t, "https://acs.example/challenge", res.RedirectURL)
}

func TestPost_MalformedResponseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway maintenance</html>"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.CancelPayment(context.Background(), "gw-1")
	require.ErrorIs(t, err, payment.ErrGatewayRejected)
}
