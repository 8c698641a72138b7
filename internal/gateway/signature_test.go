package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/payment"
)

func newSigningClient(secret string) *Client {
	return NewClient(Config{WebhookSecret: secret})
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	c := newSigningClient("topsecret")
	payload := []byte(`{"payment_id":"gw-1","status":"succeeded"}`)

	require.NoError(t, c.VerifyWebhookSignature(payload, sign("topsecret", payload)))
}

func TestVerifyWebhookSignature_WrongSecret(t *testing.T) {
	c := newSigningClient("topsecret")
	payload := []byte(`{"payment_id":"gw-1"}`)

	err := c.VerifyWebhookSignature(payload, sign("other-secret", payload))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestVerifyWebhookSignature_TamperedPayload(t *testing.T) {
	c := newSigningClient("topsecret")
	sig := sign("topsecret", []byte(`{"amount":"10.00"}`))

	err := c.VerifyWebhookSignature([]byte(`{"amount":"9999.00"}`), sig)
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestVerifyWebhookSignature_NotHex(t *testing.T) {
	c := newSigningClient("topsecret")

	err := c.VerifyWebhookSignature([]byte(`{}`), "not-a-hex-string")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestSignWebhookPayload_RoundTrip(t *testing.T) {
	c := newSigningClient("topsecret")
	payload := []byte(`{"payment_id":"gw-1"}`)

	require.NoError(t, c.VerifyWebhookSignature(payload, c.SignWebhookPayload(payload)))
}

func TestParseWebhookPayload(t *testing.T) {
	c := newSigningClient("topsecret")

	ev, err := c.ParseWebhookPayload([]byte(`{
		"event_id": "ev-42",
		"payment_id": "gw-1",
		"transaction_id": "txn-7",
		"status": "succeeded",
		"amount": "25.00",
		"some_future_field": {"nested": true}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "ev-42", ev.EventID)
	assert.Equal(t, "gw-1", ev.GatewayPaymentID)
	assert.Equal(t, "txn-7", ev.GatewayTransactionID)
	assert.Equal(t, "succeeded", ev.Status)
}

func TestParseWebhookPayload_MissingPaymentID(t *testing.T) {
	c := newSigningClient("topsecret")

	_, err := c.ParseWebhookPayload([]byte(`{"event_id":"ev-1","status":"succeeded"}`))
	require.ErrorIs(t, err, payment.ErrMalformedPayload)
}

func TestParseWebhookPayload_NotJSON(t *testing.T) {
	c := newSigningClient("topsecret")

	_, err := c.ParseWebhookPayload([]byte(`status=succeeded`))
	require.ErrorIs(t, err, payment.ErrMalformedPayload)
}
