// Package gateway adapts the external payment processor's HTTP API to the
// payment.Gateway port. Transport failures, timeouts, and 5xx responses are
// reported as payment.ErrGatewayUnavailable (outcome unknown); 4xx
// responses as payment.ErrGatewayRejected (definitive refusal).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/orderflow/internal/domain/payment"
)

// Config holds the processor connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	// WebhookSecret is the shared HMAC key the processor signs webhook
	// payloads with.
	WebhookSecret string
}

// Client implements payment.Gateway over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// NewClient creates a gateway Client. The underlying transport is traced.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type initiateBody struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

type refundBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type gatewayResponse struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	RedirectURL   string `json:"redirect_url"`
}

// InitiatePayment registers a payment with the processor.
func (c *Client) InitiatePayment(ctx context.Context, req payment.InitiateGatewayRequest) (*payment.GatewayResult, error) {
	return c.post(ctx, "/v1/payments", initiateBody{
		PaymentID: req.PaymentID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    string(req.Method),
	})
}

// Verify3DSecure asks the processor for the outcome of a 3-D Secure
// challenge.
func (c *Client) Verify3DSecure(ctx context.Context, gatewayPaymentID string) (*payment.GatewayResult, error) {
	return c.post(ctx, "/v1/payments/"+gatewayPaymentID+"/verify-3ds", nil)
}

// CancelPayment voids a payment at the processor.
func (c *Client) CancelPayment(ctx context.Context, gatewayPaymentID string) (*payment.GatewayResult, error) {
	return c.post(ctx, "/v1/payments/"+gatewayPaymentID+"/cancel", nil)
}

// RefundPayment refunds the given amount at the processor.
func (c *Client) RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, reason string) (*payment.GatewayResult, error) {
	return c.post(ctx, "/v1/payments/"+gatewayPaymentID+"/refund", refundBody{
		Amount: amount,
		Reason: reason,
	})
}

func (c *Client) post(ctx context.Context, path string, body any) (*payment.GatewayResult, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Preserve context.Canceled / DeadlineExceeded so callers
			// can tell an unknown outcome from a definitive one.
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s: read response: %v", path, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s: status %d", path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errors.Wrapf(payment.ErrGatewayRejected, "%s: status %d: %s", path, resp.StatusCode, raw)
	}

	var gr gatewayResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, errors.Wrapf(payment.ErrGatewayRejected, "%s: malformed response: %v", path, err)
	}

	return &payment.GatewayResult{
		GatewayPaymentID:     gr.PaymentID,
		GatewayTransactionID: gr.TransactionID,
		Status:               gr.Status,
		RedirectURL:          gr.RedirectURL,
		Raw:                  raw,
	}, nil
}
