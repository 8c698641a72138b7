package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the payment lifecycle status, independent of (but synchronized
// with) the order's fulfillment status.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaiting3DS        Status = "waiting_3d_secure"
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// IsTerminal reports whether the payment can no longer change except through
// refund accounting.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Method selects how a payment is processed.
type Method string

const (
	MethodCard     Method = "card"
	MethodCard3DS  Method = "card_3ds"
	MethodTransfer Method = "bank_transfer"
)

// Payment drives one order's paid/refunded lifecycle. An order has at most
// one active (non-terminal) payment at a time.
type Payment struct {
	ID      string
	OrderID string
	Method  Method
	Status  Status

	Amount decimal.Decimal
	// RefundAmount is the running total of successful refunds,
	// 0 <= RefundAmount <= Amount.
	RefundAmount decimal.Decimal
	Currency     string

	// External correlation keys, unique per successful gateway interaction.
	GatewayPaymentID     string
	GatewayTransactionID string

	// GatewayResponse retains the last raw gateway or webhook payload
	// verbatim for replay and audit.
	GatewayResponse []byte

	PaidAt      *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
	CreatedAt   time.Time

	// Version guards concurrent transitions, like order.Order.Version.
	Version int64
}

// Refundable reports the amount still available for refund.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundAmount)
}

// Repository defines ledger operations for payments. GetActiveByOrderID
// returns the order's non-terminal payment, or a fault.NotFound when none
// exists. Update is version-guarded; a mismatch surfaces as fault.Conflict.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*Payment, error)
	GetActiveByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}

// TxRunner executes fn inside one atomic ledger transaction, so a payment
// transition and its order mirror either both persist or neither does.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Gateway failure classes. The adapter wraps every error in exactly one of
// these; the machine propagates the distinction without inventing new
// business meaning.
var (
	// ErrGatewayUnavailable means the outcome at the gateway is unknown
	// (unreachable, timed out, 5xx). Local state must stay retriable.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrGatewayRejected means the gateway definitively refused the
	// operation.
	ErrGatewayRejected = errors.New("gateway rejected")
)

// GatewayResult is the parsed outcome of a gateway call.
type GatewayResult struct {
	GatewayPaymentID     string
	GatewayTransactionID string
	// Status is the gateway-reported outcome: one of "succeeded",
	// "pending", "requires_3ds".
	Status string
	// RedirectURL is set when the cardholder must complete 3-D Secure.
	RedirectURL string
	// Raw is the verbatim response body, retained for audit.
	Raw []byte
}

// Gateway result statuses.
const (
	GatewaySucceeded   = "succeeded"
	GatewayPending     = "pending"
	GatewayRequires3DS = "requires_3ds"
)

// InitiateGatewayRequest is the input to Gateway.InitiatePayment.
type InitiateGatewayRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Method    Method
}

// Gateway abstracts the external payment processor. All calls are network
// I/O: they honor ctx cancellation and may fail with ErrGatewayUnavailable
// or ErrGatewayRejected.
type Gateway interface {
	InitiatePayment(ctx context.Context, req InitiateGatewayRequest) (*GatewayResult, error)
	Verify3DSecure(ctx context.Context, gatewayPaymentID string) (*GatewayResult, error)
	CancelPayment(ctx context.Context, gatewayPaymentID string) (*GatewayResult, error)
	RefundPayment(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal, reason string) (*GatewayResult, error)
}

// Webhook verification failures.
var (
	// ErrInvalidSignature means the payload signature does not match;
	// the payload must not be processed.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload means the payload could not be parsed or lacks
	// the gateway payment correlation key.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// WebhookVerifier verifies and parses inbound gateway notifications.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) error
	ParseWebhookPayload(payload []byte) (*WebhookEvent, error)
}

// WebhookEvent is a parsed asynchronous gateway notification.
type WebhookEvent struct {
	EventID              string
	GatewayPaymentID     string
	GatewayTransactionID string
	// Status is the external status string as reported by the gateway.
	Status string
}
