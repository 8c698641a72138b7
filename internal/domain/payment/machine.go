package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/order"
)

// Orders is the slice of the order state machine the payment machine drives.
// Lock must be held across a payment transition and its order mirror;
// ApplyPaymentStatus assumes the caller holds it.
type Orders interface {
	Lock(orderID string) func()
	ApplyPaymentStatus(ctx context.Context, upd order.PaymentUpdate) (*order.TransitionResult, error)
}

// Machine validates and applies payment status transitions and keeps the
// order's payment status mirrored. All mutations of Payment go through it.
type Machine struct {
	payments Repository
	gateway  Gateway
	orders   Orders
	tx       TxRunner
	now      func() time.Time
}

// NewMachine creates a payment Machine.
func NewMachine(payments Repository, gateway Gateway, orders Orders, tx TxRunner) *Machine {
	return &Machine{
		payments: payments,
		gateway:  gateway,
		orders:   orders,
		tx:       tx,
		now:      time.Now,
	}
}

// Result is the outcome of an accepted payment transition.
type Result struct {
	Payment *Payment
	// Applied is false when the operation was an idempotent no-op (the
	// payment already reflected the requested terminal state).
	Applied bool
	// RedirectURL is set when the cardholder must complete 3-D Secure.
	RedirectURL string
	// Order is the mirrored order transition, when one occurred.
	Order *order.TransitionResult
}

// InitiateRequest holds the input for starting a payment.
type InitiateRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Method   Method
	Actor    string
}

// Initiate creates a payment for the order and registers it with the
// gateway. The payment row is persisted before the gateway call, so a
// gateway timeout leaves a retriable Pending payment rather than nothing. A
// definitive gateway rejection moves it to Failed with an audit row.
func (m *Machine) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, fault.New(fault.Validation, "payment amount must be positive")
	}
	switch req.Method {
	case MethodCard, MethodCard3DS, MethodTransfer:
	default:
		return nil, fault.New(fault.Validation, "unknown payment method %q", req.Method)
	}
	if req.Currency == "" {
		return nil, fault.New(fault.Validation, "currency required")
	}

	unlock := m.orders.Lock(req.OrderID)
	defer unlock()

	if active, err := m.payments.GetActiveByOrderID(ctx, req.OrderID); err == nil && active != nil {
		return nil, fault.New(fault.Validation,
			"order %s already has an active payment %s", req.OrderID, active.ID)
	} else if err != nil && !fault.Is(err, fault.NotFound) {
		return nil, err
	}

	status := StatusPending
	if req.Method == MethodCard3DS {
		status = StatusWaiting3DS
	}
	p := &Payment{
		ID:           uuid.New().String(),
		OrderID:      req.OrderID,
		Method:       req.Method,
		Status:       status,
		Amount:       req.Amount.Round(2),
		RefundAmount: decimal.Zero,
		Currency:     req.Currency,
		CreatedAt:    m.now(),
		Version:      1,
	}
	if err := m.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	res, err := m.gateway.InitiatePayment(ctx, InitiateGatewayRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
	})
	if err != nil {
		if outcomeUnknown(err) {
			// The gateway may still have accepted it; stay retriable.
			return nil, fault.Wrap(err, fault.External, "initiate payment %s", p.ID)
		}
		if ferr := m.failTerminal(ctx, p, nil, "payment initiation rejected by gateway"); ferr != nil {
			return nil, ferr
		}
		return nil, fault.Wrap(err, fault.External, "payment %s rejected", p.ID)
	}

	p.GatewayPaymentID = res.GatewayPaymentID
	p.GatewayTransactionID = res.GatewayTransactionID
	p.GatewayResponse = res.Raw

	out := &Result{Payment: p, Applied: true, RedirectURL: res.RedirectURL}
	switch res.Status {
	case GatewaySucceeded:
		return out, m.markPaid(ctx, out, "payment captured at initiation")
	case GatewayRequires3DS:
		p.Status = StatusWaiting3DS
		return out, m.payments.Update(ctx, p)
	default:
		return out, m.payments.Update(ctx, p)
	}
}

// Verify3DSecure completes a 3-D Secure challenge. It is legal only while
// the payment waits for verification. A definitive gateway answer moves the
// payment to Success or Failed; an unknown-outcome error (timeout,
// unreachable gateway) leaves it waiting and retriable. Any other
// unexpected error still lands the payment in a consistent terminal Failed
// state rather than dangling.
func (m *Machine) Verify3DSecure(ctx context.Context, paymentID, actor string) (*Result, error) {
	p, unlock, err := m.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if p.Status != StatusWaiting3DS {
		return nil, fault.New(fault.InvalidTransition,
			"payment %s is %s, not awaiting 3-D Secure", p.ID, p.Status)
	}

	res, err := m.gateway.Verify3DSecure(ctx, p.GatewayPaymentID)
	if err != nil {
		if outcomeUnknown(err) {
			return nil, fault.Wrap(err, fault.External, "verify 3-D Secure for payment %s", p.ID)
		}
		if ferr := m.failTerminal(ctx, p, nil, "3-D Secure verification rejected"); ferr != nil {
			return nil, ferr
		}
		return nil, fault.Wrap(err, fault.External, "3-D Secure rejected for payment %s", p.ID)
	}

	p.GatewayResponse = res.Raw
	if res.GatewayTransactionID != "" {
		p.GatewayTransactionID = res.GatewayTransactionID
	}

	out := &Result{Payment: p, Applied: true}
	if res.Status != GatewaySucceeded {
		if ferr := m.failTerminal(ctx, p, res.Raw, "3-D Secure verification failed"); ferr != nil {
			return nil, ferr
		}
		return out, nil
	}
	return out, m.markPaid(ctx, out, "3-D Secure verification succeeded")
}

// Cancel cancels a payment that has not succeeded. The gateway is involved
// only when the payment reached it; otherwise the cancellation is local.
// On success the order is cancelled as well, which restores stock.
func (m *Machine) Cancel(ctx context.Context, paymentID, actor string) (*Result, error) {
	p, unlock, err := m.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if p.Status == StatusSuccess || p.Status == StatusCancelled {
		return nil, fault.New(fault.InvalidTransition,
			"payment %s cannot be cancelled in status %s", p.ID, p.Status)
	}

	if p.GatewayPaymentID != "" {
		res, err := m.gateway.CancelPayment(ctx, p.GatewayPaymentID)
		if err != nil {
			return nil, fault.Wrap(err, fault.External, "cancel payment %s at gateway", p.ID)
		}
		p.GatewayResponse = res.Raw
	}

	now := m.now()
	p.Status = StatusCancelled
	p.CancelledAt = &now

	out := &Result{Payment: p, Applied: true}
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.payments.Update(ctx, p); err != nil {
			return err
		}
		tr, err := m.orders.ApplyPaymentStatus(ctx, order.PaymentUpdate{
			OrderID:       p.OrderID,
			PaymentStatus: order.PaymentCancelled,
			CancelOrder:   true,
			Actor:         actor,
			Notes:         "payment cancelled",
		})
		out.Order = tr
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Refund refunds part or all of a successful payment. Refunds accumulate:
// the guard compares the requested amount against the remaining refundable
// total, never the per-call amount.
func (m *Machine) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason, actor string) (*Result, error) {
	p, unlock, err := m.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if p.Status != StatusSuccess && p.Status != StatusPartiallyRefunded {
		return nil, fault.New(fault.InvalidTransition,
			"payment %s cannot be refunded in status %s", p.ID, p.Status)
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Refundable()) {
		return nil, fault.New(fault.Validation,
			"invalid refund amount %s: refundable %s", amount, p.Refundable())
	}

	res, err := m.gateway.RefundPayment(ctx, p.GatewayPaymentID, amount, reason)
	if err != nil {
		return nil, fault.Wrap(err, fault.External, "refund payment %s at gateway", p.ID)
	}

	now := m.now()
	p.GatewayResponse = res.Raw
	p.RefundAmount = p.RefundAmount.Add(amount)

	mirror := order.PaymentPartiallyRefunded
	p.Status = StatusPartiallyRefunded
	if p.RefundAmount.GreaterThanOrEqual(p.Amount) {
		p.Status = StatusRefunded
		p.RefundedAt = &now
		mirror = order.PaymentRefunded
	}

	out := &Result{Payment: p, Applied: true}
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.payments.Update(ctx, p); err != nil {
			return err
		}
		tr, err := m.orders.ApplyPaymentStatus(ctx, order.PaymentUpdate{
			OrderID:       p.OrderID,
			PaymentStatus: mirror,
			Actor:         actor,
			Notes:         "refund of " + amount.StringFixed(2) + ": " + reason,
		})
		out.Order = tr
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// External webhook statuses recognized by HandleGatewayEvent.
const (
	ExternalSucceeded = "succeeded"
	ExternalFailed    = "failed"
	ExternalCancelled = "cancelled"
)

// HandleGatewayEvent applies a verified, parsed webhook event to the
// payment it correlates with. Re-delivered events whose terminal state the
// payment already reflects are absorbed as no-ops (Applied=false) without
// duplicate history rows or side effects. Unrecognized external statuses
// are rejected rather than silently coerced.
func (m *Machine) HandleGatewayEvent(ctx context.Context, ev *WebhookEvent, raw []byte) (*Result, error) {
	p, err := m.payments.GetByGatewayPaymentID(ctx, ev.GatewayPaymentID)
	if err != nil {
		return nil, err
	}

	unlock := m.orders.Lock(p.OrderID)
	defer unlock()

	// Reload under the lock; a concurrent transition may have advanced it.
	p, err = m.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	var implied Status
	switch ev.Status {
	case ExternalSucceeded:
		implied = StatusSuccess
	case ExternalFailed:
		implied = StatusFailed
	case ExternalCancelled:
		implied = StatusCancelled
	default:
		return nil, fault.New(fault.Internal, "unrecognized gateway status %q", ev.Status)
	}

	if alreadyReflects(p.Status, implied) {
		return &Result{Payment: p, Applied: false}, nil
	}
	if p.Status != StatusPending && p.Status != StatusWaiting3DS {
		return nil, fault.New(fault.InvalidTransition,
			"webhook %s for payment %s in status %s", ev.Status, p.ID, p.Status)
	}

	p.GatewayResponse = raw
	if ev.GatewayTransactionID != "" {
		p.GatewayTransactionID = ev.GatewayTransactionID
	}

	out := &Result{Payment: p, Applied: true}
	switch implied {
	case StatusSuccess:
		return out, m.markPaid(ctx, out, "gateway reported success")
	case StatusFailed:
		return out, m.failTerminal(ctx, p, raw, "gateway reported failure")
	default: // StatusCancelled
		now := m.now()
		p.Status = StatusCancelled
		p.CancelledAt = &now
		return out, m.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := m.payments.Update(ctx, p); err != nil {
				return err
			}
			tr, err := m.orders.ApplyPaymentStatus(ctx, order.PaymentUpdate{
				OrderID:       p.OrderID,
				PaymentStatus: order.PaymentCancelled,
				CancelOrder:   true,
				Actor:         "gateway",
				Notes:         "payment cancelled by gateway notification",
			})
			out.Order = tr
			return err
		})
	}
}

// alreadyReflects reports whether the payment's current status already
// subsumes the outcome a gateway notification implies. Gateways re-deliver
// until they see a 2xx, and a stale "succeeded" can arrive long after the
// payment moved on: a refunded or partially refunded payment was
// necessarily successful first, and a refunded payment implies any earlier
// cancellation attempt is moot.
func alreadyReflects(current, implied Status) bool {
	if current == implied {
		return true
	}
	switch implied {
	case StatusSuccess:
		return current == StatusPartiallyRefunded || current == StatusRefunded
	case StatusCancelled:
		return current == StatusRefunded
	}
	return false
}

// GetByID loads a payment.
func (m *Machine) GetByID(ctx context.Context, paymentID string) (*Payment, error) {
	return m.payments.GetByID(ctx, paymentID)
}

// load fetches the payment and acquires its order's lock, then reloads the
// payment so guards run against the serialized view.
func (m *Machine) load(ctx context.Context, paymentID string) (*Payment, func(), error) {
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}

	unlock := m.orders.Lock(p.OrderID)

	p, err = m.payments.GetByID(ctx, p.ID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return p, unlock, nil
}

// markPaid moves the payment to Success and mirrors Paid onto the order in
// one atomic unit.
func (m *Machine) markPaid(ctx context.Context, out *Result, notes string) error {
	p := out.Payment
	now := m.now()
	p.Status = StatusSuccess
	p.PaidAt = &now

	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.payments.Update(ctx, p); err != nil {
			return err
		}
		tr, err := m.orders.ApplyPaymentStatus(ctx, order.PaymentUpdate{
			OrderID:       p.OrderID,
			PaymentStatus: order.PaymentPaid,
			Actor:         "gateway",
			Notes:         notes,
		})
		out.Order = tr
		return err
	})
}

// failTerminal moves the payment to Failed and mirrors PaymentFailed onto
// the order, writing the audit row even though the outcome came from an
// external error.
func (m *Machine) failTerminal(ctx context.Context, p *Payment, raw []byte, notes string) error {
	p.Status = StatusFailed
	if raw != nil {
		p.GatewayResponse = raw
	}

	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.payments.Update(ctx, p); err != nil {
			return err
		}
		_, err := m.orders.ApplyPaymentStatus(ctx, order.PaymentUpdate{
			OrderID:       p.OrderID,
			PaymentStatus: order.PaymentFailed,
			Actor:         "gateway",
			Notes:         notes,
		})
		return err
	})
}

// outcomeUnknown reports whether the gateway error leaves the external
// outcome undetermined. Such calls must not move local state to Failed.
func outcomeUnknown(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
