// Package webhook is the re-entrant, idempotent entry point for
// asynchronous gateway notifications.
package webhook

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/payment"
)

// Machine is the slice of the payment state machine the processor drives.
type Machine interface {
	HandleGatewayEvent(ctx context.Context, ev *payment.WebhookEvent, raw []byte) (*payment.Result, error)
}

// Processor verifies, deduplicates, and applies gateway webhooks. It always
// yields a definitive outcome: expected failures carry their taxonomy code,
// anything unexpected is logged and surfaced as an opaque internal fault,
// never an unhandled one — gateways retry on non-2xx indefinitely.
type Processor struct {
	verifier payment.WebhookVerifier
	payments Machine
}

// NewProcessor creates a Processor.
func NewProcessor(verifier payment.WebhookVerifier, payments Machine) *Processor {
	return &Processor{verifier: verifier, payments: payments}
}

// Result is the outcome of processing one webhook delivery.
type Result struct {
	// Duplicate is true when the delivery was absorbed as an idempotent
	// no-op: the payment already reflected the state this webhook implies.
	Duplicate bool
	Event     *payment.WebhookEvent
	Payment   *payment.Payment
}

// Process handles one raw webhook delivery.
//
// Order of checks: signature (fail closed), payload shape, payment lookup,
// idempotency, then the state machines — applied atomically with the raw
// payload retained on the payment row for audit. A payment that cannot be
// found is a data-integrity problem and is reported, not retried.
func (p *Processor) Process(ctx context.Context, rawPayload []byte, signature string) (*Result, error) {
	if err := p.verifier.VerifyWebhookSignature(rawPayload, signature); err != nil {
		return nil, fault.Wrap(err, fault.Validation, "invalid webhook signature")
	}

	ev, err := p.verifier.ParseWebhookPayload(rawPayload)
	if err != nil {
		return nil, fault.Wrap(err, fault.Validation, "malformed webhook payload")
	}

	lg := zctx.From(ctx).With(
		zap.String("gateway_payment_id", ev.GatewayPaymentID),
		zap.String("gateway_status", ev.Status),
	)

	res, err := p.payments.HandleGatewayEvent(ctx, ev, rawPayload)
	if err != nil {
		switch f := fault.From(err); f.Code {
		case fault.NotFound:
			return nil, fault.Wrap(err, fault.NotFound,
				"payment for gateway id %s not found", ev.GatewayPaymentID)
		case fault.InvalidTransition, fault.Conflict, fault.External:
			return nil, err
		default:
			lg.Error("webhook processing failed", zap.Error(err))
			return nil, fault.Wrap(errors.Wrap(err, "apply gateway event"),
				fault.Internal, "webhook processing failed")
		}
	}

	if !res.Applied {
		lg.Info("duplicate webhook absorbed")
		return &Result{Duplicate: true, Event: ev, Payment: res.Payment}, nil
	}

	lg.Info("webhook applied", zap.String("payment_status", string(res.Payment.Status)))
	return &Result{Event: ev, Payment: res.Payment}, nil
}
