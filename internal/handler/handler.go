// Package handler exposes the lifecycle engine over HTTP. It is a thin
// layer: decode, delegate to the state machines, map fault codes to status
// codes. No business rules live here.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/cargo"
	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/webhook"
)

// Handler serves the lifecycle API.
type Handler struct {
	orders   *order.Machine
	payments *payment.Machine
	cargo    *cargo.Recorder
	webhooks *webhook.Processor
}

// NewHandler constructs a Handler with the required collaborators.
func NewHandler(
	orders *order.Machine,
	payments *payment.Machine,
	recorder *cargo.Recorder,
	webhooks *webhook.Processor,
) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		cargo:    recorder,
		webhooks: webhooks,
	}
}

// Register mounts all API routes on mux. Command routes are wrapped with
// the caller-supplied API-key auth plus a per-resource scope check; the
// webhook route is authenticated by the gateway signature instead.
func (h *Handler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	protected := func(scope string, fn http.HandlerFunc) http.Handler {
		return authn(requireScope(scope, fn))
	}

	mux.Handle("POST /api/orders", protected(auth.ScopeOrders, h.Checkout))
	mux.Handle("GET /api/orders/{id}", protected(auth.ScopeOrders, h.GetOrder))
	mux.Handle("POST /api/orders/{id}/transition", protected(auth.ScopeOrders, h.Transition))
	mux.Handle("GET /api/orders/{id}/cargo", protected(auth.ScopeCargo, h.GetOrderCargo))
	mux.Handle("GET /api/payments/{id}", protected(auth.ScopePayments, h.GetPayment))
	mux.Handle("POST /api/payments/{id}/verify-3ds", protected(auth.ScopePayments, h.Verify3DSecure))
	mux.Handle("POST /api/payments/{id}/cancel", protected(auth.ScopePayments, h.CancelPayment))
	mux.Handle("POST /api/payments/{id}/refund", protected(auth.ScopePayments, h.Refund))
	mux.Handle("POST /api/cargo/{id}/events", protected(auth.ScopeCargo, h.RecordCargoStatus))
	mux.Handle("GET /api/cargo/{id}", protected(auth.ScopeCargo, h.GetCargo))
	mux.HandleFunc("POST /api/webhooks/payment", h.PaymentWebhook)
}

// requireScope rejects authenticated callers whose key does not carry the
// scope for the resource. Fails closed when no key is on the context.
func requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := auth.FromContext(r.Context())
		if key == nil || !key.HasScope(scope) {
			writeJSON(w, http.StatusForbidden, errorResponse{
				Code:    "forbidden",
				Message: "api key lacks scope " + scope,
			})
			return
		}
		next(w, r)
	}
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeError maps a fault code to an HTTP status and a stable error body.
// Retryable conditions (external failures, conflicts) are marked so callers
// can drive retry policy mechanically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	f := fault.From(err)

	status := http.StatusInternalServerError
	switch f.Code {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.InvalidTransition:
		status = http.StatusUnprocessableEntity
	case fault.Conflict:
		status = http.StatusConflict
	case fault.External:
		status = http.StatusBadGateway
	}

	msg := f.Message
	if f.Code == fault.Internal {
		// Opaque to callers; full context goes to the log.
		zctx.From(r.Context()).Error("internal fault", zap.Error(err))
		msg = "internal error"
	}

	writeJSON(w, status, errorResponse{
		Code:      string(f.Code),
		Message:   msg,
		Retryable: fault.Retryable(f),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(err, fault.Validation, "invalid request body")
	}
	return nil
}
