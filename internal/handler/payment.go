package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/payment"
)

type paymentResponse struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Currency     string          `json:"currency"`
	GatewayID    string          `json:"gateway_payment_id,omitempty"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time      `json:"refunded_at,omitempty"`
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Status:       string(p.Status),
		Amount:       p.Amount,
		RefundAmount: p.RefundAmount,
		Currency:     p.Currency,
		GatewayID:    p.GatewayPaymentID,
		PaidAt:       p.PaidAt,
		CancelledAt:  p.CancelledAt,
		RefundedAt:   p.RefundedAt,
	}
}

// GetPayment returns a payment's current state.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// Verify3DSecure completes a pending 3-D Secure challenge.
func (h *Handler) Verify3DSecure(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.Verify3DSecure(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(res.Payment))
}

// CancelPayment cancels a payment and, with it, the order.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.Cancel(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(res.Payment))
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Actor  string          `json:"actor"`
}

// Refund refunds part or all of a successful payment.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.Refund(r.Context(), r.PathValue("id"), req.Amount, req.Reason, req.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(res.Payment))
}
