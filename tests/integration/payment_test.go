//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func getPayment(t *testing.T, id string) paymentResponse {
	t.Helper()
	return decodeJSON[paymentResponse](t, doGet(t, "/api/payments/"+id))
}

func TestPayment_3DSecureFlow(t *testing.T) {
	res := checkout(t, "card_3ds", itemRequest{ProductID: "prod-kettle", Quantity: 1})

	if res.RedirectURL == "" {
		t.Fatal("expected a 3-D Secure redirect URL")
	}
	p := getPayment(t, res.PaymentID)
	if p.Status != "waiting_3d_secure" {
		t.Fatalf("payment status = %s, want waiting_3d_secure", p.Status)
	}

	resp := doPost(t, "/api/payments/"+res.PaymentID+"/verify-3ds", map[string]string{"actor": "user-integration"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-3ds: status %d", resp.StatusCode)
	}
	verified := decodeJSON[paymentResponse](t, resp)
	if verified.Status != "success" {
		t.Errorf("payment status = %s, want success", verified.Status)
	}

	order := decodeJSON[orderResponse](t, doGet(t, "/api/orders/"+res.Order.ID))
	if order.PaymentStatus != "paid" {
		t.Errorf("order payment_status = %s, want paid", order.PaymentStatus)
	}
}

func TestPayment_Verify3DSOnWrongState(t *testing.T) {
	res := checkout(t, "card", itemRequest{ProductID: "prod-kettle", Quantity: 1})

	// Card payments are already captured; verification is not legal.
	resp := doPost(t, "/api/payments/"+res.PaymentID+"/verify-3ds", map[string]string{"actor": "x"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestPayment_CancelCancelsOrder(t *testing.T) {
	res := checkout(t, "bank_transfer", itemRequest{ProductID: "prod-scale", Quantity: 3})

	resp := doPost(t, "/api/payments/"+res.PaymentID+"/cancel", map[string]string{"actor": "user-integration"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	cancelled := decodeJSON[paymentResponse](t, resp)
	if cancelled.Status != "cancelled" {
		t.Errorf("payment status = %s, want cancelled", cancelled.Status)
	}

	order := decodeJSON[orderResponse](t, doGet(t, "/api/orders/"+res.Order.ID))
	if order.Status != "cancelled" {
		t.Errorf("order status = %s, want cancelled", order.Status)
	}
	if order.PaymentStatus != "cancelled" {
		t.Errorf("order payment_status = %s, want cancelled", order.PaymentStatus)
	}
}

func TestPayment_CancelSucceededPaymentRejected(t *testing.T) {
	res := checkout(t, "card", itemRequest{ProductID: "prod-scale", Quantity: 1})

	resp := doPost(t, "/api/payments/"+res.PaymentID+"/cancel", map[string]string{"actor": "x"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestPayment_RefundAccumulates(t *testing.T) {
	// 2 * 28.40 + 5.00 shipping = 61.80
	res := checkout(t, "card", itemRequest{ProductID: "prod-beans-1kg", Quantity: 2})

	resp := doPost(t, "/api/payments/"+res.PaymentID+"/refund",
		map[string]string{"amount": "20.00", "reason": "one bag damaged", "actor": "support"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first refund: status %d", resp.StatusCode)
	}
	partial := decodeJSON[paymentResponse](t, resp)
	if partial.Status != "partially_refunded" {
		t.Errorf("status = %s, want partially_refunded", partial.Status)
	}

	// Exceeding the remaining refundable amount is rejected even though it
	// fits the original amount.
	resp = doPost(t, "/api/payments/"+res.PaymentID+"/refund",
		map[string]string{"amount": "50.00", "reason": "too much", "actor": "support"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("over-refund: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Refunding the exact remainder completes the refund.
	resp = doPost(t, "/api/payments/"+res.PaymentID+"/refund",
		map[string]string{"amount": "41.80", "reason": "order returned", "actor": "support"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("final refund: status %d", resp.StatusCode)
	}
	full := decodeJSON[paymentResponse](t, resp)
	if full.Status != "refunded" {
		t.Errorf("status = %s, want refunded", full.Status)
	}

	order := decodeJSON[orderResponse](t, doGet(t, "/api/orders/"+res.Order.ID))
	if order.PaymentStatus != "refunded" {
		t.Errorf("order payment_status = %s, want refunded", order.PaymentStatus)
	}
}

func TestWebhook_BankTransferSettles(t *testing.T) {
	res := checkout(t, "bank_transfer", itemRequest{ProductID: "prod-espresso-machine", Quantity: 1})

	p := getPayment(t, res.PaymentID)
	if p.Status != "pending" {
		t.Fatalf("payment status = %s, want pending", p.Status)
	}
	if p.GatewayID == "" {
		t.Fatal("gateway payment id missing")
	}

	payload, _ := json.Marshal(map[string]string{
		"event_id":       uuid.New().String(),
		"payment_id":     p.GatewayID,
		"transaction_id": "txn-settlement-1",
		"status":         "succeeded",
	})

	resp := deliverWebhook(t, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d", resp.StatusCode)
	}
	if got := decodeJSON[webhookResponse](t, resp); got.Status != "processed" {
		t.Errorf("webhook status = %s, want processed", got.Status)
	}

	// Re-delivery of the same notification is absorbed.
	resp = deliverWebhook(t, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook redelivery: status %d", resp.StatusCode)
	}
	if got := decodeJSON[webhookResponse](t, resp); got.Status != "duplicate" {
		t.Errorf("webhook status = %s, want duplicate", got.Status)
	}

	order := decodeJSON[orderResponse](t, doGet(t, "/api/orders/"+res.Order.ID))
	if order.PaymentStatus != "paid" {
		t.Errorf("order payment_status = %s, want paid", order.PaymentStatus)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	req, _ := json.Marshal(map[string]string{
		"event_id":   uuid.New().String(),
		"payment_id": "gw-anything",
		"status":     "succeeded",
	})

	resp := doPost(t, "/api/webhooks/payment", json.RawMessage(req))
	defer resp.Body.Close()

	// No signature header at all.
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhook_UnknownPayment(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{
		"event_id":   uuid.New().String(),
		"payment_id": "gw-" + uuid.New().String(),
		"status":     "succeeded",
	})

	resp := deliverWebhook(t, payload)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
