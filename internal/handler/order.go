package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/payment"
)

type checkoutRequest struct {
	UserID            string              `json:"user_id"`
	Items             []checkoutItem      `json:"items"`
	ShippingCost      decimal.Decimal     `json:"shipping_cost"`
	TaxAmount         decimal.Decimal     `json:"tax_amount"`
	DiscountAmount    decimal.Decimal     `json:"discount_amount"`
	ShippingAddressID string              `json:"shipping_address_id"`
	BillingAddressID  string              `json:"billing_address_id"`
	Payment           checkoutPaymentPart `json:"payment"`
}

type checkoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutPaymentPart struct {
	Method   string `json:"method"`
	Currency string `json:"currency"`
}

type checkoutResponse struct {
	Order       orderResponse `json:"order"`
	PaymentID   string        `json:"payment_id"`
	RedirectURL string        `json:"redirect_url,omitempty"`
}

// Checkout creates an order and initiates its payment. The order exists
// even when payment initiation is left retriable by a gateway outage; the
// caller re-initiates through the payment endpoints.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]order.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:            req.UserID,
		Items:             items,
		ShippingCost:      req.ShippingCost,
		TaxAmount:         req.TaxAmount,
		DiscountAmount:    req.DiscountAmount,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Actor:             req.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.Initiate(r.Context(), payment.InitiateRequest{
		OrderID:  o.ID,
		Amount:   o.Total,
		Currency: req.Payment.Currency,
		Method:   payment.Method(req.Payment.Method),
		Actor:    req.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:       toOrderResponse(o, nil),
		PaymentID:   res.Payment.ID,
		RedirectURL: res.RedirectURL,
	})
}

type transitionRequest struct {
	NewStatus      string `json:"new_status"`
	Actor          string `json:"actor"`
	Notes          string `json:"notes"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

type transitionResponse struct {
	Order           orderResponse    `json:"order"`
	History         historyResponse  `json:"history"`
	RestockFailures []restockFailure `json:"restock_failures,omitempty"`
}

type restockFailure struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Error     string `json:"error"`
}

// Transition applies a fulfillment status change to an order.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, ok := order.ParseStatus(req.NewStatus)
	if !ok {
		writeError(w, r, fault.New(fault.Validation, "invalid status %q", req.NewStatus))
		return
	}

	var tracking *order.TrackingInfo
	if req.TrackingNumber != "" {
		tracking = &order.TrackingInfo{
			TrackingNumber: req.TrackingNumber,
			Carrier:        req.Carrier,
		}
	}

	res, err := h.orders.RequestTransition(r.Context(), order.TransitionRequest{
		OrderID:   r.PathValue("id"),
		NewStatus: status,
		Actor:     req.Actor,
		Notes:     req.Notes,
		Tracking:  tracking,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := transitionResponse{
		Order:   toOrderResponse(res.Order, nil),
		History: toHistoryResponse(res.History),
	}
	for _, f := range res.RestockFailures {
		resp.RestockFailures = append(resp.RestockFailures, restockFailure{
			ProductID: f.ProductID,
			Quantity:  f.Quantity,
			Error:     f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns an order with its full status history.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, history, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, history))
}

type orderResponse struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Items          []orderItem       `json:"items"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	ShippingCost   decimal.Decimal   `json:"shipping_cost"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	Total          decimal.Decimal   `json:"total"`
	Status         string            `json:"status"`
	PaymentStatus  string            `json:"payment_status"`
	TrackingNumber string            `json:"tracking_number,omitempty"`
	CargoCarrier   string            `json:"cargo_carrier,omitempty"`
	OrderDate      time.Time         `json:"order_date"`
	ShippedDate    *time.Time        `json:"shipped_date,omitempty"`
	DeliveredDate  *time.Time        `json:"delivered_date,omitempty"`
	History        []historyResponse `json:"history,omitempty"`
}

type orderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type historyResponse struct {
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ChangedAt      time.Time `json:"changed_at"`
	ChangedBy      string    `json:"changed_by"`
	Notes          string    `json:"notes,omitempty"`
}

func toOrderResponse(o *order.Order, history []order.StatusHistory) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		Subtotal:       o.Subtotal,
		ShippingCost:   o.ShippingCost,
		TaxAmount:      o.TaxAmount,
		DiscountAmount: o.DiscountAmount,
		Total:          o.Total,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		TrackingNumber: o.TrackingNumber,
		CargoCarrier:   o.CargoCarrier,
		OrderDate:      o.OrderDate,
		ShippedDate:    o.ShippedDate,
		DeliveredDate:  o.DeliveredDate,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	for _, h := range history {
		resp.History = append(resp.History, toHistoryResponse(h))
	}
	return resp
}

func toHistoryResponse(h order.StatusHistory) historyResponse {
	return historyResponse{
		PreviousStatus: string(h.PreviousStatus),
		NewStatus:      string(h.NewStatus),
		ChangedAt:      h.ChangedAt,
		ChangedBy:      h.ChangedBy,
		Notes:          h.Notes,
	}
}
