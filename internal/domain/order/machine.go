package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/pkg/keyedmutex"
)

// Machine validates and applies order status transitions. It owns the Order
// aggregate: all mutations go through RequestTransition, ApplyPaymentStatus,
// or Create — never direct field writes.
type Machine struct {
	orders    Repository
	products  product.Repository
	shipments ShipmentRegistrar
	events    Events
	locks     *keyedmutex.Map
	now       func() time.Time
}

// NewMachine creates an order Machine. shipments and events may be nil when
// cargo registration or event publishing is not wired.
func NewMachine(
	orders Repository,
	products product.Repository,
	shipments ShipmentRegistrar,
	events Events,
	locks *keyedmutex.Map,
) *Machine {
	return &Machine{
		orders:    orders,
		products:  products,
		shipments: shipments,
		events:    events,
		locks:     locks,
		now:       time.Now,
	}
}

// RestockFailure reports one order line whose stock restoration failed
// during cancellation. The status change is already committed; these need
// manual reconciliation.
type RestockFailure struct {
	ProductID string
	Quantity  int
	Err       error
}

// TransitionResult is the outcome of an accepted transition.
type TransitionResult struct {
	Order           *Order
	History         StatusHistory
	RestockFailures []RestockFailure
}

// TransitionRequest carries a fulfillment transition command.
type TransitionRequest struct {
	OrderID   string
	NewStatus Status
	Actor     string
	Notes     string
	Tracking  *TrackingInfo
}

// RequestTransition applies a fulfillment transition. The status change,
// its status-specific fields, and one history row are persisted as a single
// atomic unit; either all of them are visible afterwards or none.
//
// Cancellation triggers stock restoration after the commit. Restoration is
// a compensating action: a partial failure never rolls back the status
// change, it is reported in the result for manual reconciliation.
func (m *Machine) RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if _, ok := ParseStatus(string(req.NewStatus)); !ok {
		return nil, fault.New(fault.Validation, "invalid status %q", req.NewStatus)
	}

	unlock := m.locks.Lock(req.OrderID)
	defer unlock()

	o, err := m.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(o.Status, req.NewStatus) {
		return nil, fault.New(fault.InvalidTransition,
			"cannot transition order %s from %s to %s", o.ID, o.Status, req.NewStatus)
	}

	now := m.now()
	prev := o.Status
	o.Status = req.NewStatus

	switch req.NewStatus {
	case StatusShipped:
		o.ShippedDate = &now
		if req.Tracking != nil && o.TrackingNumber == "" {
			o.TrackingNumber = req.Tracking.TrackingNumber
			o.CargoCarrier = req.Tracking.Carrier
		}
	case StatusDelivered:
		o.DeliveredDate = &now
	}

	h := StatusHistory{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		PreviousStatus: prev,
		NewStatus:      req.NewStatus,
		ChangedAt:      now,
		ChangedBy:      req.Actor,
		Notes:          req.Notes,
	}

	if err := m.orders.Update(ctx, o, &h); err != nil {
		return nil, err
	}

	res := &TransitionResult{Order: o, History: h}

	if req.NewStatus == StatusCancelled {
		res.RestockFailures = m.restoreStock(ctx, o)
	}
	if req.NewStatus == StatusShipped && m.shipments != nil && o.TrackingNumber != "" {
		if _, err := m.shipments.RegisterShipment(ctx, o.ID, o.TrackingNumber, o.CargoCarrier); err != nil {
			zctx.From(ctx).Error("register shipment",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	m.publish(ctx, o, &h)

	return res, nil
}

// PaymentUpdate mirrors a payment-machine outcome onto the order.
type PaymentUpdate struct {
	OrderID       string
	PaymentStatus PaymentStatus
	// CancelOrder additionally moves the fulfillment status to Cancelled
	// (payment cancellation cancels the order).
	CancelOrder bool
	Actor       string
	Notes       string
}

// ApplyPaymentStatus updates the order's payment status and, for
// cancellations, its fulfillment status. The caller (the payment machine)
// must already hold the per-order lock; this method does not acquire it.
// One history row is written per call so payment-driven outcomes, including
// failures, stay auditable.
func (m *Machine) ApplyPaymentStatus(ctx context.Context, upd PaymentUpdate) (*TransitionResult, error) {
	o, err := m.orders.GetByID(ctx, upd.OrderID)
	if err != nil {
		return nil, err
	}

	prev := o.Status
	cancelled := false
	if upd.CancelOrder && o.Status != StatusCancelled {
		if !CanTransition(o.Status, StatusCancelled) {
			return nil, fault.New(fault.InvalidTransition,
				"cannot cancel order %s in status %s", o.ID, o.Status)
		}
		o.Status = StatusCancelled
		cancelled = true
	}
	o.PaymentStatus = upd.PaymentStatus

	h := StatusHistory{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		PreviousStatus: prev,
		NewStatus:      o.Status,
		ChangedAt:      m.now(),
		ChangedBy:      upd.Actor,
		Notes:          upd.Notes,
	}

	if err := m.orders.Update(ctx, o, &h); err != nil {
		return nil, err
	}

	res := &TransitionResult{Order: o, History: h}
	if cancelled {
		res.RestockFailures = m.restoreStock(ctx, o)
	}
	m.publish(ctx, o, &h)

	return res, nil
}

// CreateRequest holds the input for creating an order at checkout.
type CreateRequest struct {
	UserID            string
	Items             []Item
	ShippingCost      decimal.Decimal
	TaxAmount         decimal.Decimal
	DiscountAmount    decimal.Decimal
	ShippingAddressID string
	BillingAddressID  string
	Actor             string
}

// Create builds and persists a new Pending order: validates the lines,
// prices them from the catalog, computes the monetary breakdown, deducts
// stock, and writes the order with its initial history row. Stock already
// deducted is restored if a later line fails.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, fault.New(fault.Validation, "order items required")
	}
	for _, amount := range []decimal.Decimal{req.ShippingCost, req.TaxAmount, req.DiscountAmount} {
		if amount.IsNegative() {
			return nil, fault.New(fault.Validation, "monetary amounts must be non-negative")
		}
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fault.New(fault.Validation,
				"quantity must be greater than 0 for product %s", item.ProductID)
		}
		ids[i] = item.ProductID
	}

	fetched, err := m.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	subtotal := decimal.Zero
	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, fault.New(fault.NotFound, "product %s not found", item.ProductID)
		}
		items[i] = Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		}
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	total := subtotal.Add(req.ShippingCost).Add(req.TaxAmount).Sub(req.DiscountAmount)
	if total.IsNegative() {
		return nil, fault.New(fault.Validation, "discount exceeds order total")
	}

	// Deduct stock line by line; undo what succeeded if a line fails.
	deducted := make([]Item, 0, len(items))
	for _, item := range items {
		if err := m.products.DeductStock(ctx, item.ProductID, item.Quantity); err != nil {
			for _, d := range deducted {
				if rerr := m.products.RestoreStock(ctx, d.ProductID, d.Quantity); rerr != nil {
					zctx.From(ctx).Error("restore stock after failed checkout",
						zap.String("product_id", d.ProductID), zap.Error(rerr))
				}
			}
			return nil, err
		}
		deducted = append(deducted, item)
	}

	now := m.now()
	o := &Order{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Items:             items,
		Subtotal:          subtotal.Round(2),
		ShippingCost:      req.ShippingCost.Round(2),
		TaxAmount:         req.TaxAmount.Round(2),
		DiscountAmount:    req.DiscountAmount.Round(2),
		Total:             total.Round(2),
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		OrderDate:         now,
		Version:           1,
	}
	h := StatusHistory{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		NewStatus: StatusPending,
		ChangedAt: now,
		ChangedBy: req.Actor,
		Notes:     "order created",
	}

	if err := m.orders.Create(ctx, o, &h); err != nil {
		for _, d := range deducted {
			if rerr := m.products.RestoreStock(ctx, d.ProductID, d.Quantity); rerr != nil {
				zctx.From(ctx).Error("restore stock after failed create",
					zap.String("product_id", d.ProductID), zap.Error(rerr))
			}
		}
		return nil, err
	}

	return o, nil
}

// Get loads an order with its full status history.
func (m *Machine) Get(ctx context.Context, orderID string) (*Order, []StatusHistory, error) {
	o, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	history, err := m.orders.ListHistory(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, history, nil
}

// Lock acquires the per-order serialization lock. The payment machine uses
// it to hold the lock across a payment transition and the order mirror.
func (m *Machine) Lock(orderID string) func() {
	return m.locks.Lock(orderID)
}

func (m *Machine) restoreStock(ctx context.Context, o *Order) []RestockFailure {
	var failures []RestockFailure
	for _, item := range o.Items {
		if err := m.products.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			failures = append(failures, RestockFailure{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Err:       err,
			})
			zctx.From(ctx).Error("stock restoration failed, manual reconciliation required",
				zap.String("order_id", o.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
	return failures
}

func (m *Machine) publish(ctx context.Context, o *Order, h *StatusHistory) {
	if m.events != nil {
		m.events.StatusChanged(ctx, o, h)
	}
}
