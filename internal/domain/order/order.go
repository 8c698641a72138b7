package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the fulfillment-side aggregate of the lifecycle engine. Status
// and PaymentStatus are deliberately two orthogonal fields: fulfillment and
// payment progress independently and are synchronized by the state machines,
// never collapsed into one enum.
type Order struct {
	ID     string
	UserID string
	Items  []Item

	// Monetary breakdown. Total = Subtotal + ShippingCost + TaxAmount - DiscountAmount.
	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal

	Status        Status
	PaymentStatus PaymentStatus

	ShippingAddressID string
	BillingAddressID  string

	// Tracking fields are set once, when the order ships.
	TrackingNumber string
	CargoCarrier   string

	OrderDate     time.Time
	ShippedDate   *time.Time
	DeliveredDate *time.Time

	// Version guards against concurrent transitions: every accepted
	// transition increments it, and the ledger rejects updates whose
	// version does not match the stored row.
	Version int64
}

// Item is a single order line.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// StatusHistory is one immutable audit entry per accepted transition.
// Entries are never mutated or deleted; they are the source of truth for
// "has this transition already happened".
type StatusHistory struct {
	ID             string
	OrderID        string
	PreviousStatus Status
	NewStatus      Status
	ChangedAt      time.Time
	ChangedBy      string
	Notes          string
}

// TrackingInfo carries optional shipment details supplied with a Shipped
// transition.
type TrackingInfo struct {
	TrackingNumber string
	Carrier        string
}

// Repository defines ledger operations for orders. Update must persist the
// mutated order fields and append the history row in one atomic unit,
// guarded by the order's version; implementations report a version mismatch
// as a fault.Conflict.
type Repository interface {
	Create(ctx context.Context, o *Order, h *StatusHistory) error
	GetByID(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order, h *StatusHistory) error
	ListHistory(ctx context.Context, orderID string) ([]StatusHistory, error)
}

// ShipmentRegistrar creates the cargo tracking identity when an order ships.
type ShipmentRegistrar interface {
	RegisterShipment(ctx context.Context, orderID, trackingNumber, carrier string) (string, error)
}

// Events receives fire-and-forget notifications after committed transitions.
// Implementations must not block the caller on delivery.
type Events interface {
	StatusChanged(ctx context.Context, o *Order, h *StatusHistory)
}
