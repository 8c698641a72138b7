package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	Category      string
	StockQuantity int
}

// Repository defines catalog and stock operations used by the lifecycle
// engine. RestoreStock is the compensation target for order cancellation:
// it adds a line's quantity back to the product's stock count.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	DeductStock(ctx context.Context, id string, quantity int) error
	RestoreStock(ctx context.Context, id string, quantity int) error
}
