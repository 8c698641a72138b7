package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const selectProductSQL = `SELECT id, name, price, category, stock_quantity FROM products `

// GetByID loads one product.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := queryFrom(ctx, r.pool).QueryRow(ctx, selectProductSQL+`WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading product %q", id)
	}
	return &p, nil
}

// GetByIDs loads products in a single batch query. Missing IDs are simply
// absent from the result; callers decide whether that is an error.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := queryFrom(ctx, r.pool).Query(ctx, selectProductSQL+`WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "loading products")
	}
	defer rows.Close()

	var products []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.StockQuantity); err != nil {
			return nil, errors.Wrap(err, "scanning product")
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// DeductStock atomically subtracts quantity from the product's stock,
// failing when not enough stock remains.
func (r *ProductRepository) DeductStock(ctx context.Context, id string, quantity int) error {
	tag, err := queryFrom(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $1
		 WHERE id = $2 AND stock_quantity >= $1`,
		quantity, id,
	)
	if err != nil {
		return errors.Wrapf(err, "deducting stock of product %q", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.Validation, "insufficient stock for product %s", id)
	}
	return nil
}

// RestoreStock adds quantity back to the product's stock count. This is the
// compensation applied when an order is cancelled.
func (r *ProductRepository) RestoreStock(ctx context.Context, id string, quantity int) error {
	tag, err := queryFrom(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2`,
		quantity, id,
	)
	if err != nil {
		return errors.Wrapf(err, "restoring stock of product %q", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "product %s not found", id)
	}
	return nil
}
