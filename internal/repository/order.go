package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, tx: NewTxRunner(pool)}
}

const createOrderSQL = `INSERT INTO orders (
		id, user_id, items, subtotal, shipping_cost, tax_amount, discount_amount, total,
		status, payment_status, shipping_address_id, billing_address_id,
		tracking_number, cargo_carrier, order_date, shipped_date, delivered_date, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const insertHistorySQL = `INSERT INTO order_status_history
		(id, order_id, previous_status, new_status, changed_at, changed_by, notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Create persists a new order together with its initial history row.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, h *order.StatusHistory) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshaling order items")
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := queryFrom(ctx, r.pool)

		if _, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, itemsJSON,
			o.Subtotal, o.ShippingCost, o.TaxAmount, o.DiscountAmount, o.Total,
			o.Status, o.PaymentStatus, o.ShippingAddressID, o.BillingAddressID,
			o.TrackingNumber, o.CargoCarrier, o.OrderDate, o.ShippedDate, o.DeliveredDate,
			o.Version,
		); err != nil {
			return errors.Wrapf(err, "creating order %q", o.ID)
		}

		return insertHistory(ctx, q, h)
	})
}

const getOrderSQL = `SELECT
		id, user_id, items, subtotal, shipping_cost, tax_amount, discount_amount, total,
		status, payment_status, shipping_address_id, billing_address_id,
		tracking_number, cargo_carrier, order_date, shipped_date, delivered_date, version
	FROM orders WHERE id = $1`

// GetByID loads one order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, getOrderSQL, id)

	var (
		o         order.Order
		itemsJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON,
		&o.Subtotal, &o.ShippingCost, &o.TaxAmount, &o.DiscountAmount, &o.Total,
		&o.Status, &o.PaymentStatus, &o.ShippingAddressID, &o.BillingAddressID,
		&o.TrackingNumber, &o.CargoCarrier, &o.OrderDate, &o.ShippedDate, &o.DeliveredDate,
		&o.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading order %q", id)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling items of order %q", id)
	}
	return &o, nil
}

const updateOrderSQL = `UPDATE orders SET
		status = $1, payment_status = $2,
		tracking_number = $3, cargo_carrier = $4,
		shipped_date = $5, delivered_date = $6,
		version = version + 1
	WHERE id = $7 AND version = $8`

// Update persists a state transition: the mutated order fields plus one
// history row, atomically, guarded by the order's version. A concurrent
// transition that advanced the version first surfaces as a conflict.
// The caller's in-memory version is bumped on success.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, h *order.StatusHistory) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := queryFrom(ctx, r.pool)

		tag, err := q.Exec(ctx, updateOrderSQL,
			o.Status, o.PaymentStatus,
			o.TrackingNumber, o.CargoCarrier,
			o.ShippedDate, o.DeliveredDate,
			o.ID, o.Version,
		)
		if err != nil {
			return errors.Wrapf(err, "updating order %q", o.ID)
		}
		if tag.RowsAffected() == 0 {
			return r.classifyMiss(ctx, q, o.ID)
		}
		o.Version++

		return insertHistory(ctx, q, h)
	})
}

// classifyMiss distinguishes a version conflict from a missing row.
func (r *OrderRepository) classifyMiss(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "checking order %q", id)
	}
	if exists {
		return fault.New(fault.Conflict, "concurrent transition on order %s", id)
	}
	return fault.New(fault.NotFound, "order %s not found", id)
}

const listHistorySQL = `SELECT id, order_id, previous_status, new_status, changed_at, changed_by, notes
	FROM order_status_history WHERE order_id = $1 ORDER BY changed_at, id`

// ListHistory returns the order's audit trail, oldest first.
func (r *OrderRepository) ListHistory(ctx context.Context, orderID string) ([]order.StatusHistory, error) {
	rows, err := queryFrom(ctx, r.pool).Query(ctx, listHistorySQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing history of order %q", orderID)
	}
	defer rows.Close()

	var history []order.StatusHistory
	for rows.Next() {
		var h order.StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus,
			&h.ChangedAt, &h.ChangedBy, &h.Notes); err != nil {
			return nil, errors.Wrap(err, "scanning history row")
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func insertHistory(ctx context.Context, q querier, h *order.StatusHistory) error {
	if _, err := q.Exec(ctx, insertHistorySQL,
		h.ID, h.OrderID, h.PreviousStatus, h.NewStatus, h.ChangedAt, h.ChangedBy, h.Notes,
	); err != nil {
		return errors.Wrapf(err, "appending history for order %q", h.OrderID)
	}
	return nil
}
