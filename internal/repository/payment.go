package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/fault"
	"github.com/xenking/orderflow/internal/domain/payment"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const createPaymentSQL = `INSERT INTO payments (
		id, order_id, method, status, amount, refund_amount, currency,
		gateway_payment_id, gateway_transaction_id, gateway_response,
		paid_at, cancelled_at, refunded_at, created_at, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if _, err := queryFrom(ctx, r.pool).Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.Method, p.Status, p.Amount, p.RefundAmount, p.Currency,
		p.GatewayPaymentID, p.GatewayTransactionID, p.GatewayResponse,
		p.PaidAt, p.CancelledAt, p.RefundedAt, p.CreatedAt, p.Version,
	); err != nil {
		return errors.Wrapf(err, "creating payment %q", p.ID)
	}
	return nil
}

const selectPaymentSQL = `SELECT
		id, order_id, method, status, amount, refund_amount, currency,
		gateway_payment_id, gateway_transaction_id, gateway_response,
		paid_at, cancelled_at, refunded_at, created_at, version
	FROM payments `

// GetByID loads one payment.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.get(ctx, selectPaymentSQL+`WHERE id = $1`, id, "payment "+id)
}

// GetByGatewayPaymentID loads the payment correlated with an external
// gateway payment identifier.
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*payment.Payment, error) {
	return r.get(ctx, selectPaymentSQL+`WHERE gateway_payment_id = $1`,
		gatewayPaymentID, "payment for gateway id "+gatewayPaymentID)
}

// GetActiveByOrderID loads the order's non-terminal payment, if any.
func (r *PaymentRepository) GetActiveByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.get(ctx,
		selectPaymentSQL+`WHERE order_id = $1 AND status NOT IN ('failed', 'cancelled', 'refunded') ORDER BY created_at DESC LIMIT 1`,
		orderID, "active payment for order "+orderID)
}

func (r *PaymentRepository) get(ctx context.Context, sql, arg, what string) (*payment.Payment, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, sql, arg)

	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Method, &p.Status, &p.Amount, &p.RefundAmount, &p.Currency,
		&p.GatewayPaymentID, &p.GatewayTransactionID, &p.GatewayResponse,
		&p.PaidAt, &p.CancelledAt, &p.RefundedAt, &p.CreatedAt, &p.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "%s not found", what)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", what)
	}
	return &p, nil
}

const updatePaymentSQL = `UPDATE payments SET
		status = $1, refund_amount = $2,
		gateway_payment_id = $3, gateway_transaction_id = $4, gateway_response = $5,
		paid_at = $6, cancelled_at = $7, refunded_at = $8,
		version = version + 1
	WHERE id = $9 AND version = $10`

// Update persists a payment transition, guarded by the payment's version.
// The caller's in-memory version is bumped on success.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	q := queryFrom(ctx, r.pool)

	tag, err := q.Exec(ctx, updatePaymentSQL,
		p.Status, p.RefundAmount,
		p.GatewayPaymentID, p.GatewayTransactionID, p.GatewayResponse,
		p.PaidAt, p.CancelledAt, p.RefundedAt,
		p.ID, p.Version,
	)
	if err != nil {
		return errors.Wrapf(err, "updating payment %q", p.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "checking payment %q", p.ID)
		}
		if exists {
			return fault.New(fault.Conflict, "concurrent transition on payment %s", p.ID)
		}
		return fault.New(fault.NotFound, "payment %s not found", p.ID)
	}
	p.Version++
	return nil
}
