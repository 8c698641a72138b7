package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/cargo"
	"github.com/xenking/orderflow/internal/domain/fault"
)

var _ cargo.Repository = (*CargoRepository)(nil)

// CargoRepository implements cargo.Repository backed by PostgreSQL.
type CargoRepository struct {
	pool *pgxpool.Pool
}

// NewCargoRepository returns a CargoRepository that uses the given pool.
func NewCargoRepository(pool *pgxpool.Pool) *CargoRepository {
	return &CargoRepository{pool: pool}
}

// Create persists a cargo identity.
func (r *CargoRepository) Create(ctx context.Context, c *cargo.Cargo) error {
	if _, err := queryFrom(ctx, r.pool).Exec(ctx,
		`INSERT INTO cargo (id, order_id, tracking_number, carrier, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.OrderID, c.TrackingNumber, c.Carrier, c.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "creating cargo %q", c.ID)
	}
	return nil
}

// GetByID loads one cargo identity.
func (r *CargoRepository) GetByID(ctx context.Context, id string) (*cargo.Cargo, error) {
	return r.get(ctx,
		`SELECT id, order_id, tracking_number, carrier, created_at FROM cargo WHERE id = $1`,
		id, "cargo "+id)
}

// GetByOrderID loads the cargo identity for an order.
func (r *CargoRepository) GetByOrderID(ctx context.Context, orderID string) (*cargo.Cargo, error) {
	return r.get(ctx,
		`SELECT id, order_id, tracking_number, carrier, created_at FROM cargo WHERE order_id = $1`,
		orderID, "cargo for order "+orderID)
}

func (r *CargoRepository) get(ctx context.Context, sql, arg, what string) (*cargo.Cargo, error) {
	var c cargo.Cargo
	err := queryFrom(ctx, r.pool).QueryRow(ctx, sql, arg).
		Scan(&c.ID, &c.OrderID, &c.TrackingNumber, &c.Carrier, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "%s not found", what)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", what)
	}
	return &c, nil
}

// AppendEntry appends one immutable tracking entry.
func (r *CargoRepository) AppendEntry(ctx context.Context, e *cargo.Entry) error {
	if _, err := queryFrom(ctx, r.pool).Exec(ctx,
		`INSERT INTO cargo_tracking (id, cargo_id, status, description, location, notes, source, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CargoID, e.Status, e.Description, e.Location, e.Notes, e.Source, e.RecordedAt,
	); err != nil {
		return errors.Wrapf(err, "appending tracking entry for cargo %q", e.CargoID)
	}
	return nil
}

const selectEntrySQL = `SELECT id, cargo_id, status, description, location, notes, source, recorded_at
	FROM cargo_tracking `

// ListEntries returns all tracking entries for the cargo, oldest first.
func (r *CargoRepository) ListEntries(ctx context.Context, cargoID string) ([]cargo.Entry, error) {
	rows, err := queryFrom(ctx, r.pool).Query(ctx,
		selectEntrySQL+`WHERE cargo_id = $1 ORDER BY recorded_at, id`, cargoID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing tracking entries of cargo %q", cargoID)
	}
	defer rows.Close()

	var entries []cargo.Entry
	for rows.Next() {
		var e cargo.Entry
		if err := rows.Scan(&e.ID, &e.CargoID, &e.Status, &e.Description,
			&e.Location, &e.Notes, &e.Source, &e.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scanning tracking entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestEntry returns the most recently recorded entry for the cargo.
func (r *CargoRepository) LatestEntry(ctx context.Context, cargoID string) (*cargo.Entry, error) {
	var e cargo.Entry
	err := queryFrom(ctx, r.pool).QueryRow(ctx,
		selectEntrySQL+`WHERE cargo_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, cargoID).
		Scan(&e.ID, &e.CargoID, &e.Status, &e.Description, &e.Location, &e.Notes, &e.Source, &e.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "no tracking entries for cargo %s", cargoID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading latest entry of cargo %q", cargoID)
	}
	return &e, nil
}
