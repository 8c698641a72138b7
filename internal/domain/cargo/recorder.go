package cargo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/orderflow/internal/domain/fault"
)

// Recorder appends carrier status events and serves the current-status read
// model. It also registers the cargo identity when an order ships.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder creates a Recorder backed by the given repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// RecordRequest carries one carrier status event.
type RecordRequest struct {
	CargoID     string
	Status      string
	Description string
	Location    string
	Notes       string
	Source      string
}

// RecordStatus appends one immutable entry for the cargo. There is no
// transition table here: carriers re-send, reorder, and correct events, so
// every report is kept and the latest RecordedAt wins in the read model.
func (r *Recorder) RecordStatus(ctx context.Context, req RecordRequest) (*Entry, error) {
	if req.CargoID == "" {
		return nil, fault.New(fault.Validation, "cargo id required")
	}
	if req.Status == "" {
		return nil, fault.New(fault.Validation, "status required")
	}

	if _, err := r.repo.GetByID(ctx, req.CargoID); err != nil {
		return nil, err
	}

	e := &Entry{
		ID:          uuid.New().String(),
		CargoID:     req.CargoID,
		Status:      req.Status,
		Description: req.Description,
		Location:    req.Location,
		Notes:       req.Notes,
		Source:      req.Source,
		RecordedAt:  r.now(),
	}
	if err := r.repo.AppendEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterShipment creates the cargo identity for a shipped order and seeds
// its first entry. It satisfies order.ShipmentRegistrar.
func (r *Recorder) RegisterShipment(ctx context.Context, orderID, trackingNumber, carrier string) (string, error) {
	c := &Cargo{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		CreatedAt:      r.now(),
	}
	if err := r.repo.Create(ctx, c); err != nil {
		return "", err
	}

	_, err := r.RecordStatus(ctx, RecordRequest{
		CargoID:     c.ID,
		Status:      "created",
		Description: "shipment registered",
		Source:      "system",
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// ForOrder returns the cargo registered for an order.
func (r *Recorder) ForOrder(ctx context.Context, orderID string) (*Cargo, error) {
	return r.repo.GetByOrderID(ctx, orderID)
}

// CurrentStatus returns the cargo with its latest entry.
func (r *Recorder) CurrentStatus(ctx context.Context, cargoID string) (*Cargo, *Entry, error) {
	c, err := r.repo.GetByID(ctx, cargoID)
	if err != nil {
		return nil, nil, err
	}
	latest, err := r.repo.LatestEntry(ctx, cargoID)
	if err != nil {
		return nil, nil, err
	}
	return c, latest, nil
}

// History returns all recorded entries for the cargo, oldest first.
func (r *Recorder) History(ctx context.Context, cargoID string) ([]Entry, error) {
	if _, err := r.repo.GetByID(ctx, cargoID); err != nil {
		return nil, err
	}
	return r.repo.ListEntries(ctx, cargoID)
}
