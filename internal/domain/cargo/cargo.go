package cargo

import (
	"context"
	"time"
)

// Cargo is the shipment identity created when an order ships. Its current
// status is derived from the most recently recorded entry, never stored
// separately.
type Cargo struct {
	ID             string
	OrderID        string
	TrackingNumber string
	Carrier        string
	CreatedAt      time.Time
}

// Entry is one immutable carrier status event. Carrier-reported statuses
// may arrive out of chronological order or be corrected; entries are
// appended as received and never validated against a transition table.
type Entry struct {
	ID          string
	CargoID     string
	Status      string
	Description string
	Location    string
	Notes       string
	// Source identifies who reported the event: carrier push, manual
	// entry, or a bulk import.
	Source     string
	RecordedAt time.Time
}

// Repository defines ledger operations for cargo identities and their
// append-only entry history.
type Repository interface {
	Create(ctx context.Context, c *Cargo) error
	GetByID(ctx context.Context, id string) (*Cargo, error)
	GetByOrderID(ctx context.Context, orderID string) (*Cargo, error)
	AppendEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, cargoID string) ([]Entry, error)
	LatestEntry(ctx context.Context, cargoID string) (*Entry, error)
}
