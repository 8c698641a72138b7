package cargo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/fault"
)

// --- Mock implementations ---

type mockCargoRepo struct {
	byID      map[string]*Cargo
	entries   []Entry
	createErr error
	appendErr error
}

func newMockCargoRepo() *mockCargoRepo {
	return &mockCargoRepo{byID: map[string]*Cargo{}}
}

func (m *mockCargoRepo) Create(_ context.Context, c *Cargo) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *mockCargoRepo) GetByID(_ context.Context, id string) (*Cargo, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "cargo %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCargoRepo) GetByOrderID(_ context.Context, orderID string) (*Cargo, error) {
	for _, c := range m.byID {
		if c.OrderID == orderID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fault.New(fault.NotFound, "cargo for order %s not found", orderID)
}

func (m *mockCargoRepo) AppendEntry(_ context.Context, e *Entry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockCargoRepo) ListEntries(_ context.Context, cargoID string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.CargoID == cargoID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockCargoRepo) LatestEntry(_ context.Context, cargoID string) (*Entry, error) {
	var latest *Entry
	for i := range m.entries {
		e := &m.entries[i]
		if e.CargoID != cargoID {
			continue
		}
		if latest == nil || e.RecordedAt.After(latest.RecordedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, fault.New(fault.NotFound, "no entries for cargo %s", cargoID)
	}
	cp := *latest
	return &cp, nil
}

// --- Tests ---

func newTestRecorder(repo *mockCargoRepo) *Recorder {
	r := NewRecorder(repo)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRecordStatus_Validation(t *testing.T) {
	r := newTestRecorder(newMockCargoRepo())

	_, err := r.RecordStatus(context.Background(), RecordRequest{Status: "in_transit"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))

	_, err = r.RecordStatus(context.Background(), RecordRequest{CargoID: "c1"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))
}

func TestRecordStatus_CargoNotFound(t *testing.T) {
	r := newTestRecorder(newMockCargoRepo())

	_, err := r.RecordStatus(context.Background(), RecordRequest{
		CargoID: "missing",
		Status:  "in_transit",
	})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestRecordStatus_AppendsEntry(t *testing.T) {
	repo := newMockCargoRepo()
	repo.byID["c1"] = &Cargo{ID: "c1", OrderID: "o1"}
	r := newTestRecorder(repo)

	e, err := r.RecordStatus(context.Background(), RecordRequest{
		CargoID:     "c1",
		Status:      "in_transit",
		Description: "departed facility",
		Location:    "Hamburg",
		Source:      "carrier",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "in_transit", e.Status)
	assert.Equal(t, "Hamburg", e.Location)
	require.Len(t, repo.entries, 1)
}

func TestRecordStatus_NoTransitionTable(t *testing.T) {
	repo := newMockCargoRepo()
	repo.byID["c1"] = &Cargo{ID: "c1", OrderID: "o1"}
	r := newTestRecorder(repo)

	// Carriers re-send and reorder events; every report is kept.
	for _, status := range []string{"delivered", "in_transit", "delivered", "created"} {
		_, err := r.RecordStatus(context.Background(), RecordRequest{
			CargoID: "c1",
			Status:  status,
			Source:  "carrier",
		})
		require.NoError(t, err)
	}
	assert.Len(t, repo.entries, 4)
}

func TestRegisterShipment_SeedsFirstEntry(t *testing.T) {
	repo := newMockCargoRepo()
	r := newTestRecorder(repo)

	id, err := r.RegisterShipment(context.Background(), "o1", "TRK-1", "ups")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c, ok := repo.byID[id]
	require.True(t, ok)
	assert.Equal(t, "o1", c.OrderID)
	assert.Equal(t, "TRK-1", c.TrackingNumber)
	assert.Equal(t, "ups", c.Carrier)

	require.Len(t, repo.entries, 1)
	assert.Equal(t, "created", repo.entries[0].Status)
	assert.Equal(t, "system", repo.entries[0].Source)
}

func TestCurrentStatus_LatestWins(t *testing.T) {
	repo := newMockCargoRepo()
	repo.byID["c1"] = &Cargo{ID: "c1", OrderID: "o1"}
	r := NewRecorder(repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(2 * time.Hour), base.Add(time.Hour)}
	statuses := []string{"created", "delivered", "in_transit"}
	for i, status := range statuses {
		at := times[i]
		r.now = func() time.Time { return at }
		_, err := r.RecordStatus(context.Background(), RecordRequest{
			CargoID: "c1",
			Status:  status,
			Source:  "carrier",
		})
		require.NoError(t, err)
	}

	// The "in_transit" entry arrived last but carries an earlier timestamp;
	// "delivered" is still the current status.
	_, latest, err := r.CurrentStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "delivered", latest.Status)
}

func TestHistory(t *testing.T) {
	repo := newMockCargoRepo()
	repo.byID["c1"] = &Cargo{ID: "c1", OrderID: "o1"}
	r := newTestRecorder(repo)

	for _, status := range []string{"created", "in_transit"} {
		_, err := r.RecordStatus(context.Background(), RecordRequest{
			CargoID: "c1", Status: status, Source: "carrier",
		})
		require.NoError(t, err)
	}

	entries, err := r.History(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = r.History(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.NotFound))
}
