package handler

import (
	"net/http"
	"time"

	"github.com/xenking/orderflow/internal/domain/cargo"
)

type recordCargoRequest struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	Source      string `json:"source"`
}

type cargoEntryResponse struct {
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Source      string    `json:"source,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type cargoResponse struct {
	ID             string               `json:"id"`
	OrderID        string               `json:"order_id"`
	TrackingNumber string               `json:"tracking_number"`
	Carrier        string               `json:"carrier"`
	CurrentStatus  string               `json:"current_status"`
	History        []cargoEntryResponse `json:"history,omitempty"`
}

// RecordCargoStatus appends one carrier status event.
func (h *Handler) RecordCargoStatus(w http.ResponseWriter, r *http.Request) {
	var req recordCargoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.cargo.RecordStatus(r.Context(), cargo.RecordRequest{
		CargoID:     r.PathValue("id"),
		Status:      req.Status,
		Description: req.Description,
		Location:    req.Location,
		Notes:       req.Notes,
		Source:      req.Source,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(*e))
}

// GetCargo returns the cargo's current status and full event history.
func (h *Handler) GetCargo(w http.ResponseWriter, r *http.Request) {
	h.writeCargo(w, r, r.PathValue("id"))
}

// GetOrderCargo resolves an order's cargo, for callers that only hold the
// order ID after shipping.
func (h *Handler) GetOrderCargo(w http.ResponseWriter, r *http.Request) {
	c, err := h.cargo.ForOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCargo(w, r, c.ID)
}

func (h *Handler) writeCargo(w http.ResponseWriter, r *http.Request, cargoID string) {
	c, latest, err := h.cargo.CurrentStatus(r.Context(), cargoID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := h.cargo.History(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := cargoResponse{
		ID:             c.ID,
		OrderID:        c.OrderID,
		TrackingNumber: c.TrackingNumber,
		Carrier:        c.Carrier,
		CurrentStatus:  latest.Status,
	}
	for _, e := range history {
		resp.History = append(resp.History, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toEntryResponse(e cargo.Entry) cargoEntryResponse {
	return cargoEntryResponse{
		Status:      e.Status,
		Description: e.Description,
		Location:    e.Location,
		Notes:       e.Notes,
		Source:      e.Source,
		RecordedAt:  e.RecordedAt,
	}
}
