// Command gateway-mock is a deterministic stand-in for the external payment
// processor, used by the integration test suite and for local development.
//
// Behavior is keyed off the payment method: "card" payments are captured
// immediately, "card_3ds" payments require a 3-D Secure verification round
// trip, and "bank_transfer" payments stay pending until a webhook is
// delivered. Cancel and refund always succeed.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type paymentState struct {
	PaymentID string
	Method    string
	Status    string
}

type server struct {
	mu       sync.Mutex
	payments map[string]*paymentState
}

type initiateRequest struct {
	PaymentID string `json:"payment_id"`
	Method    string `json:"method"`
}

type response struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":9090", "listen address")
	flag.Parse()

	s := &server{payments: map[string]*paymentState{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payments", s.initiate)
	mux.HandleFunc("POST /v1/payments/{id}/verify-3ds", s.verify)
	mux.HandleFunc("POST /v1/payments/{id}/cancel", s.cancel)
	mux.HandleFunc("POST /v1/payments/{id}/refund", s.refund)

	slog.Info("gateway mock listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *server) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	// A magic payment ID prefix forces a decline, so tests can cover the
	// rejection path.
	if strings.HasPrefix(req.PaymentID, "declined-") {
		http.Error(w, `{"error":"card declined"}`, http.StatusPaymentRequired)
		return
	}

	id := "gw-" + uuid.New().String()
	st := &paymentState{PaymentID: id, Method: req.Method}

	resp := response{PaymentID: id, TransactionID: "txn-" + uuid.New().String()}
	switch req.Method {
	case "card_3ds":
		st.Status = "requires_3ds"
		resp.Status = "requires_3ds"
		resp.RedirectURL = "https://acs.gateway-mock.local/challenge/" + id
	case "bank_transfer":
		st.Status = "pending"
		resp.Status = "pending"
	default:
		st.Status = "succeeded"
		resp.Status = "succeeded"
	}

	s.mu.Lock()
	s.payments[id] = st
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	st, ok := s.get(r.PathValue("id"))
	if !ok {
		http.Error(w, `{"error":"unknown payment"}`, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	st.Status = "succeeded"
	s.mu.Unlock()

	writeJSON(w, response{
		PaymentID:     st.PaymentID,
		TransactionID: "txn-" + uuid.New().String(),
		Status:        "succeeded",
	})
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	st, ok := s.get(r.PathValue("id"))
	if !ok {
		http.Error(w, `{"error":"unknown payment"}`, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	st.Status = "cancelled"
	s.mu.Unlock()

	writeJSON(w, response{PaymentID: st.PaymentID, Status: "cancelled"})
}

func (s *server) refund(w http.ResponseWriter, r *http.Request) {
	st, ok := s.get(r.PathValue("id"))
	if !ok {
		http.Error(w, `{"error":"unknown payment"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, response{
		PaymentID:     st.PaymentID,
		TransactionID: "txn-" + uuid.New().String(),
		Status:        "succeeded",
	})
}

func (s *server) get(id string) (*paymentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.payments[id]
	return st, ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
