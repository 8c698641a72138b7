package handler

import (
	"io"
	"net/http"

	"github.com/xenking/orderflow/internal/domain/fault"
)

// SignatureHeader carries the gateway's HMAC signature of the webhook body.
const SignatureHeader = "X-Gateway-Signature"

type webhookResponse struct {
	Status string `json:"status"`
}

// PaymentWebhook ingests an asynchronous gateway notification. The gateway
// retries on non-2xx indefinitely, so every outcome here is definitive:
// duplicates are 200s, expected rejections carry their fault code, and
// unexpected faults surface as opaque 500s.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, fault.Wrap(err, fault.Validation, "read webhook body"))
		return
	}

	res, err := h.webhooks.Process(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := "processed"
	if res.Duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: status})
}
