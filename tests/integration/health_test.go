//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// The probe endpoints sit outside API-key auth; a healthy compose
// environment must answer ok on both, with no failing checks listed.
func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(strings.TrimPrefix(path, "/"), func(t *testing.T) {
			resp := doGet(t, path)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("%s: status = %d, want 200", path, resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("%s: content type = %q, want application/json", path, ct)
			}

			body := decodeJSON[probeResponse](t, resp)
			if body.Status != "ok" {
				t.Errorf("%s: status = %q, want ok", path, body.Status)
			}
			if len(body.Checks) != 0 {
				t.Errorf("%s: unexpected failing checks: %v", path, body.Checks)
			}
		})
	}
}

// Probes must stay reachable without an API key even though every /api
// route demands one.
func TestProbes_NoAuthRequired(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/readyz", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
