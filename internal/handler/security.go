package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/orderflow/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key on command endpoints.
const APIKeyHeader = "X-API-Key"

// Security authenticates command requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{apikeys: apikeys, pepper: pepper}
}

// Middleware rejects requests whose API key is missing or unknown. The key
// is HMAC-hashed before lookup and compared in constant time to prevent
// timing side-channels.
func (s *Security) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			unauthorized(w)
			return
		}

		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			unauthorized(w)
			return
		}

		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil {
			unauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAPIKey(r.Context(), info)))
	})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Code:    "unauthorized",
		Message: "invalid or missing api key",
	})
}
