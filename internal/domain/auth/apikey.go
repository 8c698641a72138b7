// Package auth defines the API key identity model used to authenticate
// callers of the command endpoints.
package auth

import "context"

// Resource scopes a key can be granted. One scope covers one command
// surface of the API.
const (
	ScopeOrders   = "orders"
	ScopePayments = "payments"
	ScopeCargo    = "cargo"
)

// APIKey is a validated caller identity. KeyHash is the hex HMAC-SHA256 of
// the raw key; the raw key itself is never stored.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key is allowed to act on the given resource
// scope, such as "orders" or "payments".
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository looks API keys up by the HMAC hash of the presented key.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

type keyCtx struct{}

// WithAPIKey stores the authenticated key on the context.
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// FromContext returns the authenticated key, or nil on unauthenticated
// requests such as gateway webhooks.
func FromContext(ctx context.Context) *APIKey {
	key, _ := ctx.Value(keyCtx{}).(*APIKey)
	return key
}
