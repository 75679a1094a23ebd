// Package auth authenticates API keys and checks caller capabilities.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/smartshop/internal/domain/apperr"
)

// Scopes granted to API keys.
const (
	ScopeAll            = "*"
	ScopeProductsRead   = "products:read"
	ScopeProductsWrite  = "products:write"
	ScopeCustomersRead  = "customers:read"
	ScopeCustomersWrite = "customers:write"
	ScopeCouponsRead    = "coupons:read"
	ScopeCouponsWrite   = "coupons:write"
	ScopeOrdersRead     = "orders:read"
	ScopeOrdersWrite    = "orders:write"
	ScopePaymentsRead   = "payments:read"
	ScopePaymentsWrite  = "payments:write"
)

// ErrUnauthenticated is returned for a missing or unknown API key.
var ErrUnauthenticated = errors.New("unauthenticated")

// APIKeyInfo holds the identity and permission data for a validated API key.
// A key bound to a customer may read that customer's own records without the
// corresponding read scope.
type APIKeyInfo struct {
	ID         int64
	KeyHash    string
	Name       string
	Scopes     []string
	CustomerID *int64
	CreatedAt  time.Time
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	Create(ctx context.Context, key *APIKeyInfo) error
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(sum(pepper, key))
}

func sum(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticator resolves raw API keys to principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, ErrUnauthenticated
	}
	hash := sum(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthenticated
	}
	return &Principal{
		KeyID:      info.ID,
		Name:       info.Name,
		Scopes:     info.Scopes,
		CustomerID: info.CustomerID,
	}, nil
}

// Principal is the authenticated caller of a request.
type Principal struct {
	KeyID      int64
	Name       string
	Scopes     []string
	CustomerID *int64
}

// HasScope reports whether p was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, ScopeAll) || slices.Contains(p.Scopes, scope)
}

// Owns reports whether p is bound to customerID.
func (p *Principal) Owns(customerID int64) bool {
	return p.CustomerID != nil && *p.CustomerID == customerID
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Require fails with an authorization error unless the caller in ctx holds
// scope.
func Require(ctx context.Context, scope string) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return apperr.Authorization("no authenticated caller")
	}
	if !p.HasScope(scope) {
		return apperr.Authorization("api key %q lacks scope %s", p.Name, scope)
	}
	return nil
}

// RequireOwnerOr passes when the caller holds scope or is bound to
// customerID.
func RequireOwnerOr(ctx context.Context, scope string, customerID int64) error {
	if p, ok := PrincipalFrom(ctx); ok && p.Owns(customerID) {
		return nil
	}
	return Require(ctx, scope)
}
