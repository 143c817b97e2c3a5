// Package delegation issues and verifies delegate access tokens.
//
// A delegation stored on a proof bundle names a delegate and a permission
// set. The token issuer turns that record into a short-lived EdDSA JWT the
// delegate presents downstream (e.g. to gate payload decryption), signed
// with the same Ed25519 process identity that signs proof bundles.
package delegation

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Well-known delegate permissions.
const (
	PermissionView    = "view"
	PermissionVerify  = "verify"
	PermissionDecrypt = "decrypt"
)

// Claims are the JWT claims for a delegate access token.
type Claims struct {
	jwt.RegisteredClaims
	BundleID    string   `json:"bundle_id"`
	DelegatedBy string   `json:"delegated_by"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the token grants the named permission.
func (c *Claims) HasPermission(p string) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// TokenIssuer issues and verifies delegate tokens signed with EdDSA.
type TokenIssuer struct {
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL is the "iss" claim value, typically the engine's base URL.
//	ttl is the token lifetime cap (default: 1 hour). A delegation expiry
//	earlier than the cap shortens the token accordingly.
func NewTokenIssuer(key ed25519.PrivateKey, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		key:    key,
		pub:    key.Public().(ed25519.PublicKey),
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Issue creates a signed token for delegateTo over the given bundle.
// delegationExpiry, when non-nil, caps the token expiry.
func (t *TokenIssuer) Issue(bundleID, delegateTo, delegatedBy string, permissions []string, delegationExpiry *time.Time) (string, error) {
	now := time.Now().UTC()
	exp := now.Add(t.ttl)
	if delegationExpiry != nil && delegationExpiry.Before(exp) {
		exp = *delegationExpiry
	}
	if !exp.After(now) {
		return "", fmt.Errorf("delegation already expired at %s", exp)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   delegateTo,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		BundleID:    bundleID,
		DelegatedBy: delegatedBy,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign delegation token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a delegate token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify delegation token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}
