// Package signing wraps Ed25519 signature generation and verification over
// SHA-512 digests of canonical fact bytes.
//
// A Context holds the process-wide signing key pair, loaded once at startup
// from hex-encoded configuration. When no private key is provisioned the
// Context degrades: Sign returns the Unsigned sentinel instead of failing,
// and verification of that sentinel is always false.
package signing

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Unsigned is returned by Sign when no private key is configured.
// Verify treats it as always invalid.
const Unsigned = "unsigned"

// Context is the process-wide signing context. It is read-only after
// construction; key rotation requires a process restart.
type Context struct {
	priv ed25519.PrivateKey // nil = degraded, Sign returns Unsigned
	pub  ed25519.PublicKey
}

// NewContext builds a Context from hex-encoded key material.
//
// privHex may be a 32-byte seed (dag-ledger-compatible) or a full 64-byte
// Ed25519 private key. An empty privHex yields a degraded context rather
// than an error. pubHex is optional when a private key is given; the
// public key is derived.
func NewContext(privHex, pubHex string) (*Context, error) {
	c := &Context{}

	if privHex != "" {
		raw, err := hex.DecodeString(privHex)
		if err != nil {
			return nil, fmt.Errorf("decode private key hex: %w", err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			c.priv = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			c.priv = ed25519.PrivateKey(raw)
		default:
			return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
				ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
		}
		c.pub = c.priv.Public().(ed25519.PublicKey)
	}

	if pubHex != "" {
		raw, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, fmt.Errorf("decode public key hex: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		c.pub = ed25519.PublicKey(raw)
	}

	return c, nil
}

// CanSign reports whether a private key is provisioned.
func (c *Context) CanSign() bool {
	return c.priv != nil
}

// PublicKeyHex returns the hex-encoded public key, or "" in degraded mode
// without a configured public key.
func (c *Context) PublicKeyHex() string {
	if c.pub == nil {
		return ""
	}
	return hex.EncodeToString(c.pub)
}

// PrivateKey exposes the raw private key for collaborators that sign with
// the same process identity (e.g. delegation token issuance). Nil in
// degraded mode.
func (c *Context) PrivateKey() ed25519.PrivateKey {
	return c.priv
}

// Sign hashes canonicalBytes with SHA-512 and signs the digest with Ed25519,
// returning the hex-encoded 64-byte signature. Returns Unsigned when no
// private key is configured.
func (c *Context) Sign(canonicalBytes []byte) string {
	if c.priv == nil {
		return Unsigned
	}
	digest := sha512.Sum512(canonicalBytes)
	sig := ed25519.Sign(c.priv, digest[:])
	return hex.EncodeToString(sig)
}

// Verify recomputes the SHA-512 digest and runs Ed25519 verification.
// Malformed hex, wrong lengths, and the Unsigned sentinel all yield false;
// errors are never propagated.
func Verify(canonicalBytes []byte, signatureHex, publicKeyHex string) bool {
	if signatureHex == Unsigned {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	digest := sha512.Sum512(canonicalBytes)
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}

// GenerateKeyPair creates a fresh hex-encoded Ed25519 key pair. The private
// key is returned in seed form (32 bytes hex).
func GenerateKeyPair() (pubHex, privHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", fmt.Errorf("generate key pair: %w", err)
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv.Seed()), nil
}
