// Package sealing encrypts proof bundle payloads with AES-256-GCM.
//
// A fresh 256-bit key and 96-bit IV are generated per bundle. The symmetric
// key is wrapped to the recipient's X25519 public key with a NaCl sealed box
// before anything is persisted; the raw key never leaves this package.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Algorithm is the only symmetric scheme this engine produces.
const Algorithm = "aes-256-gcm"

const (
	keySize = 32
	ivSize  = 12
)

// Envelope is the persisted encryption record for a bundle.
type Envelope struct {
	Algorithm          string `json:"algorithm"`
	IV                 string `json:"iv"`           // base64, 96-bit
	EncryptedKey       string `json:"encryptedKey"` // base64 sealed box over the 256-bit key
	Ciphertext         string `json:"ciphertext"`   // base64, includes GCM tag
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// Encrypt seals payload for the holder of recipientPubHex (32-byte X25519
// public key, hex-encoded).
func Encrypt(payload []byte, recipientPubHex string) (*Envelope, error) {
	recipient, err := decodeKey32(recipientPubHex)
	if err != nil {
		return nil, fmt.Errorf("recipient public key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate bundle key: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	ciphertext := gcm.Seal(nil, iv, payload, nil)

	wrapped, err := box.SealAnonymous(nil, key, recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wrap bundle key: %w", err)
	}

	return &Envelope{
		Algorithm:          Algorithm,
		IV:                 base64.StdEncoding.EncodeToString(iv),
		EncryptedKey:       base64.StdEncoding.EncodeToString(wrapped),
		Ciphertext:         base64.StdEncoding.EncodeToString(ciphertext),
		RecipientPublicKey: recipientPubHex,
	}, nil
}

// Decrypt unwraps the bundle key with the recipient's X25519 private key and
// returns the plaintext. Used by authorized delegates only; the proof
// verification path never decrypts.
func Decrypt(env *Envelope, recipientPrivHex string) ([]byte, error) {
	if env.Algorithm != Algorithm {
		return nil, fmt.Errorf("unsupported algorithm %q", env.Algorithm)
	}

	priv, err := decodeKey32(recipientPrivHex)
	if err != nil {
		return nil, fmt.Errorf("recipient private key: %w", err)
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	var pub [32]byte
	copy(pub[:], pubBytes)

	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	key, ok := box.OpenAnonymous(nil, wrapped, &pub, priv)
	if !ok {
		return nil, fmt.Errorf("unwrap bundle key: sealed box rejected")
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}

// GenerateRecipientKeyPair creates a hex-encoded X25519 key pair for a
// proof recipient or delegate.
func GenerateRecipientKeyPair() (pubHex, privHex string, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate recipient key pair: %w", err)
	}
	return hex.EncodeToString(pub[:]), hex.EncodeToString(priv[:]), nil
}

func decodeKey32(keyHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
