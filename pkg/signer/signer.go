// Copyright 2026 PROVENIQ
//
// Envelope Signer - Ed25519 signing and verification for ledger envelopes.
// The server holds a single signing key for the lifetime of the process;
// every persisted event carries a signature over its event_hash string.

package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// SignaturePrefix marks the encoding of every ledger signature.
const SignaturePrefix = "ed25519:"

var (
	// ErrKeyFormat is returned when key material cannot be decoded into a
	// 32-byte Ed25519 seed.
	ErrKeyFormat = errors.New("signer: invalid key format")

	// ErrSignature names a malformed or non-verifying signature. No function
	// in this package returns it: Verify reports every such case as false.
	ErrSignature = errors.New("signer: signature verification failed")
)

// Signer signs envelope hashes with an Ed25519 key loaded once at startup.
// The raw seed never appears in logs or error messages.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewFromSeedB64 decodes a base64 32-byte Ed25519 seed and builds a Signer.
func NewFromSeedB64(seedB64 string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(seedB64))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrKeyFormat)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: expected %d-byte seed, got %d bytes", ErrKeyFormat, ed25519.SeedSize, len(raw))
	}
	priv := ed25519.NewKeyFromSeed(raw)
	return &Signer{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the verification key for this signer.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// PublicKeyB64 returns the verification key as base64 for distribution.
func (s *Signer) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Sign produces "ed25519:" + base64(signature) over message.
func (s *Signer) Sign(message []byte) string {
	sig := ed25519.Sign(s.privateKey, message)
	return SignaturePrefix + base64.StdEncoding.EncodeToString(sig)
}

// ParsePublicKeyB64 decodes a base64 32-byte Ed25519 public key.
func ParsePublicKeyB64(pubB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(pubB64))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrKeyFormat)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d-byte public key, got %d bytes", ErrKeyFormat, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks a prefixed signature string over message. It returns false
// for any deviation: wrong prefix, bad base64, wrong length, bad signature.
func Verify(publicKey ed25519.PublicKey, message []byte, signature string) bool {
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil {
		return false
	}
	if len(raw) != ed25519.SignatureSize || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, raw)
}
