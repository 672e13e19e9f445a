// Package crypto implements the commitment primitives: per-user key
// derivation, keyed commitment hashing and detached Ed25519 signatures.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Signer holds the agent's Ed25519 keypair. Signatures and keys cross
// process boundaries base64-encoded.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh keypair. Used by the keygen tool and tests;
// production signers load a configured key via NewSignerFromBase64.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// NewSignerFromBase64 builds a signer from a base64-encoded secret key.
// Both the 32-byte seed form and the 64-byte expanded private key are
// accepted.
func NewSignerFromBase64(secretB64 string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid agent key encoding: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("crypto: agent key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign returns the detached base64-encoded signature over data.
func (s *Signer) Sign(data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, data))
}

// Verify reports whether sigB64 is a valid signature over data under this
// signer's public key. Malformed input is a plain false, never an error.
func (s *Signer) Verify(data []byte, sigB64 string) bool {
	return VerifyDetached(s.PublicKeyBase64(), sigB64, data)
}

// PublicKeyBase64 returns the base64-encoded public key.
func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.pub)
}

// SeedBase64 returns the base64-encoded 32-byte private seed.
func (s *Signer) SeedBase64() string {
	return base64.StdEncoding.EncodeToString(s.priv.Seed())
}

// VerifyDetached verifies a base64 signature against a base64 public key.
// Any decoding failure or size mismatch yields false.
func VerifyDetached(pubB64, sigB64 string, data []byte) bool {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
