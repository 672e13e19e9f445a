package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeyLen is the required master key length in bytes.
	MasterKeyLen = 32
	// UserKeyLen is the derived per-user key length in bytes.
	UserKeyLen = 32

	// userKeyInfoPrefix namespaces the HKDF info string. Changing it would
	// change every commitment ever produced, so it is fixed.
	userKeyInfoPrefix = "emohunter_user_"
)

// DeriveUserKey derives the 32-byte per-user HMAC key from the master
// secret. The master key is treated as already-uniform PRK material and fed
// straight into HKDF-Expand (no Extract step); this is a known
// simplification kept for wire compatibility with existing commitments.
func DeriveUserKey(masterKey []byte, userUID string) ([]byte, error) {
	if len(masterKey) < MasterKeyLen {
		return nil, fmt.Errorf("crypto: master key must be at least %d bytes, got %d", MasterKeyLen, len(masterKey))
	}

	info := []byte(userKeyInfoPrefix + userUID)
	reader := hkdf.Expand(sha256.New, masterKey, info)

	key := make([]byte, UserKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand failed: %w", err)
	}
	return key, nil
}
