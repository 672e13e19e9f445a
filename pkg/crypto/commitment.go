package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/emohunter/trustanchor/pkg/canonical"
)

// CommitHash computes the keyed commitment over the canonical summary
// bytes: hex(HMAC-SHA256(userKey, canonicalSummary)).
func CommitHash(userKey, canonicalSummary []byte) string {
	mac := hmac.New(sha256.New, userKey)
	mac.Write(canonicalSummary)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignaturePayload builds the byte string the agent signs:
// UTF8(commitHash || hex(SHA256(canonicalize(modelHashes)))).
// The model-hashes digest binds the signature to the exact model set even
// though the summary itself never leaves the system.
func SignaturePayload(commitHash string, modelHashes map[string]string) ([]byte, error) {
	aux, err := canonical.Hash(modelHashes)
	if err != nil {
		return nil, err
	}
	return []byte(commitHash + aux), nil
}

// SignCommit produces the detached base64 signature over the commitment.
func SignCommit(signer *Signer, commitHash string, modelHashes map[string]string) (string, error) {
	payload, err := SignaturePayload(commitHash, modelHashes)
	if err != nil {
		return "", err
	}
	return signer.Sign(payload), nil
}

// VerifyCommitSignature re-derives the signature payload and checks the
// detached signature. False on any malformed input, never an error: a
// verification mismatch is an outcome, not an exception.
func VerifyCommitSignature(pubB64, commitHash string, modelHashes map[string]string, sigB64 string) bool {
	payload, err := SignaturePayload(commitHash, modelHashes)
	if err != nil {
		return false
	}
	return VerifyDetached(pubB64, sigB64, payload)
}
