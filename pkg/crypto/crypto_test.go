package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	key := make([]byte, MasterKeyLen)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestDeriveUserKey_Deterministic(t *testing.T) {
	master := testMasterKey()

	k1, err := DeriveUserKey(master, "u1")
	require.NoError(t, err)
	k2, err := DeriveUserKey(master, "u1")
	require.NoError(t, err)

	assert.Len(t, k1, UserKeyLen)
	assert.Equal(t, k1, k2)
}

func TestDeriveUserKey_Separation(t *testing.T) {
	master := testMasterKey()

	k1, err := DeriveUserKey(master, "u1")
	require.NoError(t, err)
	k2, err := DeriveUserKey(master, "u2")
	require.NoError(t, err)

	assert.Len(t, k1, UserKeyLen)
	assert.Len(t, k2, UserKeyLen)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveUserKey_ShortMasterKey(t *testing.T) {
	_, err := DeriveUserKey(make([]byte, 16), "u1")
	assert.Error(t, err)
}

// The derivation must stay byte-compatible with the single-block
// HMAC(prk, info || 0x01) construction existing commitments were built on.
func TestDeriveUserKey_WireCompatibility(t *testing.T) {
	master := testMasterKey()

	mac := hmac.New(sha256.New, master)
	mac.Write([]byte("emohunter_user_u1"))
	mac.Write([]byte{0x01})
	expected := mac.Sum(nil)

	got, err := DeriveUserKey(master, "u1")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(expected, got))
}

func TestSigner_RoundTrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	data := []byte("hello world")
	sig := signer.Sign(data)

	assert.True(t, signer.Verify(data, sig))
	assert.True(t, VerifyDetached(signer.PublicKeyBase64(), sig, data))

	// Tampered message
	assert.False(t, signer.Verify([]byte("hello worlD"), sig))

	// Tampered signature: flip one bit
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	raw[0] ^= 0x01
	assert.False(t, signer.Verify(data, base64.StdEncoding.EncodeToString(raw)))
}

func TestSigner_MalformedInputs(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	assert.False(t, signer.Verify([]byte("m"), "not base64!!"))
	assert.False(t, VerifyDetached("also not base64", signer.Sign([]byte("m")), []byte("m")))
	assert.False(t, VerifyDetached(signer.PublicKeyBase64(), base64.StdEncoding.EncodeToString([]byte("short")), []byte("m")))
}

func TestSigner_SeedRoundTrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	reloaded, err := NewSignerFromBase64(signer.SeedBase64())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKeyBase64(), reloaded.PublicKeyBase64())

	data := []byte("same key, same signature")
	assert.Equal(t, signer.Sign(data), reloaded.Sign(data))
}

func TestNewSignerFromBase64_BadLength(t *testing.T) {
	_, err := NewSignerFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 31)))
	assert.Error(t, err)
}

func TestCommitHash_Stable(t *testing.T) {
	key := make([]byte, UserKeyLen)
	summary := []byte(`{"a":"x"}`)

	h1 := CommitHash(key, summary)
	h2 := CommitHash(key, summary)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCommitSignature_RoundTrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	modelHashes := map[string]string{"llm": "h1", "cnn": "h2"}
	commitHash := CommitHash(make([]byte, UserKeyLen), []byte(`{"s":"1"}`))

	sig, err := SignCommit(signer, commitHash, modelHashes)
	require.NoError(t, err)

	assert.True(t, VerifyCommitSignature(signer.PublicKeyBase64(), commitHash, modelHashes, sig))

	// Model-hash substitution must invalidate the signature.
	assert.False(t, VerifyCommitSignature(signer.PublicKeyBase64(), commitHash,
		map[string]string{"llm": "h1", "cnn": "tampered"}, sig))

	// So must a different commit hash.
	other := CommitHash(make([]byte, UserKeyLen), []byte(`{"s":"2"}`))
	assert.False(t, VerifyCommitSignature(signer.PublicKeyBase64(), other, modelHashes, sig))
}

// The signature payload binds the model-hash set independently of map
// insertion order; determinism must hold even for trivial inputs.
func TestSignaturePayload_OrderIndependent(t *testing.T) {
	p1, err := SignaturePayload("abc", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	p2, err := SignaturePayload("abc", map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	empty, err := SignaturePayload("abc", map[string]string{})
	require.NoError(t, err)
	assert.NotEmpty(t, empty)
}
