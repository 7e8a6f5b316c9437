package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secret := "whsec_test-secret"
	payload := []byte(`{"event":"consent.granted","timestamp":"2026-08-31T10:00:00Z","data":{"consent_id":"c-1"}}`)

	signature := svc.Sign(secret, payload)

	// Should be lowercase hex
	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")

	// Verify with correct secret
	assert.True(t, svc.Verify(secret, payload, signature))
}

func TestHMACSignatureService_VerifyFails_WrongSecret(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := []byte("test payload")

	signature := svc.Sign("whsec_correct", payload)
	assert.False(t, svc.Verify("whsec_wrong", payload, signature))
}

func TestHMACSignatureService_VerifyFails_MutatedByte(t *testing.T) {
	svc := NewHMACSignatureService()
	secret := "whsec_key"
	payload := []byte("original payload")

	signature := svc.Sign(secret, payload)

	mutated := append([]byte(nil), payload...)
	mutated[0] ^= 0x01
	assert.False(t, svc.Verify(secret, mutated, signature))
}

func TestHMACSignatureService_VerifyFails_WrongSignature(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.False(t, svc.Verify("key", []byte("payload"), "invalidsignature"))
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService()

	sig1 := svc.Sign("key", []byte("data"))
	sig2 := svc.Sign("key", []byte("data"))

	assert.Equal(t, sig1, sig2, "same secret+payload should produce same signature")
}

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s1, SecretPrefix))
	// 32 bytes base64url without padding = 43 chars after the prefix.
	assert.Len(t, s1, len(SecretPrefix)+43)
	assert.NotEqual(t, s1, s2, "secrets must be unique")
}
