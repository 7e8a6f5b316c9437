package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAESEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	secret := "whsec_abc123def456"
	enc, err := svc.Encrypt(secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, enc)

	dec, err := svc.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, secret, dec)
}

func TestAESEncryptionService_NonDeterministic(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	enc1, err := svc.Encrypt("same input")
	require.NoError(t, err)
	enc2, err := svc.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, enc1, enc2, "random nonce should make ciphertexts differ")
}

func TestNewAESEncryptionService_BadKey(t *testing.T) {
	_, err := NewAESEncryptionService("not-hex")
	assert.Error(t, err)

	_, err = NewAESEncryptionService("abcd") // too short
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "32 bytes"))
}

func TestAESEncryptionService_DecryptGarbage(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	_, err = svc.Decrypt("zzzz")
	assert.Error(t, err)

	_, err = svc.Decrypt("abcd")
	assert.Error(t, err, "ciphertext shorter than nonce must fail")

	// Valid hex, tampered ciphertext.
	enc, err := svc.Encrypt("secret")
	require.NoError(t, err)
	tampered := enc[:len(enc)-2] + "00"
	_, err = svc.Decrypt(tampered)
	assert.Error(t, err)
}
