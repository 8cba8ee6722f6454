package crypto_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/models"
)

func TestSecurityRequirements(t *testing.T) {
	p := newProvider(t, testPassword)

	t.Run("key derivation uses sufficient iterations", func(t *testing.T) {
		assert.GreaterOrEqual(t, crypto.DefaultIterations, 100000)
	})

	t.Run("key size is 256 bits", func(t *testing.T) {
		assert.Equal(t, 32, crypto.KeySize)
	})

	t.Run("salt and nonce are random for each encryption", func(t *testing.T) {
		plaintext := []byte("test message")

		enc1, err := p.Encrypt(plaintext)
		require.NoError(t, err)
		enc2, err := p.Encrypt(plaintext)
		require.NoError(t, err)

		assert.NotEqual(t, enc1, enc2)

		b1, err := crypto.ParseBlob(enc1)
		require.NoError(t, err)
		b2, err := crypto.ParseBlob(enc2)
		require.NoError(t, err)
		assert.NotEqual(t, b1.Salt, b2.Salt)
		assert.NotEqual(t, b1.Nonce, b2.Nonce)

		plain1, err := p.Decrypt(enc1)
		require.NoError(t, err)
		plain2, err := p.Decrypt(enc2)
		require.NoError(t, err)
		assert.Equal(t, plaintext, plain1)
		assert.Equal(t, plaintext, plain2)
	})

	t.Run("authentication tag prevents tampering", func(t *testing.T) {
		encoded, err := p.Encrypt([]byte("sensitive data"))
		require.NoError(t, err)

		blob, err := crypto.ParseBlob(encoded)
		require.NoError(t, err)
		blob.Ciphertext[len(blob.Ciphertext)-1] ^= 0xFF

		_, err = p.Decrypt(blob.Encode())
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("every tampered byte is rejected", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping exhaustive tamper check in short mode")
		}

		encoded, err := p.Encrypt([]byte("x"))
		require.NoError(t, err)

		packed, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)

		for i := range packed {
			tampered := append([]byte(nil), packed...)
			tampered[i] ^= 0x01

			blob := base64.StdEncoding.EncodeToString(tampered)
			_, err := p.Decrypt(blob)
			assert.ErrorIs(t, err, models.ErrCrypto, "byte %d", i)
			assert.False(t, p.VerifyDetailed(blob).DecryptionValid, "byte %d", i)
		}
	})

	t.Run("truncated blob is rejected", func(t *testing.T) {
		encoded, err := p.Encrypt([]byte("sensitive data"))
		require.NoError(t, err)

		packed, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)

		truncated := base64.StdEncoding.EncodeToString(packed[:crypto.HeaderSize])
		assert.False(t, p.VerifyStructure(truncated))

		_, err = p.Decrypt(truncated)
		assert.ErrorIs(t, err, crypto.ErrInvalidCiphertext)
	})

	t.Run("wiped provider cannot decrypt", func(t *testing.T) {
		local := newProvider(t, testPassword)
		encoded, err := local.Encrypt([]byte("data"))
		require.NoError(t, err)

		local.Wipe()

		_, err = local.Decrypt(encoded)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})
}
