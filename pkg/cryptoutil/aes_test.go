package cryptoutil

import (
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptCBCRoundTrip(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, err := EncryptCBC(key, plaintext)
	require.NoError(t, err)
	assert.Greater(t, len(ciphertext), len(plaintext))

	decrypted, err := DecryptCBC(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptCBCWrongKeyRejected(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)
	wrongKey, err := RandomBytes(16)
	require.NoError(t, err)

	ciphertext, err := EncryptCBC(key, []byte("some content key bytes"))
	require.NoError(t, err)

	_, err = DecryptCBC(wrongKey, ciphertext)
	assert.Error(t, err)
}

func TestDecryptCBCShortCiphertextRejected(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	_, err = DecryptCBC(key, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecryptCBCEmptyCiphertextRejected(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	iv := make([]byte, 16)
	_, err = DecryptCBC(key, iv)
	assert.Error(t, err)
}

func TestECBRawSingleBlockRoundTrip(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)
	block, err := RandomBytes(16)
	require.NoError(t, err)

	block2 := mustEncryptECBRawBlock(t, key, block)
	decrypted, err := DecryptECBRaw(key, block2)
	require.NoError(t, err)
	assert.Equal(t, block, decrypted)
}

func TestECBRawRejectsWrongLength(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	_, err = DecryptECBRaw(key, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestECBPKCS7RoundTrip(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	ciphertext := mustEncryptECBPKCS7(t, key, []byte("kepub html content goes here"))

	plaintext, err := DecryptECBPKCS7(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "kepub html content goes here", string(plaintext))
}

func TestECBPKCS7EmptyCiphertextReturnsEmpty(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)

	plaintext, err := DecryptECBPKCS7(key, nil)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestECBPKCS7WrongKeyRejected(t *testing.T) {
	key, err := RandomBytes(16)
	require.NoError(t, err)
	wrongKey, err := RandomBytes(16)
	require.NoError(t, err)

	ciphertext := mustEncryptECBPKCS7(t, key, []byte("content"))

	_, err = DecryptECBPKCS7(wrongKey, ciphertext)
	assert.Error(t, err)
}

// mustEncryptECBRawBlock and mustEncryptECBPKCS7 build ciphertext fixtures
// using the same primitives under test, mirroring how the real wrapped
// page keys and content bytes are produced by the Kobo server side.

func mustEncryptECBRawBlock(t *testing.T, key, block []byte) []byte {
	t.Helper()
	b, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(block))
	b.Encrypt(out, block)
	return out
}

func mustEncryptECBPKCS7(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	b, err := aes.NewCipher(key)
	require.NoError(t, err)
	padded := pkcs7Pad(plaintext, 16)
	ciphertext := make([]byte, len(padded))
	for i := 0; i < len(padded); i += 16 {
		b.Encrypt(ciphertext[i:i+16], padded[i:i+16])
	}
	return ciphertext
}
