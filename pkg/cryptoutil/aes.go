package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// EncryptCBC pads data with PKCS#7, generates a random IV, and returns
// iv||ciphertext — the layout both the Adept container format and the
// device-key-encrypted credential payloads use.
func EncryptCBC(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-cbc: %v", err)
	}

	padded := pkcs7Pad(data, block.BlockSize())

	iv := make([]byte, block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-cbc: generate iv: %v", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return append(iv, ciphertext...), nil
}

// DecryptCBC reverses EncryptCBC: ivCiphertext is iv||ciphertext, the
// first block-size bytes are the IV (spec §3, §4.5). A PKCS#7 padding
// failure after decryption is the signal that key is wrong.
func DecryptCBC(key, ivCiphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-cbc: %v", err)
	}

	blockSize := block.BlockSize()
	if len(ivCiphertext) < blockSize {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "aes-cbc: ciphertext shorter than one block")
	}

	iv := ivCiphertext[:blockSize]
	ciphertext := ivCiphertext[blockSize:]
	if len(ciphertext) == 0 {
		// No ciphertext beyond the IV: PKCS#7 on zero bytes is invalid.
		// Whether that's a wrong key or a benign empty file is a
		// container-level decision (see adeptdrm), not this primitive's.
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "aes-cbc: empty ciphertext")
	}
	if len(ciphertext)%blockSize != 0 {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "aes-cbc: ciphertext not a multiple of block size")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, blockSize)
}

// DecryptECBRaw decrypts exactly one AES block with no padding — the
// wrapped-page-key layer of KDRM, which is never padded (spec §4.7).
func DecryptECBRaw(key, block16 []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-ecb: %v", err)
	}
	if len(block16) != block.BlockSize() {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-ecb: expected exactly one %d-byte block, got %d", block.BlockSize(), len(block16))
	}

	out := make([]byte, len(block16))
	block.Decrypt(out, block16)
	return out, nil
}

// DecryptECBPKCS7 decrypts ciphertext block-by-block in ECB mode and
// strips PKCS#7 padding — the content layer of KDRM. Invalid padding is
// the rejection signal the Kobo user-key trial loop relies on (spec §4.1,
// §4.7).
func DecryptECBPKCS7(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "aes-ecb: %v", err)
	}

	blockSize := block.BlockSize()
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(ciphertext)%blockSize != 0 {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "aes-ecb: ciphertext not a multiple of block size")
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += blockSize {
		block.Decrypt(plaintext[i:i+blockSize], ciphertext[i:i+blockSize])
	}

	return pkcs7Unpad(plaintext, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "pkcs7: invalid padded length %d", len(data))
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "pkcs7: invalid padding length %d", padLen)
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "pkcs7: inconsistent padding bytes")
		}
	}

	return data[:len(data)-padLen], nil
}
