package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by the Adept protocol, not a design choice
	"crypto/sha256"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// SHA1 returns the SHA-1 digest of data, as required by the Adept
// protocol's device fingerprint and HMAC computations.
func SHA1(data []byte) []byte {
	sum := sha1.Sum(data) //nolint:gosec
	return sum[:]
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACSHA1 computes HMAC-SHA1(key, data) for the Adept request <hmac>
// element.
func HMACSHA1(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key) //nolint:gosec
	mac.Write(data)
	return mac.Sum(nil)
}

// RandomBytes returns n cryptographically random bytes, used for the
// device key and device salt.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "random bytes: %v", err)
	}
	return b, nil
}
