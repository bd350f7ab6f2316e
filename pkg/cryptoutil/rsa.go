// Package cryptoutil implements the small set of cryptographic primitives
// the Adept and Kobo subsystems build on: RSA-PKCS1v15 key generation,
// signing and unwrapping, AES-CBC (IV-prefixed) and AES-ECB (PKCS#7) block
// modes, and the digest/HMAC/random helpers the protocol client needs.
//
// Every primitive here is built directly on crypto/rsa, crypto/aes,
// crypto/cipher, crypto/sha1, crypto/sha256 and crypto/hmac — the same
// choice every grounding reference for this exact domain makes
// (readeckobo's internal/crypto, abustany/lcp-decrypt, edrlab/lcp-server's
// pkg/crypto all reach for stdlib crypto/* rather than a wrapper library).
package cryptoutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// GenerateRSAKeyPair generates a new RSA key pair of the given bit size.
// The device key store never calls this itself (the Adobe server issues
// the account's private license key at sign-in); it exists for tests that
// need a throwaway key to stand in for a test-vector RSA key.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, bits)
}

// SignPKCS1v15 signs msg's SHA-256 digest with priv, returning the raw
// PKCS#1 v1.5 signature used for the Adept <signature> element.
func SignPKCS1v15(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}

// VerifyPKCS1v15 verifies sig against msg's SHA-256 digest under pub.
func VerifyPKCS1v15(pub *rsa.PublicKey, msg, sig []byte) error {
	digest := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}

// UnwrapPKCS1v15 unwraps a ciphertext (typically a book's content key)
// encrypted under the matching public key with RSAES-PKCS1-v1_5. A
// malformed-padding failure — the signal that priv is the wrong key — is
// surfaced as a *bookerrors.CryptoError with Kind CryptoBadPadding so
// callers can try the next candidate without aborting.
func UnwrapPKCS1v15(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		if errors.Is(err, rsa.ErrDecryption) {
			return nil, bookerrors.NewCryptoError(bookerrors.CryptoBadPadding, "rsa unwrap: %v", err)
		}
		return nil, bookerrors.NewCryptoError(bookerrors.CryptoInvalidKey, "rsa unwrap: %v", err)
	}
	return plaintext, nil
}

// ParsePKCS1PrivateKeyDER parses a 1024-bit RSA private key from its
// PKCS#1/DER encoding, the format the Adobe server issues in
// <privateLicenseKey>.
func ParsePKCS1PrivateKeyDER(der []byte) (*rsa.PrivateKey, error) {
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "parse private key: %v", err)
	}
	return priv, nil
}

// MarshalPKCS1PrivateKeyDER is the inverse of ParsePKCS1PrivateKeyDER, used
// by tests to build fixture activation records.
func MarshalPKCS1PrivateKeyDER(priv *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(priv)
}
