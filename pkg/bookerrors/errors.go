// Package bookerrors is the typed error taxonomy shared by every core
// package. It is adapted from the teacher's pkg/errcodes: the same
// Code-tagged, errors.Is/As-capable shape, minus the HTTP-status/echo
// handler half, since this repo has no HTTP layer (see DESIGN.md).
package bookerrors

import "fmt"

// AuthorizationError is raised by any failure in the five-step Adept
// device-registration sequence, or by missing/corrupt credentials. It is
// never retried automatically.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

func NewAuthorizationError(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// ACSMFulfillmentKind classifies an ACSMFulfillmentError.
type ACSMFulfillmentKind string

const (
	ACSMNetworkTimeout    ACSMFulfillmentKind = "network_timeout"
	ACSMServerError       ACSMFulfillmentKind = "server_error"
	ACSMMalformedResponse ACSMFulfillmentKind = "malformed_response"
	ACSMBadACSM           ACSMFulfillmentKind = "bad_acsm"
)

// ACSMFulfillmentError is raised when fulfilling an ACSM voucher fails.
// Kind == ACSMNetworkTimeout is retried up to 3 times with exponential
// backoff by pkg/httpretry; every other kind is surfaced immediately.
type ACSMFulfillmentError struct {
	Kind          ACSMFulfillmentKind
	ServerCode    string // set when Kind == ACSMServerError
	ServerMessage string // set when Kind == ACSMServerError
	Message       string
}

func (e *ACSMFulfillmentError) Error() string {
	if e.Kind == ACSMServerError {
		return fmt.Sprintf("acsm fulfillment failed: server error %s: %s", e.ServerCode, e.ServerMessage)
	}
	return fmt.Sprintf("acsm fulfillment failed: %s", e.Message)
}

func NewACSMFulfillmentError(kind ACSMFulfillmentKind, format string, args ...interface{}) *ACSMFulfillmentError {
	return &ACSMFulfillmentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewACSMServerError(code, message string) *ACSMFulfillmentError {
	return &ACSMFulfillmentError{Kind: ACSMServerError, ServerCode: code, ServerMessage: message}
}

// DRMRemovalKind classifies a DRMRemovalError.
type DRMRemovalKind string

const (
	DRMWrongKey           DRMRemovalKind = "wrong_key"
	DRMUnknownCipher      DRMRemovalKind = "unknown_cipher"
	DRMMalformedContainer DRMRemovalKind = "malformed_container"
	DRMAlreadyPlaintext   DRMRemovalKind = "already_plaintext"
)

// DRMRemovalError is raised by the Adept container decryptor. Callers treat
// DRMAlreadyPlaintext as a non-error fast path (copy input to output); every
// other kind is surfaced.
type DRMRemovalError struct {
	Kind    DRMRemovalKind
	Message string
}

func (e *DRMRemovalError) Error() string {
	return fmt.Sprintf("drm removal failed (%s): %s", e.Kind, e.Message)
}

func NewDRMRemovalError(kind DRMRemovalKind, format string, args ...interface{}) *DRMRemovalError {
	return &DRMRemovalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KoboLibraryNotFoundError is raised when the Kobo Desktop directory or
// database cannot be located.
type KoboLibraryNotFoundError struct {
	Message string
}

func (e *KoboLibraryNotFoundError) Error() string { return e.Message }

func NewKoboLibraryNotFoundError(format string, args ...interface{}) *KoboLibraryNotFoundError {
	return &KoboLibraryNotFoundError{Message: fmt.Sprintf(format, args...)}
}

// KoboDecryptionKind classifies a KoboDecryptionError.
type KoboDecryptionKind string

const (
	KoboNoValidKey         KoboDecryptionKind = "no_valid_key"
	KoboMalformedContainer KoboDecryptionKind = "malformed_container"
)

// KoboDecryptionError is raised when no candidate user key decrypts a KEPUB.
// Title is set for KoboNoValidKey so callers can surface which book failed.
type KoboDecryptionError struct {
	Kind  KoboDecryptionKind
	Title string
}

func (e *KoboDecryptionError) Error() string {
	if e.Kind == KoboNoValidKey {
		return fmt.Sprintf(
			"failed to decrypt %q: no valid key found; make sure you are logged into Kobo Desktop with the account that purchased the book",
			e.Title,
		)
	}
	return fmt.Sprintf("failed to decrypt %q: malformed container", e.Title)
}

func NewKoboDecryptionError(kind KoboDecryptionKind, title string) *KoboDecryptionError {
	return &KoboDecryptionError{Kind: kind, Title: title}
}

// CryptoErrorKind classifies a CryptoError. These never escape C5/C7: they
// are caught at the point of use and mapped to a DRMWrongKey /
// KoboNoValidKey (the next candidate) or surfaced as a fatal error.
type CryptoErrorKind string

const (
	CryptoBadPadding CryptoErrorKind = "bad_padding"
	CryptoInvalidKey CryptoErrorKind = "invalid_key"
)

type CryptoError struct {
	Kind    CryptoErrorKind
	Message string
}

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto error (%s): %s", e.Kind, e.Message) }

func NewCryptoError(kind CryptoErrorKind, format string, args ...interface{}) *CryptoError {
	return &CryptoError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KeyStoreErrorKind classifies a KeyStoreError.
type KeyStoreErrorKind string

const (
	KeyStoreNotAuthorized     KeyStoreErrorKind = "not_authorized"
	KeyStoreCorrupt           KeyStoreErrorKind = "corrupt"
	KeyStoreMissingPrivateKey KeyStoreErrorKind = "missing_private_key"
)

type KeyStoreError struct {
	Kind    KeyStoreErrorKind
	Message string
}

func (e *KeyStoreError) Error() string { return fmt.Sprintf("key store error (%s): %s", e.Kind, e.Message) }

func NewKeyStoreError(kind KeyStoreErrorKind, format string, args ...interface{}) *KeyStoreError {
	return &KeyStoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to the CLI exit code the external command-line
// collaborator should propagate: 0 success, 1 user-visible error, 2
// internal error. Any error reaching this function is by definition not a
// success, so it returns 1 for every recognized user-facing error type and
// 2 for anything unrecognized (a programming/internal error).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch err.(type) {
	case *AuthorizationError, *ACSMFulfillmentError, *DRMRemovalError,
		*KoboLibraryNotFoundError, *KoboDecryptionError, *KeyStoreError:
		return 1
	default:
		return 2
	}
}
