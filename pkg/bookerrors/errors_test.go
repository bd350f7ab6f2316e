package bookerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeNilIsSuccess(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
}

func TestExitCodeUserFacingErrorsAreOne(t *testing.T) {
	userFacing := []error{
		NewAuthorizationError("bad credentials"),
		NewACSMFulfillmentError(ACSMBadACSM, "malformed token"),
		NewDRMRemovalError(DRMWrongKey, "rsa unwrap failed"),
		NewKoboLibraryNotFoundError("not found"),
		NewKoboDecryptionError(KoboNoValidKey, "Some Book"),
		NewKeyStoreError(KeyStoreCorrupt, "bad xml"),
	}
	for _, err := range userFacing {
		assert.Equal(t, 1, ExitCode(err), "%T should exit 1", err)
	}
}

func TestExitCodeUnrecognizedErrorIsTwo(t *testing.T) {
	assert.Equal(t, 2, ExitCode(errors.New("some internal panic-turned-error")))
}

func TestKoboDecryptionErrorMessageVariesByKind(t *testing.T) {
	noKey := NewKoboDecryptionError(KoboNoValidKey, "My Book")
	assert.Contains(t, noKey.Error(), "My Book")
	assert.Contains(t, noKey.Error(), "no valid key")

	malformed := NewKoboDecryptionError(KoboMalformedContainer, "My Book")
	assert.Contains(t, malformed.Error(), "malformed container")
}

func TestACSMServerErrorIncludesCodeAndMessage(t *testing.T) {
	err := NewACSMServerError("E_ADEPT_EXPIRED", "voucher expired")
	assert.Equal(t, ACSMServerError, err.Kind)
	assert.Contains(t, err.Error(), "E_ADEPT_EXPIRED")
	assert.Contains(t, err.Error(), "voucher expired")
}
