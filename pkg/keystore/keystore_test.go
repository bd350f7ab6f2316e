package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "auth")

	store, err := Open(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, store.Dir())
}

func TestIsAuthorizedFalseWhenEmpty(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.IsAuthorized())
	assert.Equal(t, AuthNone, store.AuthType())
}

func TestIsAuthorizedTrueWithStandardTriple(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	writeAnonymousActivation(t, store)
	require.NoError(t, os.WriteFile(store.DeviceXMLPath(), []byte("<device/>"), 0o600))
	require.NoError(t, os.WriteFile(store.DevicesaltPath(), []byte{1, 2, 3}, 0o600))

	assert.True(t, store.IsAuthorized())
}

func TestIsAuthorizedTrueWithADEActivationDatOnly(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.activationDat, []byte("opaque ade bytes"), 0o600))

	assert.True(t, store.IsAuthorized())
	assert.Equal(t, AuthUnknown, store.AuthType())
}

func TestAuthTypeAnonymous(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	writeAnonymousActivation(t, store)
	require.NoError(t, os.WriteFile(store.DeviceXMLPath(), []byte("<device/>"), 0o600))
	require.NoError(t, os.WriteFile(store.DevicesaltPath(), []byte{1}, 0o600))

	assert.Equal(t, AuthAnonymous, store.AuthType())
}

func TestAuthTypeAdobeID(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	writeActivation(t, store, "AdobeID", "deadbeef")
	require.NoError(t, os.WriteFile(store.DeviceXMLPath(), []byte("<device/>"), 0o600))
	require.NoError(t, os.WriteFile(store.DevicesaltPath(), []byte{1}, 0o600))

	assert.Equal(t, AuthAdobeID, store.AuthType())
}

func TestPrivateKeyNotAuthorized(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.PrivateKey()
	assert.Error(t, err)
}

func TestPrivateKeyMissingForADEOnlyStore(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.activationDat, []byte("opaque"), 0o600))

	_, err = store.PrivateKey()
	assert.Error(t, err)
}

func TestPrivateKeyDecodesBase64Key(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	writeActivation(t, store, "AdobeID", "c29tZS1wcml2YXRlLWtleS1kZXI=") // base64("some-private-key-der")
	require.NoError(t, os.WriteFile(store.DeviceXMLPath(), []byte("<device/>"), 0o600))
	require.NoError(t, os.WriteFile(store.DevicesaltPath(), []byte{1}, 0o600))

	der, err := store.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, "some-private-key-der", string(der))
}

func TestResetIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	writeAnonymousActivation(t, store)

	require.NoError(t, store.Reset())
	assert.False(t, store.IsAuthorized())

	// Calling Reset again with nothing left to remove must not error.
	require.NoError(t, store.Reset())
}

func TestLockUnlockRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Lock())
	require.NoError(t, store.Unlock())

	// Unlock twice is a no-op.
	require.NoError(t, store.Unlock())
}

func TestLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	storeA, err := Open(dir)
	require.NoError(t, err)
	storeB, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, storeA.Lock())
	defer storeA.Unlock()

	err = storeB.Lock()
	assert.Error(t, err)
}

func writeAnonymousActivation(t *testing.T, store *Store) {
	t.Helper()
	writeActivation(t, store, "", "")
}

func writeActivation(t *testing.T, store *Store, method, privateKeyB64 string) {
	t.Helper()
	methodAttr := ""
	if method != "" {
		methodAttr = ` method="` + method + `"`
	}
	doc := `<activationToken xmlns="http://ns.adobe.com/adept">
  <credentials>
    <username` + methodAttr + `>user@example.com</username>
    <privateLicenseKey>` + privateKeyB64 + `</privateLicenseKey>
  </credentials>
</activationToken>`
	require.NoError(t, os.WriteFile(store.ActivationXMLPath(), []byte(doc), 0o600))
}
