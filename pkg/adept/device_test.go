package adept

import (
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-bookloader/bookloader/pkg/keystore"
)

func TestCreateDeviceKeyFilePersistsSaltNotKey(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := NewSession(store, http.DefaultClient, "http://example.invalid")
	require.NoError(t, session.CreateDeviceKeyFile())

	salt, err := os.ReadFile(store.DevicesaltPath())
	require.NoError(t, err)
	assert.Len(t, salt, deviceSaltSize)
	assert.NotEmpty(t, session.deviceKey)
}

func TestDeviceKeyFromStoreMatchesSessionDerivation(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := NewSession(store, http.DefaultClient, "http://example.invalid")
	require.NoError(t, session.CreateDeviceKeyFile())

	key, err := DeviceKeyFromStore(store)
	require.NoError(t, err)
	assert.Equal(t, session.deviceKey, key)
}

func TestCreateDeviceFileRequiresDeviceKeyFirst(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := NewSession(store, http.DefaultClient, "http://example.invalid")
	err = session.CreateDeviceFile("vendor", "model", "standalone", true)
	assert.Error(t, err)
}

func TestCreateDeviceFileWritesDeviceXML(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := NewSession(store, http.DefaultClient, "http://example.invalid")
	require.NoError(t, session.CreateDeviceKeyFile())
	require.NoError(t, session.CreateDeviceFile("book-loader", "book-loader", "standalone", true))

	data, err := os.ReadFile(store.DeviceXMLPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<vendor>book-loader</vendor>")
	assert.Contains(t, string(data), "<fingerprint>")
	assert.Equal(t, HasDevice, session.State())
}

func TestCreateDeviceFileWithoutRandomSerial(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := NewSession(store, http.DefaultClient, "http://example.invalid")
	require.NoError(t, session.CreateDeviceKeyFile())
	require.NoError(t, session.CreateDeviceFile("book-loader", "book-loader", "standalone", false))

	data, err := os.ReadFile(store.DeviceXMLPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<serial></serial>")
}
