package adept

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"os"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
	"github.com/go-bookloader/bookloader/pkg/keystore"
)

const (
	deviceSaltSize = 16
	deviceKeySize  = 16 // AES-128
)

// CreateDeviceKeyFile is step 1: generate a random device salt and derive
// the AES device key from it, persisting the salt to the store's
// devicesalt file. The device key itself is never persisted; it is
// re-derived from the salt on every load.
func (s *Session) CreateDeviceKeyFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := cryptoutil.RandomBytes(deviceSaltSize)
	if err != nil {
		return bookerrors.NewAuthorizationError("create device key file: %v", err)
	}

	if err := os.WriteFile(s.store.DevicesaltPath(), salt, 0o600); err != nil {
		return bookerrors.NewAuthorizationError("write devicesalt: %v", err)
	}

	s.deviceSalt = salt
	s.deviceKey = deriveDeviceKey(salt)
	return nil
}

func deriveDeviceKey(salt []byte) []byte {
	return cryptoutil.SHA256(salt)[:deviceKeySize]
}

// DeviceKeyFromStore re-derives the AES device key from an already
// authorized store's persisted devicesalt, for callers (pkg/fulfillment)
// that need to HMAC-sign a request outside of a live registration
// Session.
func DeviceKeyFromStore(store *keystore.Store) ([]byte, error) {
	salt, err := os.ReadFile(store.DevicesaltPath())
	if err != nil {
		return nil, bookerrors.NewAuthorizationError("read devicesalt: %v", err)
	}
	return deriveDeviceKey(salt), nil
}

// CreateDeviceFile is step 2: compose and persist device.xml. serial is
// generated randomly (via google/uuid) when randomSerial is true,
// otherwise it is the empty string (callers who need a stable serial pass
// one through a future extension point; none of the current flows need
// it).
func (s *Session) CreateDeviceFile(vendor, model, deviceType string, randomSerial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deviceKey == nil {
		return bookerrors.NewAuthorizationError("create device file: device key file must be created first")
	}

	serial := ""
	if randomSerial {
		serial = uuid.NewString()
	}

	fingerprint := hex.EncodeToString(cryptoutil.SHA1(append(append([]byte{}, s.deviceSalt...), serial...)))

	rec := deviceRecord{
		Xmlns:       Namespace,
		DeviceType:  deviceType,
		Vendor:      vendor,
		Model:       model,
		Version:     "1.0",
		Serial:      serial,
		Fingerprint: fingerprint,
	}

	out, err := xml.MarshalIndent(rec, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "marshal device.xml")
	}
	if err := os.WriteFile(s.store.DeviceXMLPath(), out, 0o600); err != nil {
		return bookerrors.NewAuthorizationError("write device.xml: %v", err)
	}

	s.state = HasDevice
	return nil
}

// encryptCredential AES-CBC-encrypts a signIn credential (email or
// password) under the device key and base64-encodes the result, the form
// the AdobeID signIn body carries it in.
func encryptCredential(deviceKey []byte, plaintext string) (string, error) {
	ciphertext, err := cryptoutil.EncryptCBC(deviceKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
