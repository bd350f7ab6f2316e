// Package keystore manages the Adept authorization directory: the four
// files an anonymous or Adobe ID activation leaves behind, and the
// single-writer discipline spec'd for concurrent CLI invocations.
//
// Grounded on original_source's AdobeAccount (is_authorized/get_auth_type/
// get_device_key/reset), translated from lxml element lookups to
// encoding/xml struct decoding.
package keystore

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

const adeptNS = "http://ns.adobe.com/adept"

// AuthType classifies how the store was activated.
type AuthType string

const (
	AuthNone      AuthType = "none"
	AuthAnonymous AuthType = "anonymous"
	AuthAdobeID   AuthType = "AdobeID"
	AuthUnknown   AuthType = "unknown"
)

// Store manages the authorization directory's four well-known files.
type Store struct {
	dir string

	activationXML string
	activationDat string
	deviceXML     string
	devicesalt    string

	lockPath string
	lockFile *os.File
}

// Open returns a Store rooted at dir, creating dir if it does not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "create auth dir: %v", err)
	}
	return &Store{
		dir:           dir,
		activationXML: filepath.Join(dir, "activation.xml"),
		activationDat: filepath.Join(dir, "activation.dat"),
		deviceXML:     filepath.Join(dir, "device.xml"),
		devicesalt:    filepath.Join(dir, "devicesalt"),
		lockPath:      filepath.Join(dir, ".lock"),
	}, nil
}

// Dir returns the authorization directory path.
func (s *Store) Dir() string { return s.dir }

// DeviceXMLPath, ActivationXMLPath, DevicesaltPath expose the well-known
// file paths for the Adept protocol client to write to.
func (s *Store) DeviceXMLPath() string     { return s.deviceXML }
func (s *Store) ActivationXMLPath() string { return s.activationXML }
func (s *Store) DevicesaltPath() string    { return s.devicesalt }

// IsAuthorized reports whether the store holds a complete standard triple
// (device.xml + devicesalt + activation.xml) or a standalone ADE
// activation.dat.
func (s *Store) IsAuthorized() bool {
	standard := fileExists(s.activationXML) && fileExists(s.deviceXML) && fileExists(s.devicesalt)
	ade := fileExists(s.activationDat)
	return standard || ade
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type activationCredentials struct {
	XMLName  xml.Name `xml:"activationToken"`
	Username struct {
		Method string `xml:"method,attr"`
	} `xml:"credentials>username"`
	PrivateLicenseKey string `xml:"credentials>privateLicenseKey"`
}

// AuthType parses activation.xml and reports the activation method. It
// returns AuthNone if the store has not been authorized, and AuthUnknown
// if activation.xml is absent (the ADE-only form, which carries no
// <username method> to inspect) or cannot be parsed.
func (s *Store) AuthType() AuthType {
	if !s.IsAuthorized() {
		return AuthNone
	}
	if !fileExists(s.activationXML) {
		// ADE-only activation: no per-credential method attribute to read.
		return AuthUnknown
	}

	data, err := os.ReadFile(s.activationXML)
	if err != nil {
		return AuthUnknown
	}

	var rec activationCredentials
	if err := xml.Unmarshal(data, &rec); err != nil {
		return AuthUnknown
	}

	switch rec.Username.Method {
	case "":
		return AuthAnonymous
	case string(AuthAdobeID):
		return AuthAdobeID
	default:
		return AuthType(rec.Username.Method)
	}
}

// PrivateKey returns the activation record's RSA private key in PKCS#1/DER
// form, Base64-decoded from <privateLicenseKey>.
func (s *Store) PrivateKey() ([]byte, error) {
	if !s.IsAuthorized() {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreNotAuthorized, "not authorized: run authorization first")
	}
	if !fileExists(s.activationXML) {
		// original_source's get_device_key only ever reads activation.xml;
		// a standalone activation.dat is enough for IsAuthorized but carries
		// no extractable private key in this implementation.
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreMissingPrivateKey, "no activation.xml present (ADE-only activation has no extractable private key)")
	}

	data, err := os.ReadFile(s.activationXML)
	if err != nil {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "read activation.xml: %v", err)
	}

	var rec activationCredentials
	if err := xml.Unmarshal(data, &rec); err != nil {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "parse activation.xml: %v", err)
	}
	if rec.PrivateLicenseKey == "" {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreMissingPrivateKey, "activation.xml has no privateLicenseKey")
	}

	der, err := base64.StdEncoding.DecodeString(rec.PrivateLicenseKey)
	if err != nil {
		return nil, bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "decode privateLicenseKey: %v", err)
	}
	return der, nil
}

// Reset unlinks all four well-known files. It is idempotent: a missing
// file is not an error.
func (s *Store) Reset() error {
	for _, path := range []string{s.activationXML, s.activationDat, s.deviceXML, s.devicesalt} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "remove %s: %v", path, err)
		}
	}
	return nil
}

// Lock acquires the store's advisory single-writer lock by exclusively
// creating a PID file. The Adept registration sequence and any
// destructive keystore operation must hold this lock for their duration
// (spec's "single-writer discipline" requirement); it is advisory only,
// nothing prevents a process from bypassing it.
func (s *Store) Lock() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "authorization directory is locked by another process (%s)", s.lockPath)
		}
		return bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "acquire lock: %v", err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	s.lockFile = f
	return nil
}

// Unlock releases a lock acquired by Lock. It is a no-op if the store does
// not currently hold the lock.
func (s *Store) Unlock() error {
	if s.lockFile == nil {
		return nil
	}
	s.lockFile.Close()
	s.lockFile = nil
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		return bookerrors.NewKeyStoreError(bookerrors.KeyStoreCorrupt, "release lock: %v", err)
	}
	return nil
}
