package fulfillment

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-bookloader/bookloader/pkg/adept"
	"github.com/go-bookloader/bookloader/pkg/keystore"
)

// setupAuthorizedStore runs a real AuthorizeAnonymous sequence against a
// throwaway fake content server so the resulting store has a genuine
// devicesalt/device.xml/activation.xml triple for Fulfill to use, the same
// way a caller would have to authorize before ever fulfilling an ACSM.
func setupAuthorizedStore(t *testing.T, priv *rsa.PrivateKey) *keystore.Store {
	t.Helper()
	privDER := x509.MarshalPKCS1PrivateKey(priv)
	privB64 := base64.StdEncoding.EncodeToString(privDER)

	mux := http.NewServeMux()
	mux.HandleFunc("/AuthenticationServiceInfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<authServiceInfo xmlns="%s"><authURL>http://%s/auth</authURL></authServiceInfo>`, adept.Namespace, r.Host)
	})
	mux.HandleFunc("/auth/SignIn", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<credentials xmlns="%s"><user>user-uuid-5678</user><username>anon</username><privateLicenseKey>%s</privateLicenseKey><licenseCertificate>cert</licenseCertificate></credentials>`, adept.Namespace, privB64)
	})
	mux.HandleFunc("/Activate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<activationToken xmlns="%s"></activationToken>`, adept.Namespace)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	session := adept.NewSession(store, srv.Client(), srv.URL)
	require.NoError(t, session.AuthorizeAnonymous(context.Background()))

	return store
}

func buildPlainEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mt, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = mt.Write([]byte("application/epub+zip"))
	require.NoError(t, err)

	content, err := zw.Create("content.xhtml")
	require.NoError(t, err)
	_, err = content.Write([]byte("<html><body>hello</body></html>"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFulfillEndToEnd(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	store := setupAuthorizedStore(t, priv)

	epubBytes := buildPlainEPUB(t)

	var fulfillServer *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/Fulfill", func(w http.ResponseWriter, r *http.Request) {
		srcURL := fulfillServer.URL + "/download/book.epub"
		fmt.Fprintf(w, `<fulfillmentResult xmlns="%s">
  <resource>
    <src>%s</src>
    <licenseToken>license-token-abc</licenseToken>
    <encryptedKey>encrypted-key-xyz</encryptedKey>
    <contentType>application/epub+zip</contentType>
  </resource>
</fulfillmentResult>`, adeptNS, srcURL)
	})
	mux.HandleFunc("/download/book.epub", func(w http.ResponseWriter, r *http.Request) {
		w.Write(epubBytes)
	})
	mux.HandleFunc("/Notify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	fulfillServer = httptest.NewServer(mux)
	defer fulfillServer.Close()

	engine := NewEngine(store, fulfillServer.Client(), 3, 10*time.Millisecond)

	acsmPath := filepath.Join(t.TempDir(), "book.acsm")
	acsm := fmt.Sprintf(`<?xml version="1.0"?>
<fulfillmentToken xmlns="http://ns.adobe.com/adept">
  <operatorURL>%s</operatorURL>
  <fulfillmentType>buy</fulfillmentType>
  <transactionId>order-42</transactionId>
  <resourceItemInfo><resourceItem>stub</resourceItem></resourceItemInfo>
</fulfillmentToken>`, fulfillServer.URL)
	require.NoError(t, os.WriteFile(acsmPath, []byte(acsm), 0o600))

	outputDir := t.TempDir()
	outPath, err := engine.Fulfill(context.Background(), acsmPath, outputDir)
	require.NoError(t, err)
	assert.FileExists(t, outPath)
	assert.Equal(t, ".epub", filepath.Ext(outPath))

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	var rightsData []byte
	for _, f := range zr.File {
		if f.Name == "META-INF/rights.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			rightsData, err = io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
		}
	}
	require.NotNil(t, rightsData)

	var rights struct {
		XMLName      xml.Name `xml:"rights"`
		LicenseToken string   `xml:"licenseToken"`
		EncryptedKey string   `xml:"encryptedKey"`
	}
	require.NoError(t, xml.Unmarshal(rightsData, &rights))
	assert.Equal(t, "license-token-abc", rights.LicenseToken)
	assert.Equal(t, "encrypted-key-xyz", rights.EncryptedKey)

	doc, err := ParseACSM(acsmPath)
	require.NoError(t, err)
	assert.NoError(t, engine.Notify(context.Background(), doc))
}

func TestFulfillRejectsUnauthorizedStore(t *testing.T) {
	store, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(store, http.DefaultClient, 3, 10*time.Millisecond)

	acsmPath := filepath.Join(t.TempDir(), "book.acsm")
	require.NoError(t, os.WriteFile(acsmPath, []byte(sampleACSM), 0o600))

	_, err = engine.Fulfill(context.Background(), acsmPath, t.TempDir())
	assert.Error(t, err)
}

func TestFulfillSurfacesServerError(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	store := setupAuthorizedStore(t, priv)

	mux := http.NewServeMux()
	mux.HandleFunc("/Fulfill", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<fulfillmentResult xmlns="%s"><error><code>E_ADEPT_EXPIRED</code><string>voucher expired</string></error></fulfillmentResult>`, adeptNS)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	engine := NewEngine(store, srv.Client(), 1, 10*time.Millisecond)

	acsmPath := filepath.Join(t.TempDir(), "book.acsm")
	acsm := fmt.Sprintf(`<?xml version="1.0"?>
<fulfillmentToken xmlns="http://ns.adobe.com/adept">
  <operatorURL>%s</operatorURL>
  <transactionId>order-99</transactionId>
  <resourceItemInfo><resourceItem>stub</resourceItem></resourceItemInfo>
</fulfillmentToken>`, srv.URL)
	require.NoError(t, os.WriteFile(acsmPath, []byte(acsm), 0o600))

	_, err = engine.Fulfill(context.Background(), acsmPath, t.TempDir())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "E_ADEPT_EXPIRED")
}
