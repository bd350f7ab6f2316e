package adept

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
)

// CreateUser is step 3: discover the auth server URL for method
// ("anonymous" or "AdobeID") by POSTing an <authenticationServiceInfo>
// query, and remember it for SignIn.
func (s *Session) CreateUser(ctx context.Context, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < HasDevice {
		return bookerrors.NewAuthorizationError("create user: device file must be created first")
	}

	req := authenticationServiceInfoRequest{Xmlns: Namespace, Method: method}
	body, err := xml.Marshal(req)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal authenticationServiceInfo")
	}
	body = withHMAC(body, s.deviceKey)

	var reply authenticationServiceInfoReply
	if err := s.post(ctx, s.fulfillURL+"/AuthenticationServiceInfo", body, &reply); err != nil {
		return err
	}
	if reply.ErrorCode != "" {
		return bookerrors.NewAuthorizationError("create user: server error %s: %s", reply.ErrorCode, reply.ErrorString)
	}
	if reply.AuthURL == "" {
		return bookerrors.NewAuthorizationError("create user: server did not return an authURL")
	}

	s.authServiceURL = reply.AuthURL
	s.state = HasUser
	return nil
}

// SignIn is step 4. For method == "anonymous", email and password are
// ignored. For "AdobeID" they are AES-encrypted under the device key
// before transmission. On success the server's privateLicenseKey and
// licenseCertificate are persisted into activation.xml.
func (s *Session) SignIn(ctx context.Context, method, email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < HasUser {
		return bookerrors.NewAuthorizationError("sign in: user must be created first")
	}

	deviceXML, err := os.ReadFile(s.store.DeviceXMLPath())
	if err != nil {
		return bookerrors.NewAuthorizationError("sign in: read device.xml: %v", err)
	}

	req := signInRequest{
		Xmlns:     Namespace,
		Method:    method,
		DeviceXML: string(deviceXML),
	}
	if method == "AdobeID" {
		encUsername, err := encryptCredential(s.deviceKey, email)
		if err != nil {
			return bookerrors.NewAuthorizationError("sign in: encrypt email: %v", err)
		}
		encPassword, err := encryptCredential(s.deviceKey, password)
		if err != nil {
			return bookerrors.NewAuthorizationError("sign in: encrypt password: %v", err)
		}
		req.Username = encUsername
		req.Password = encPassword
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal signIn")
	}
	body = withHMAC(body, s.deviceKey)

	var reply signInReply
	if err := s.post(ctx, s.authServiceURL+"/SignIn", body, &reply); err != nil {
		return err
	}
	if reply.ErrorCode != "" {
		return bookerrors.NewAuthorizationError("sign in failed: server error %s: %s", reply.ErrorCode, reply.ErrorString)
	}
	if reply.PrivateLicenseKey == "" {
		return bookerrors.NewAuthorizationError("sign in failed: server did not return a privateLicenseKey")
	}

	var rec activationRecord
	rec.Xmlns = Namespace
	rec.Credentials.Username.Method = method
	rec.Credentials.Username.Value = reply.Username
	rec.Credentials.User = reply.User
	rec.Credentials.PrivateLicenseKey = reply.PrivateLicenseKey
	rec.Credentials.LicenseCertificate = reply.LicenseCertificate

	out, err := xml.MarshalIndent(rec, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "marshal activation.xml")
	}
	if err := os.WriteFile(s.store.ActivationXMLPath(), out, 0o600); err != nil {
		return bookerrors.NewAuthorizationError("write activation.xml: %v", err)
	}

	s.userUUID = reply.User
	s.username = reply.Username
	s.state = SignedIn
	return nil
}

// ActivateDevice is step 5: POST an <activate> request signed with the
// private key obtained from SignIn, and move the session to Activated when
// the reply carries no error. The reply's <credentials> block is not
// written to activation.xml, which keeps what SignIn stored.
func (s *Session) ActivateDevice(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < SignedIn {
		return bookerrors.NewAuthorizationError("activate device: must sign in first")
	}

	privDER, err := s.privateKeyLocked()
	if err != nil {
		return err
	}
	priv, err := cryptoutil.ParsePKCS1PrivateKeyDER(privDER)
	if err != nil {
		return bookerrors.NewAuthorizationError("activate device: %v", err)
	}

	deviceXML, err := os.ReadFile(s.store.DeviceXMLPath())
	if err != nil {
		return bookerrors.NewAuthorizationError("activate device: read device.xml: %v", err)
	}

	req := activateRequest{
		Xmlns:     Namespace,
		User:      s.userUUID,
		DeviceXML: string(deviceXML),
	}
	body, err := xml.Marshal(req)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal activate")
	}
	body = withHMAC(body, s.deviceKey)

	sig, err := cryptoutil.SignPKCS1v15(priv, body)
	if err != nil {
		return bookerrors.NewAuthorizationError("activate device: sign request: %v", err)
	}
	body = withSignature(body, sig)

	var reply activateReply
	if err := s.post(ctx, s.fulfillURL+"/Activate", body, &reply); err != nil {
		return err
	}
	if reply.ErrorCode != "" {
		return bookerrors.NewAuthorizationError("activate device failed: server error %s: %s", reply.ErrorCode, reply.ErrorString)
	}

	s.state = Activated
	return nil
}

// AuthorizeAnonymous runs the full five-step sequence for an anonymous
// (no Adobe ID) authorization, the flow original_source's
// authorize_anonymous drives end to end.
func (s *Session) AuthorizeAnonymous(ctx context.Context) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()

	if err := s.CreateDeviceKeyFile(); err != nil {
		return err
	}
	if err := s.CreateDeviceFile("book-loader", "book-loader", "standalone", true); err != nil {
		return err
	}
	if err := s.CreateUser(ctx, "anonymous"); err != nil {
		return err
	}
	if err := s.SignIn(ctx, "anonymous", "", ""); err != nil {
		return err
	}
	return s.ActivateDevice(ctx)
}

// AuthorizeAdobeID runs the full five-step sequence for an AdobeID
// authorization, the flow original_source's authorize_adobe_id drives end
// to end.
func (s *Session) AuthorizeAdobeID(ctx context.Context, email, password string) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()

	if err := s.CreateDeviceKeyFile(); err != nil {
		return err
	}
	if err := s.CreateDeviceFile("book-loader", "book-loader", "standalone", true); err != nil {
		return err
	}
	if err := s.CreateUser(ctx, "AdobeID"); err != nil {
		return err
	}
	if err := s.SignIn(ctx, "AdobeID", email, password); err != nil {
		return err
	}
	return s.ActivateDevice(ctx)
}

// Lock/Unlock expose the underlying store's advisory single-writer lock
// so callers that want to run individual steps (as the debug tools do)
// can bracket them the same way AuthorizeAnonymous/AuthorizeAdobeID do.
func (s *Session) Lock() error   { return s.store.Lock() }
func (s *Session) Unlock() error { return s.store.Unlock() }

func (s *Session) privateKeyLocked() ([]byte, error) {
	data, err := os.ReadFile(s.store.ActivationXMLPath())
	if err != nil {
		return nil, bookerrors.NewAuthorizationError("read activation.xml: %v", err)
	}
	var rec activationRecord
	if err := xml.Unmarshal(data, &rec); err != nil {
		return nil, bookerrors.NewAuthorizationError("parse activation.xml: %v", err)
	}
	der, err := base64.StdEncoding.DecodeString(rec.Credentials.PrivateLicenseKey)
	if err != nil {
		return nil, bookerrors.NewAuthorizationError("decode privateLicenseKey: %v", err)
	}
	return der, nil
}

// post POSTs body to url and decodes the XML reply into out. A non-200
// status or a transport error is an AuthorizationError; the five-step
// sequence is not retried the way ACSM fulfillment is (the spec reserves
// retry-with-backoff for C4 only).
func (s *Session) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/vnd.adobe.adept+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return bookerrors.NewAuthorizationError("request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return bookerrors.NewAuthorizationError("read response from %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return bookerrors.NewAuthorizationError("%s returned HTTP %d: %s", url, resp.StatusCode, respBody)
	}

	if err := xml.Unmarshal(respBody, out); err != nil {
		return bookerrors.NewAuthorizationError("parse response from %s: %v", url, err)
	}
	return nil
}

// WithHMAC is the exported form of withHMAC, for callers outside this
// package (pkg/fulfillment's <fulfill>/<notify> requests) that need the
// same hmac-stamping the five registration steps use.
func WithHMAC(body, deviceKey []byte) []byte { return withHMAC(body, deviceKey) }

// WithSignature is the exported form of withSignature.
func WithSignature(body, sig []byte) []byte { return withSignature(body, sig) }

// withHMAC appends an <hmac> element, computed as HMAC-SHA1 over the
// request body, right before the closing root tag.
func withHMAC(body, deviceKey []byte) []byte {
	mac := cryptoutil.HMACSHA1(deviceKey, body)
	return insertBeforeClose(body, fmt.Sprintf("<hmac>%s</hmac>", base64.StdEncoding.EncodeToString(mac)))
}

// withSignature appends a <signature> element carrying the RSA signature
// over the (already HMAC-stamped) body.
func withSignature(body, sig []byte) []byte {
	return insertBeforeClose(body, fmt.Sprintf("<signature>%s</signature>", base64.StdEncoding.EncodeToString(sig)))
}

func insertBeforeClose(body []byte, elem string) []byte {
	idx := bytes.LastIndexByte(body, '<')
	if idx < 0 {
		return body
	}
	out := make([]byte, 0, len(body)+len(elem))
	out = append(out, body[:idx]...)
	out = append(out, []byte(elem)...)
	out = append(out, body[idx:]...)
	return out
}
