package fulfillment

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-bookloader/bookloader/pkg/adept"
	"github.com/go-bookloader/bookloader/pkg/adeptdrm"
	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
	"github.com/go-bookloader/bookloader/pkg/httpretry"
	"github.com/go-bookloader/bookloader/pkg/keystore"
)

// Engine fulfills .acsm vouchers against an already-activated key store.
type Engine struct {
	Store      *keystore.Store
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
}

// NewEngine returns an Engine backed by store, making HTTP calls with
// client and retrying network timeouts maxRetries times starting at
// baseDelay (doubling on each attempt), per the spec's ACSM retry policy.
func NewEngine(store *keystore.Store, client *http.Client, maxRetries int, baseDelay time.Duration) *Engine {
	return &Engine{Store: store, HTTPClient: client, MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Fulfill parses acsmPath, exchanges it with the operator for a download
// URL and wrapped content key, downloads the container to outputDir, and
// embeds the rights metadata into it. It returns the path to the
// downloaded (still-encrypted) container.
func (e *Engine) Fulfill(ctx context.Context, acsmPath, outputDir string) (string, error) {
	if !e.Store.IsAuthorized() {
		return "", bookerrors.NewAuthorizationError("fulfill: not authorized, run authorization first")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", bookerrors.NewACSMFulfillmentError(bookerrors.ACSMBadACSM, "create output dir: %v", err)
	}

	doc, err := ParseACSM(acsmPath)
	if err != nil {
		return "", err
	}

	privDER, err := e.Store.PrivateKey()
	if err != nil {
		return "", err
	}
	priv, err := cryptoutil.ParsePKCS1PrivateKeyDER(privDER)
	if err != nil {
		return "", err
	}
	deviceKey, err := adept.DeviceKeyFromStore(e.Store)
	if err != nil {
		return "", err
	}
	userUUID, err := e.userUUID()
	if err != nil {
		return "", err
	}

	req := fulfillRequest{
		Xmlns:       adeptNS,
		User:        userUUID,
		Fulfillment: doc.ResourceItemInfo,
	}
	body, err := marshalFulfillRequest(req)
	if err != nil {
		return "", err
	}
	body = adept.WithHMAC(body, deviceKey)
	sig, err := cryptoutil.SignPKCS1v15(priv, body)
	if err != nil {
		return "", bookerrors.NewACSMFulfillmentError(bookerrors.ACSMBadACSM, "sign fulfill request: %v", err)
	}
	body = adept.WithSignature(body, sig)

	resp, err := httpretry.Do(ctx, e.HTTPClient, func(ctx context.Context) (*http.Request, error) {
		return newPostRequest(ctx, doc.OperatorURL+"/Fulfill", body)
	}, e.MaxRetries, e.BaseDelay)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	result, err := decodeFulfillmentResult(resp)
	if err != nil {
		return "", err
	}

	ext := chooseExtension(result.Resource.ContentType, result.Resource.Src)
	outPath := filepath.Join(outputDir, sanitizeBasename(doc.TransactionID)+ext)

	if err := downloadTo(ctx, e.HTTPClient, result.Resource.Src, outPath); err != nil {
		return "", err
	}

	if err := embedRights(outPath, ext, result.Resource.LicenseToken, result.Resource.EncryptedKey); err != nil {
		os.Remove(outPath)
		return "", err
	}

	return outPath, nil
}

// Notify posts the optional best-effort completion notification. Errors
// are never fatal to a fulfillment that already succeeded; callers invoke
// this after Fulfill returns and may discard its error.
func (e *Engine) Notify(ctx context.Context, doc *acsmDocument) error {
	req := notifyRequest{Xmlns: adeptNS, TransactionID: doc.TransactionID}
	body, err := marshalNotifyRequest(req)
	if err != nil {
		return err
	}

	httpReq, err := newPostRequest(ctx, doc.OperatorURL+"/Notify", body)
	if err != nil {
		return err
	}
	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (e *Engine) userUUID() (string, error) {
	data, err := os.ReadFile(e.Store.ActivationXMLPath())
	if err != nil {
		return "", bookerrors.NewAuthorizationError("read activation.xml: %v", err)
	}
	return extractUser(data)
}

func embedRights(path, ext, licenseToken, encryptedKey string) error {
	switch ext {
	case ".pdf":
		return adeptdrm.EmbedPDFRights(path, licenseToken, encryptedKey)
	default:
		return adeptdrm.EmbedEPUBRights(path, licenseToken, encryptedKey)
	}
}

func sanitizeBasename(s string) string {
	if s == "" {
		return uuid.NewString()
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(s)
}
