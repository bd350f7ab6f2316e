package fulfillment

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"

	pkgerrors "github.com/pkg/errors"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

func marshalFulfillRequest(req fulfillRequest) ([]byte, error) {
	out, err := xml.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal fulfill request")
	}
	return out, nil
}

func marshalNotifyRequest(req notifyRequest) ([]byte, error) {
	out, err := xml.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal notify request")
	}
	return out, nil
}

func newPostRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/vnd.adobe.adept+xml")
	return req, nil
}

func decodeFulfillmentResult(resp *http.Response) (*fulfillmentResultReply, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMServerError, "fulfill returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "read fulfillment response: %v", err)
	}

	var result fulfillmentResultReply
	if err := xml.Unmarshal(data, &result); err != nil {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "parse fulfillment response: %v", err)
	}
	if result.ErrorCode != "" {
		return nil, bookerrors.NewACSMServerError(result.ErrorCode, result.ErrorString)
	}
	if result.Resource.Src == "" {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "fulfillment response missing resource src")
	}

	return &result, nil
}

// extractUser pulls <credentials><user> out of activation.xml without
// pulling in the full adept.activationRecord type (unexported in that
// package); the fulfillment engine only ever needs this one field.
func extractUser(data []byte) (string, error) {
	var rec struct {
		Credentials struct {
			User string `xml:"user"`
		} `xml:"credentials"`
	}
	if err := xml.Unmarshal(data, &rec); err != nil {
		return "", bookerrors.NewAuthorizationError("parse activation.xml: %v", err)
	}
	if rec.Credentials.User == "" {
		return "", bookerrors.NewAuthorizationError("activation.xml missing user uuid")
	}
	return rec.Credentials.User, nil
}
