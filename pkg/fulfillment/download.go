package fulfillment

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// downloadTo streams src to a "<dest>.part" file and renames it to dest
// on success, so a failed or interrupted download never leaves a
// partially-written file at the final path.
func downloadTo(ctx context.Context, client *http.Client, src, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "build download request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMNetworkTimeout, "download: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMServerError, "download returned HTTP %d", resp.StatusCode)
	}

	partPath := dest + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "create %s: %v", partPath, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(partPath)
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMNetworkTimeout, "download body: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "close %s: %v", partPath, err)
	}

	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return bookerrors.NewACSMFulfillmentError(bookerrors.ACSMMalformedResponse, "rename %s: %v", partPath, err)
	}
	return nil
}

// chooseExtension picks .epub or .pdf based on content type first, URL
// suffix second, defaulting to .epub (the common case) when neither is
// conclusive.
func chooseExtension(contentType, src string) string {
	switch {
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "epub"):
		return ".epub"
	}

	switch strings.ToLower(filepath.Ext(strings.SplitN(src, "?", 2)[0])) {
	case ".pdf":
		return ".pdf"
	case ".epub":
		return ".epub"
	}

	return ".epub"
}
