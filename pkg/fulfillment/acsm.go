// Package fulfillment implements ACSM voucher fulfillment: parsing the
// .acsm XML, exchanging it with the Adobe Content Server for a download
// URL and wrapped content key, and streaming the resulting container to
// disk.
//
// Grounded on original_source's ACSMFulfiller.fulfill, which is itself a
// thin wrapper over the vendored libadobeFulfill module; since that
// module isn't part of the retrieved source, the wire shape here follows
// the spec's step-by-step description directly.
package fulfillment

import (
	"encoding/xml"
	"os"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// acsmDocument is the .acsm voucher's top-level <fulfillmentToken>.
type acsmDocument struct {
	XMLName          xml.Name `xml:"fulfillmentToken"`
	OperatorURL      string   `xml:"operatorURL"`
	FulfillmentType  string   `xml:"fulfillmentType"`
	TransactionID    string   `xml:"transactionId"`
	ResourceItemInfo string   `xml:",innerxml"` // passed through to <fulfill> verbatim
	Raw              []byte   `xml:"-"`
}

// ParseACSM reads and parses an .acsm voucher file.
func ParseACSM(path string) (*acsmDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMBadACSM, "read acsm: %v", err)
	}
	return ParseACSMBytes(data)
}

// ParseACSMBytes parses raw .acsm XML bytes.
func ParseACSMBytes(data []byte) (*acsmDocument, error) {
	var doc acsmDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMBadACSM, "parse acsm: %v", err)
	}
	if doc.OperatorURL == "" {
		return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMBadACSM, "acsm missing operatorURL")
	}
	doc.Raw = data
	return &doc, nil
}
