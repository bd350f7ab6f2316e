package fulfillment

import "encoding/xml"

const adeptNS = "http://ns.adobe.com/adept"

// fulfillRequest wraps the whole inner XML of the ACSM's <fulfillmentToken>
// and the activated user's UUID. Hmac/signature are spliced in by engine.go's
// Fulfill the same way pkg/adept's registration requests are.
type fulfillRequest struct {
	XMLName xml.Name `xml:"fulfill"`
	Xmlns   string   `xml:"xmlns,attr"`
	User    string   `xml:"user"`
	Device  string   `xml:"device"`
	Fulfillment string `xml:",innerxml"`
}

type fulfillmentResultReply struct {
	XMLName xml.Name `xml:"fulfillmentResult"`
	Resource struct {
		Src               string `xml:"src"`
		LicenseToken      string `xml:"licenseToken"`
		EncryptedKey      string `xml:"encryptedKey"`
		ResourceItemInfo  string `xml:"resourceItemInfo"`
		ContentType       string `xml:"contentType"`
	} `xml:"resource"`
	ErrorCode   string `xml:"error>code"`
	ErrorString string `xml:"error>string"`
}

// notifyRequest is the optional, best-effort post-download notification.
type notifyRequest struct {
	XMLName       xml.Name `xml:"notify"`
	Xmlns         string   `xml:"xmlns,attr"`
	TransactionID string   `xml:"transactionId"`
}
