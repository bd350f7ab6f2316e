package adept

import "encoding/xml"

// deviceRecord is the persisted device.xml document.
type deviceRecord struct {
	XMLName     xml.Name `xml:"device"`
	Xmlns       string   `xml:"xmlns,attr"`
	DeviceType  string   `xml:"deviceType"`
	Vendor      string   `xml:"vendor"`
	Model       string   `xml:"model"`
	Version     string   `xml:"version"`
	Serial      string   `xml:"serial"`
	Fingerprint string   `xml:"fingerprint"`
}

// authenticationServiceInfoRequest discovers the auth server URL for a
// given method ("anonymous" or "AdobeID").
type authenticationServiceInfoRequest struct {
	XMLName xml.Name `xml:"authenticationServiceInfo"`
	Xmlns   string   `xml:"xmlns,attr"`
	Method  string   `xml:"method"`
	HMAC    string   `xml:"hmac,omitempty"`
}

type authenticationServiceInfoReply struct {
	XMLName     xml.Name `xml:"authServiceInfo"`
	AuthURL     string   `xml:"authURL"`
	ErrorCode   string   `xml:"error>code"`
	ErrorString string   `xml:"error>string"`
}

// signInRequest is the <signIn> body. For method "anonymous" Username/
// Password are empty. For "AdobeID" they carry the device-key-encrypted,
// base64-encoded email and password.
type signInRequest struct {
	XMLName   xml.Name `xml:"signIn"`
	Xmlns     string   `xml:"xmlns,attr"`
	Method    string   `xml:"method,attr"`
	Username  string   `xml:"username,omitempty"`
	Password  string   `xml:"password,omitempty"`
	DeviceXML string   `xml:"device"`
	HMAC      string   `xml:"hmac,omitempty"`
}

type signInReply struct {
	XMLName           xml.Name `xml:"credentials"`
	User              string   `xml:"user"`
	Username          string   `xml:"username"`
	PrivateLicenseKey string   `xml:"privateLicenseKey"`
	LicenseCertificate string  `xml:"licenseCertificate"`
	ErrorCode         string   `xml:"error>code"`
	ErrorString       string   `xml:"error>string"`
}

// activateRequest is the <activate> body, signed with the private key
// obtained from signIn.
type activateRequest struct {
	XMLName   xml.Name `xml:"activate"`
	Xmlns     string   `xml:"xmlns,attr"`
	User      string   `xml:"user"`
	Device    string   `xml:"device"`
	DeviceXML string   `xml:"deviceInfo"`
	HMAC      string   `xml:"hmac,omitempty"`
	Signature string   `xml:"signature,omitempty"`
}

type activateReply struct {
	XMLName     xml.Name `xml:"activationToken"`
	Credentials string   `xml:"credentials"`
	ErrorCode   string   `xml:"error>code"`
	ErrorString string   `xml:"error>string"`
}

// activationRecord is the persisted activation.xml document: what signIn
// learned, in the shape keystore.Store reads back.
type activationRecord struct {
	XMLName     xml.Name `xml:"activationToken"`
	Xmlns       string   `xml:"xmlns,attr"`
	Credentials struct {
		Username struct {
			Method string `xml:"method,attr"`
			Value  string `xml:",chardata"`
		} `xml:"username"`
		User               string `xml:"user"`
		PrivateLicenseKey  string `xml:"privateLicenseKey"`
		LicenseCertificate string `xml:"licenseCertificate"`
		AuthenticationCertificate string `xml:"authenticationCertificate,omitempty"`
	} `xml:"credentials"`
}
