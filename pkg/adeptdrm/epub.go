// Package adeptdrm removes Adobe Adept DRM from EPUB and PDF containers
// once the caller holds the matching RSA private key, and embeds fresh
// rights metadata into a just-fulfilled container on the way in.
//
// The EPUB path (archive/zip, stream member-by-member into a new
// zip.Writer, mimetype stored first, skip the two META-INF DRM files) is
// grounded directly on abustany/lcp-decrypt's Decrypt function — same
// shape, different key-unwrap (RSA here vs. LCP's user-key AES) and
// different rights format (rights.xml vs. license.lcpl).
package adeptdrm

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/robinjoseph08/golib/logger"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
)

const (
	rightsXMLPath     = "META-INF/rights.xml"
	encryptionXMLPath = "META-INF/encryption.xml"
	aes128CBCAlgorithm = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"

	// deflateCompressionMethod is the Method value OCF's EncryptionProperties
	// uses to flag a member's plaintext as deflate-compressed before encryption.
	deflateCompressionMethod = 8
)

// rightsDocument is META-INF/rights.xml: the RSA-wrapped content key plus
// the license token the server issued.
type rightsDocument struct {
	XMLName      xml.Name `xml:"rights"`
	LicenseToken string   `xml:"licenseToken"`
	EncryptedKey string   `xml:"encryptedKey"`
}

// encryptionDocument is META-INF/encryption.xml: OCF-standard
// EncryptedData entries naming which archive members are encrypted, and
// optionally whether their plaintext was deflated before encryption.
type encryptionDocument struct {
	XMLName       xml.Name `xml:"encryption"`
	EncryptedData []struct {
		EncryptionMethod struct {
			Algorithm string `xml:"Algorithm,attr"`
		} `xml:"EncryptionMethod"`
		CipherData struct {
			CipherReference struct {
				URI string `xml:"URI,attr"`
			} `xml:"CipherReference"`
		} `xml:"CipherData"`
		EncryptionProperties struct {
			EncryptionProperty []struct {
				Compression []struct {
					Method int `xml:"Method,attr"`
				} `xml:"Compression"`
			} `xml:"EncryptionProperty"`
		} `xml:"EncryptionProperties"`
	} `xml:"EncryptedData"`
}

// memberEncryption describes how one archive member is handled during
// rewriteEPUB: whether it needs decrypting at all, and if so, whether the
// encryption.xml marked its plaintext as deflated.
type memberEncryption struct {
	recognized bool
	compressed bool
}

// DecryptEPUB removes Adept DRM from the EPUB at srcPath, writing the
// plaintext archive to dstPath. If srcPath has no META-INF/rights.xml it
// is already plaintext: the file is copied unchanged and no error is
// returned (DRMAlreadyPlaintext is the sentinel for that fast path, not
// an error the caller must special-case).
func DecryptEPUB(srcPath, dstPath string, privDER []byte) error {
	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open epub: %v", err)
	}
	defer zr.Close()

	rightsFile := findZipEntry(&zr.Reader, rightsXMLPath)
	if rightsFile == nil {
		return copyAlreadyPlaintext(srcPath, dstPath)
	}

	contentKey, err := readContentKey(rightsFile, privDER)
	if err != nil {
		return err
	}

	encSet, err := readEncryptionSet(&zr.Reader)
	if err != nil {
		return err
	}

	partPath := dstPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create output: %v", err)
	}

	if err := rewriteEPUB(&zr.Reader, out, contentKey, encSet); err != nil {
		out.Close()
		os.Remove(partPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "close output: %v", err)
	}
	if err := os.Rename(partPath, dstPath); err != nil {
		os.Remove(partPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "rename output: %v", err)
	}
	return nil
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func copyAlreadyPlaintext(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open source: %v", err)
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create output: %v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "copy plaintext container: %v", err)
	}
	return nil
}

func readContentKey(rightsFile *zip.File, privDER []byte) ([]byte, error) {
	rc, err := rightsFile.Open()
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open rights.xml: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "read rights.xml: %v", err)
	}

	var rights rightsDocument
	if err := xml.Unmarshal(data, &rights); err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "parse rights.xml: %v", err)
	}
	if rights.EncryptedKey == "" {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "rights.xml missing encryptedKey")
	}

	wrapped, err := base64.StdEncoding.DecodeString(rights.EncryptedKey)
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "decode encryptedKey: %v", err)
	}

	priv, err := cryptoutil.ParsePKCS1PrivateKeyDER(privDER)
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "parse private key: %v", err)
	}

	contentKey, err := cryptoutil.UnwrapPKCS1v15(priv, wrapped)
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMWrongKey, "unwrap content key: %v", err)
	}
	return contentKey, nil
}

func readEncryptionSet(zr *zip.Reader) (map[string]memberEncryption, error) {
	set := map[string]memberEncryption{}

	f := findZipEntry(zr, encryptionXMLPath)
	if f == nil {
		return set, nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open encryption.xml: %v", err)
	}
	defer rc.Close()

	var doc encryptionDocument
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "parse encryption.xml: %v", err)
	}

	log := logger.New()
	for _, ed := range doc.EncryptedData {
		path, err := url.PathUnescape(ed.CipherData.CipherReference.URI)
		if err != nil {
			return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "decode cipher reference %q: %v", ed.CipherData.CipherReference.URI, err)
		}

		if ed.EncryptionMethod.Algorithm != aes128CBCAlgorithm {
			log.Warn("unsupported cipher in encryption.xml, passing member through unmodified", logger.Data{
				"path":      path,
				"algorithm": ed.EncryptionMethod.Algorithm,
			})
			set[path] = memberEncryption{recognized: false}
			continue
		}

		compressed := false
	propLoop:
		for _, prop := range ed.EncryptionProperties.EncryptionProperty {
			for _, c := range prop.Compression {
				if c.Method == deflateCompressionMethod {
					compressed = true
					break propLoop
				}
			}
		}

		set[path] = memberEncryption{recognized: true, compressed: compressed}
	}
	return set, nil
}

func rewriteEPUB(zr *zip.Reader, out io.Writer, contentKey []byte, encSet map[string]memberEncryption) error {
	zw := zip.NewWriter(out)

	if mt := findZipEntry(zr, "mimetype"); mt != nil {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
		if err != nil {
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "write mimetype: %v", err)
		}
		rc, err := mt.Open()
		if err != nil {
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open mimetype: %v", err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "copy mimetype: %v", err)
		}
		rc.Close()
	}

	for _, f := range zr.File {
		switch f.Name {
		case "mimetype", rightsXMLPath, encryptionXMLPath:
			continue
		}

		w, err := zw.Create(f.Name)
		if err != nil {
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create %s: %v", f.Name, err)
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open %s: %v", f.Name, err)
		}

		if me, ok := encSet[f.Name]; ok && me.recognized {
			ciphertext, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "read %s: %v", f.Name, err)
			}
			plaintext, err := cryptoutil.DecryptCBC(contentKey, ciphertext)
			if err != nil {
				return bookerrors.NewDRMRemovalError(bookerrors.DRMWrongKey, "decrypt %s: %v", f.Name, err)
			}

			if me.compressed {
				fr := flate.NewReader(bytes.NewReader(plaintext))
				if _, err := io.Copy(w, fr); err != nil {
					fr.Close()
					return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "inflate %s: %v", f.Name, err)
				}
				fr.Close()
				continue
			}

			if _, err := w.Write(plaintext); err != nil {
				return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "write %s: %v", f.Name, err)
			}
			continue
		}

		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "copy %s: %v", f.Name, err)
		}
		rc.Close()
	}

	if err := zw.Close(); err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "finalize archive: %v", err)
	}
	return nil
}

// EmbedEPUBRights writes a META-INF/rights.xml carrying licenseToken and
// encryptedKey into the EPUB at path, the container-side half of ACSM
// fulfillment's step 5. It rewrites the archive in place via a temporary
// file, the same stream-member-by-member approach DecryptEPUB uses.
func EmbedEPUBRights(path, licenseToken, encryptedKey string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open epub: %v", err)
	}
	defer zr.Close()

	rights := rightsDocument{LicenseToken: licenseToken, EncryptedKey: encryptedKey}
	rightsBytes, err := xml.MarshalIndent(rights, "", "  ")
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "marshal rights.xml: %v", err)
	}

	tmpPath := path + ".rights.tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create temp: %v", err)
	}

	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create %s: %v", f.Name, err)
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "open %s: %v", f.Name, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "copy %s: %v", f.Name, err)
		}
	}

	rw, err := zw.Create(rightsXMLPath)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "create rights.xml: %v", err)
	}
	if _, err := bytes.NewReader(rightsBytes).WriteTo(rw); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "write rights.xml: %v", err)
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "finalize archive: %v", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "close temp: %v", err)
	}

	return os.Rename(tmpPath, path)
}
