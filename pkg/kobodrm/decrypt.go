package kobodrm

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
	"github.com/go-bookloader/bookloader/pkg/kobolibrary"
)

// DecryptBook removes KDRM from book, trying each candidate key in turn,
// and writes the resulting plain EPUB to dstPath. A DRM-free book is
// copied unchanged. If no candidate key succeeds, a KoboDecryptionError
// naming the book's title is returned.
func DecryptBook(book kobolibrary.Book, candidateKeys [][]byte, dstPath string) error {
	if !book.HasDRM {
		return copyFile(book.Filename, dstPath)
	}

	for _, key := range candidateKeys {
		plaintext, ok, fatalErr := tryKey(book, key)
		if fatalErr != nil {
			return fatalErr
		}
		if !ok {
			continue
		}

		partPath := dstPath + ".part"
		if err := os.WriteFile(partPath, plaintext, 0o644); err != nil {
			return bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}
		if err := os.Rename(partPath, dstPath); err != nil {
			os.Remove(partPath)
			return bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}
		return nil
	}

	return bookerrors.NewKoboDecryptionError(bookerrors.KoboNoValidKey, book.Title)
}

// tryKey attempts a single candidate key against the whole archive. It
// returns (plaintextZipBytes, true, nil) on success; (nil, false, nil)
// when this key is simply the wrong one (padding or sanity-check
// rejection — the caller should try the next candidate); and
// (nil, false, err) only for a structural problem with the input archive
// itself, which no other candidate key can fix.
//
// This is the trial-decryption-as-fallible-validator shape: wrong-key
// rejection is an ordinary return value, not a panic or a sentinel error
// type the caller has to unwrap.
func tryKey(book kobolibrary.Book, userKey []byte) (plaintextZip []byte, ok bool, fatalErr error) {
	zr, err := zip.OpenReader(book.Filename)
	if err != nil {
		return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
	}
	defer zr.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}
		contents, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}

		if wrapped, encrypted := book.EncryptedFiles[f.Name]; encrypted {
			plaintext, ok := decryptMember(f.Name, wrapped, contents, userKey)
			if !ok {
				return nil, false, nil
			}
			contents = plaintext
		}

		if _, err := w.Write(contents); err != nil {
			return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, false, bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, book.Title)
	}

	return buf.Bytes(), true, nil
}

func copyFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, srcPath)
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return bookerrors.NewKoboDecryptionError(bookerrors.KoboMalformedContainer, srcPath)
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// sanityCheck implements the spec's "right key" signal for extensions
// where PKCS#7 validity alone is not a strong enough signal.
func sanityCheck(memberName string, plaintext []byte) bool {
	lower := strings.ToLower(memberName)
	switch {
	case strings.HasSuffix(lower, ".xhtml"), strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		n := len(plaintext)
		if n > 5 {
			n = 5
		}
		for i := 0; i < n; i++ {
			if plaintext[i] < 0x20 || plaintext[i] > 0x7F {
				return false
			}
		}
		return true
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		if len(plaintext) < 3 {
			return true
		}
		return plaintext[0] == 0xFF && plaintext[1] == 0xD8 && plaintext[2] == 0xFF
	default:
		return true
	}
}

// decryptMember unwraps one archive member's page key under userKey,
// then decrypts its content under the page key. ok=false signals a
// wrong-key rejection (bad padding or failed sanity check); it is never
// a fatal error.
func decryptMember(memberName string, wrapped, ciphertext, userKey []byte) (plaintext []byte, ok bool) {
	pageKey, err := cryptoutil.DecryptECBRaw(userKey, wrapped)
	if err != nil {
		return nil, false
	}

	plaintext, err = cryptoutil.DecryptECBPKCS7(pageKey, ciphertext)
	if err != nil {
		return nil, false
	}

	if !sanityCheck(memberName, plaintext) {
		return nil, false
	}
	return plaintext, true
}
