package adeptdrm

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"sort"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
)

// pdfFile is a parsed classic (table-based, not cross-reference-stream)
// PDF: the byte buffer plus an object-number -> byte-offset index built
// from the "xref" table the trailer's startxref points at. Only a single
// xref section is followed (no /Prev chain); a PDF with incremental
// updates is out of scope and rejected as malformed, noted in DESIGN.md.
type pdfFile struct {
	data    []byte
	offsets map[int]int
	trailer pdfValue
}

func parsePDFFile(data []byte) (*pdfFile, error) {
	startxrefPos := lastIndex(data, "startxref")
	if startxrefPos < 0 {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: no startxref found")
	}

	p := newPDFParser(data, startxrefPos+len("startxref"))
	p.skipWhite()
	offsetVal, err := p.parseValue()
	if err != nil || offsetVal.Kind != kindNumber {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: invalid startxref offset")
	}
	xrefOffset := int(offsetVal.Number)
	if xrefOffset < 0 || xrefOffset >= len(data) {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: startxref offset out of range")
	}

	xp := newPDFParser(data, xrefOffset)
	xp.skipWhite()
	if !hasPrefixAt(data, xp.pos, "xref") {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: cross-reference streams are not supported")
	}
	xp.pos += len("xref")

	offsets := map[int]int{}
	for {
		xp.skipWhite()
		if hasPrefixAt(data, xp.pos, "trailer") {
			xp.pos += len("trailer")
			break
		}
		startObj, ok1 := xp.readNumberToken()
		xp.skipWhite()
		count, ok2 := xp.readNumberToken()
		if !ok1 || !ok2 {
			return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: malformed xref subsection header")
		}
		for i := 0; i < int(count); i++ {
			xp.skipWhite()
			entryStart := xp.pos
			if entryStart+20 > len(data) {
				return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: truncated xref entry")
			}
			entry := string(data[entryStart : entryStart+20])
			var off int
			var gen int
			var kind string
			if _, err := fmt.Sscanf(entry, "%10d %5d %1s", &off, &gen, &kind); err != nil {
				return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: malformed xref entry: %v", err)
			}
			xp.pos = entryStart + 20
			if kind == "n" {
				offsets[int(startObj)+i] = off
			}
		}
	}

	xp.skipWhite()
	trailer, err := xp.parseValue()
	if err != nil || trailer.Kind != kindDict {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: malformed trailer")
	}
	if _, ok := trailer.dictGet("Prev"); ok {
		return nil, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: incremental updates (/Prev) are not supported")
	}

	return &pdfFile{data: data, offsets: offsets, trailer: trailer}, nil
}

func lastIndex(data []byte, sub string) int {
	for i := len(data) - len(sub); i >= 0; i-- {
		if string(data[i:i+len(sub)]) == sub {
			return i
		}
	}
	return -1
}

// object parses object num's body (the value after "N G obj").
func (f *pdfFile) object(num int) (pdfValue, error) {
	offset, ok := f.offsets[num]
	if !ok {
		return pdfValue{}, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: object %d not in xref", num)
	}

	p := newPDFParser(f.data, offset)
	p.skipWhite()
	if _, ok := p.readNumberToken(); !ok {
		return pdfValue{}, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: object %d missing number header", num)
	}
	p.skipWhite()
	if _, ok := p.readNumberToken(); !ok {
		return pdfValue{}, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: object %d missing generation header", num)
	}
	p.skipWhite()
	if !hasPrefixAt(f.data, p.pos, "obj") {
		return pdfValue{}, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: object %d missing obj keyword", num)
	}
	p.pos += len("obj")

	return p.parseValue()
}

// resolve follows v if it is an indirect reference, otherwise returns it
// unchanged.
func (f *pdfFile) resolve(v pdfValue) (pdfValue, error) {
	if v.Kind != kindRef {
		return v, nil
	}
	return f.object(v.Ref.Num)
}

// encryptKey locates the trailer's /Encrypt dictionary, extracts its
// /ADEPT sub-dictionary's base64 /Key, and RSA-unwraps it into the
// content key.
func (f *pdfFile) encryptKey(privDER []byte) ([]byte, int, error) {
	encRef, ok := f.trailer.dictGet("Encrypt")
	if !ok {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMAlreadyPlaintext, "pdf has no /Encrypt entry")
	}
	if encRef.Kind != kindRef {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: /Encrypt is not an indirect reference")
	}

	encDict, err := f.object(encRef.Ref.Num)
	if err != nil {
		return nil, -1, err
	}
	adept, ok := encDict.dictGet("ADEPT")
	if !ok {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMUnknownCipher, "pdf: /Encrypt has no /ADEPT filter dictionary")
	}
	adept, err = f.resolve(adept)
	if err != nil {
		return nil, -1, err
	}
	keyVal, ok := adept.dictGet("Key")
	if !ok || keyVal.Kind != kindString {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: /ADEPT missing /Key")
	}

	wrapped := []byte(keyVal.Text)
	if looksBase64(wrapped) {
		if decoded, err := base64.StdEncoding.DecodeString(keyVal.Text); err == nil {
			wrapped = decoded
		}
	}

	priv, err := cryptoutil.ParsePKCS1PrivateKeyDER(privDER)
	if err != nil {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "pdf: parse private key: %v", err)
	}
	contentKey, err := cryptoutil.UnwrapPKCS1v15(priv, wrapped)
	if err != nil {
		return nil, -1, bookerrors.NewDRMRemovalError(bookerrors.DRMWrongKey, "pdf: unwrap content key: %v", err)
	}

	return contentKey, encRef.Ref.Num, nil
}

func looksBase64(b []byte) bool {
	for _, c := range b {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '+' || c == '/' || c == '=') {
			return false
		}
	}
	return len(b) > 0
}

// DecryptPDF removes Adept DRM from the PDF at srcPath, writing the
// plaintext file to dstPath. A PDF with no /Encrypt entry is already
// plaintext and is copied unchanged.
func DecryptPDF(srcPath, dstPath string, privDER []byte) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "read pdf: %v", err)
	}

	pf, err := parsePDFFile(data)
	if err != nil {
		return err
	}

	contentKey, encryptObjNum, err := pf.encryptKey(privDER)
	if err != nil {
		if drmErr, ok := err.(*bookerrors.DRMRemovalError); ok && drmErr.Kind == bookerrors.DRMAlreadyPlaintext {
			return copyAlreadyPlaintext(srcPath, dstPath)
		}
		return err
	}

	return pf.rewrite(dstPath, contentKey, encryptObjNum)
}

func (f *pdfFile) rewrite(dstPath string, contentKey []byte, encryptObjNum int) error {
	nums := make([]int, 0, len(f.offsets))
	for n := range f.offsets {
		if n == encryptObjNum {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.6\n")

	newOffsets := map[int]int{}
	maxNum := 0
	for _, num := range nums {
		if num > maxNum {
			maxNum = num
		}
		obj, err := f.object(num)
		if err != nil {
			return err
		}
		if obj.Kind == kindStream {
			plaintext, err := cryptoutil.DecryptCBC(contentKey, obj.StreamData)
			if err != nil {
				return bookerrors.NewDRMRemovalError(bookerrors.DRMWrongKey, "pdf: decrypt object %d: %v", num, err)
			}
			obj.StreamData = plaintext
			obj.Dict["Length"] = pdfValue{Kind: kindNumber, Number: float64(len(plaintext))}
		}

		newOffsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		writePDFValue(&buf, obj)
		buf.WriteString("\nendobj\n")
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		off, ok := newOffsets[num]
		if !ok {
			buf.WriteString("0000000000 00000 f \n")
			continue
		}
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	newTrailer := pdfValue{Kind: kindDict, Dict: map[string]pdfValue{}}
	for k, v := range f.trailer.Dict {
		if k == "Encrypt" {
			continue
		}
		newTrailer.Dict[k] = v
	}
	newTrailer.Dict["Size"] = pdfValue{Kind: kindNumber, Number: float64(maxNum + 1)}

	buf.WriteString("trailer\n")
	writePDFValue(&buf, newTrailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefStart)

	partPath := dstPath + ".part"
	if err := os.WriteFile(partPath, buf.Bytes(), 0o644); err != nil {
		os.Remove(partPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "write pdf: %v", err)
	}
	if err := os.Rename(partPath, dstPath); err != nil {
		os.Remove(partPath)
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "rename pdf: %v", err)
	}
	return nil
}

func writePDFValue(buf *bytes.Buffer, v pdfValue) {
	switch v.Kind {
	case kindNull:
		buf.WriteString("null")
	case kindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case kindNumber:
		fmt.Fprintf(buf, "%v", v.Number)
	case kindName:
		buf.WriteByte('/')
		buf.WriteString(v.Text)
	case kindString:
		buf.WriteByte('(')
		buf.WriteString(escapePDFLiteral(v.Text))
		buf.WriteByte(')')
	case kindRef:
		fmt.Fprintf(buf, "%d %d R", v.Ref.Num, v.Ref.Gen)
	case kindArray:
		buf.WriteByte('[')
		for i, e := range v.Array {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writePDFValue(buf, e)
		}
		buf.WriteByte(']')
	case kindDict, kindStream:
		buf.WriteString("<<")
		for k, e := range v.Dict {
			buf.WriteByte('/')
			buf.WriteString(k)
			buf.WriteByte(' ')
			writePDFValue(buf, e)
			buf.WriteByte(' ')
		}
		buf.WriteString(">>")
		if v.Kind == kindStream {
			buf.WriteString("\nstream\n")
			buf.Write(v.StreamData)
			buf.WriteString("\nendstream")
		}
	}
}

func escapePDFLiteral(s string) string {
	var out bytes.Buffer
	for _, c := range []byte(s) {
		if c == '(' || c == ')' || c == '\\' {
			out.WriteByte('\\')
		}
		out.WriteByte(c)
	}
	return out.String()
}

// EmbedPDFRights is the PDF half of ACSM fulfillment's step 5: the
// downloaded PDF already has its content streams AES-CBC-encrypted by
// the operator, but carries no /Encrypt entry yet. This adds one,
// pointing at a new /ADEPT filter dictionary holding the wrapped content
// key and license token, and rewrites the trailer to reference it.
func EmbedPDFRights(path, licenseToken, encryptedKey string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "read pdf: %v", err)
	}

	pf, err := parsePDFFile(data)
	if err != nil {
		return err
	}

	maxNum := 0
	for n := range pf.offsets {
		if n > maxNum {
			maxNum = n
		}
	}
	adeptNum := maxNum + 1
	encryptNum := maxNum + 2

	adeptDict := pdfValue{Kind: kindDict, Dict: map[string]pdfValue{
		"Key":          {Kind: kindString, Text: encryptedKey},
		"LicenseToken": {Kind: kindString, Text: licenseToken},
	}}
	encryptDict := pdfValue{Kind: kindDict, Dict: map[string]pdfValue{
		"Filter": {Kind: kindName, Text: "ADEPT"},
		"ADEPT":  {Kind: kindRef, Ref: pdfRef{Num: adeptNum}},
	}}

	return pf.rewriteAddingObjects(path, map[int]pdfValue{
		adeptNum:   adeptDict,
		encryptNum: encryptDict,
	}, encryptNum)
}

// rewriteAddingObjects copies every existing object unchanged, appends
// extraObjects, and sets the trailer's /Encrypt to a reference to
// encryptObjNum.
func (f *pdfFile) rewriteAddingObjects(dstPath string, extraObjects map[int]pdfValue, encryptObjNum int) error {
	nums := make([]int, 0, len(f.offsets))
	for n := range f.offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.6\n")

	newOffsets := map[int]int{}
	maxNum := 0
	writeObj := func(num int, v pdfValue) error {
		newOffsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		writePDFValue(&buf, v)
		buf.WriteString("\nendobj\n")
		if num > maxNum {
			maxNum = num
		}
		return nil
	}

	for _, num := range nums {
		obj, err := f.object(num)
		if err != nil {
			return err
		}
		if err := writeObj(num, obj); err != nil {
			return err
		}
	}

	extraNums := make([]int, 0, len(extraObjects))
	for n := range extraObjects {
		extraNums = append(extraNums, n)
	}
	sort.Ints(extraNums)
	for _, num := range extraNums {
		if err := writeObj(num, extraObjects[num]); err != nil {
			return err
		}
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		off, ok := newOffsets[num]
		if !ok {
			buf.WriteString("0000000000 00000 f \n")
			continue
		}
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	newTrailer := pdfValue{Kind: kindDict, Dict: map[string]pdfValue{}}
	for k, v := range f.trailer.Dict {
		newTrailer.Dict[k] = v
	}
	newTrailer.Dict["Size"] = pdfValue{Kind: kindNumber, Number: float64(maxNum + 1)}
	newTrailer.Dict["Encrypt"] = pdfValue{Kind: kindRef, Ref: pdfRef{Num: encryptObjNum}}

	buf.WriteString("trailer\n")
	writePDFValue(&buf, newTrailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefStart)

	if err := os.WriteFile(dstPath, buf.Bytes(), 0o644); err != nil {
		return bookerrors.NewDRMRemovalError(bookerrors.DRMMalformedContainer, "write pdf: %v", err)
	}
	return nil
}
