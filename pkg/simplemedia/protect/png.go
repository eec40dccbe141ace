package protect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var pngManagedKeywords = map[string]bool{
	"Author":      true,
	"Copyright":   true,
	xmpPNGKeyword: true,
}

// embedPNG inserts iTXt chunks for Author, Copyright and the XMP packet before
// the first IDAT. Existing text chunks with those keywords are replaced; the
// attribution is merged into an existing uncompressed XMP packet.
func embedPNG(data []byte, attr Attribution) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%w: missing PNG signature", ErrUnreadableImage)
	}
	packet := buildXMP(attr)
	if existing, ok := pngXMP(data); ok {
		packet = mergeXMP(existing, attr)
	}

	out := bytes.NewBuffer(make([]byte, 0, len(data)+len(packet)+256))
	out.Write(pngSignature)

	inserted := false
	pos := len(pngSignature)
	for pos < len(data) {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrUnreadableImage)
		}
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 12 + length
		if length < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: truncated %s chunk", ErrUnreadableImage, typ)
		}
		body := data[pos+8 : pos+8+length]

		if typ == "IDAT" && !inserted {
			writeITXt(out, "Author", attr.Creator)
			writeITXt(out, "Copyright", attr.Rights)
			writeITXt(out, xmpPNGKeyword, string(packet))
			inserted = true
		}
		if isTextChunk(typ) && pngManagedKeywords[textKeyword(body)] {
			pos = end
			continue
		}
		out.Write(data[pos:end])
		pos = end
		if typ == "IEND" {
			break
		}
	}
	if !inserted {
		return nil, fmt.Errorf("%w: no IDAT chunk", ErrUnreadableImage)
	}
	return out.Bytes(), nil
}

// pngXMP returns the text of the first uncompressed XMP iTXt chunk.
func pngXMP(data []byte) ([]byte, bool) {
	for pos := len(pngSignature); pos+12 <= len(data); {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		if length < 0 || pos+12+length > len(data) {
			return nil, false
		}
		body := data[pos+8 : pos+8+length]
		if typ == "iTXt" && textKeyword(body) == xmpPNGKeyword {
			return itxtText(body)
		}
		if typ == "IDAT" {
			return nil, false
		}
		pos += 12 + length
	}
	return nil, false
}

// itxtText extracts the text of an iTXt body: keyword NUL, compression flag,
// method, language NUL, translated keyword NUL, text.
func itxtText(body []byte) ([]byte, bool) {
	i := bytes.IndexByte(body, 0)
	if i < 0 || i+3 > len(body) || body[i+1] != 0 {
		return nil, false
	}
	rest := body[i+3:]
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return nil, false
		}
		rest = rest[j+1:]
	}
	return rest, true
}

func isTextChunk(typ string) bool {
	return typ == "tEXt" || typ == "iTXt" || typ == "zTXt"
}

func textKeyword(body []byte) string {
	if i := bytes.IndexByte(body, 0); i >= 0 {
		return string(body[:i])
	}
	return ""
}

// writeITXt writes an uncompressed international text chunk.
func writeITXt(w *bytes.Buffer, keyword, text string) {
	var body bytes.Buffer
	body.WriteString(keyword)
	body.WriteByte(0) // keyword terminator
	body.WriteByte(0) // compression flag
	body.WriteByte(0) // compression method
	body.WriteByte(0) // empty language tag
	body.WriteByte(0) // empty translated keyword
	body.WriteString(text)
	writePNGChunk(w, "iTXt", body.Bytes())
}

func writePNGChunk(w *bytes.Buffer, typ string, body []byte) {
	_ = binary.Write(w, binary.BigEndian, uint32(len(body)))
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(body)
	w.WriteString(typ)
	w.Write(body)
	_ = binary.Write(w, binary.BigEndian, crc.Sum32())
}
