package protect

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Report describes the protection metadata found in an image.
type Report struct {
	HasEXIF              bool
	Artist               string
	Copyright            string
	XMP                  string
	Creator              string
	DataMiningProhibited bool
}

// Inspect reads back the metadata written by Embed.
func Inspect(data []byte) (*Report, error) {
	r := &Report{}
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("image/jpeg"):
		segments, _, err := splitJPEG(data)
		if err != nil {
			return nil, err
		}
		for _, seg := range segments {
			if seg.marker != markerAPP1 {
				continue
			}
			payload := seg.raw[4:]
			switch {
			case bytes.HasPrefix(payload, []byte(exifJPEGHeader)):
				if !r.HasEXIF {
					r.Artist, r.Copyright = exifAttribution(payload[len(exifJPEGHeader):])
				}
				r.HasEXIF = true
			case bytes.HasPrefix(payload, []byte(xmpJPEGHeader)):
				r.XMP = string(payload[len(xmpJPEGHeader):])
			}
		}
	case mtype.Is("image/png"):
		if !bytes.HasPrefix(data, pngSignature) {
			return nil, fmt.Errorf("%w: missing PNG signature", ErrUnreadableImage)
		}
		for pos := len(pngSignature); pos+12 <= len(data); {
			length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
			typ := string(data[pos+4 : pos+8])
			if pos+12+length > len(data) {
				return nil, fmt.Errorf("%w: truncated %s chunk", ErrUnreadableImage, typ)
			}
			body := data[pos+8 : pos+8+length]
			if typ == "eXIf" {
				r.HasEXIF = true
			}
			if typ == "iTXt" && textKeyword(body) == xmpPNGKeyword {
				if text, ok := itxtText(body); ok {
					r.XMP = string(text)
				}
			}
			pos += 12 + length
		}
	case mtype.Is("image/webp"):
		chunks, err := splitWebP(data)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			switch c.fourCC {
			case "EXIF":
				if !r.HasEXIF {
					r.Artist, r.Copyright = exifAttribution(bytes.TrimPrefix(c.data, []byte(exifJPEGHeader)))
				}
				r.HasEXIF = true
			case "XMP ":
				r.XMP = string(c.data)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
	}

	r.DataMiningProhibited = strings.Contains(r.XMP, DataMiningProhibited)
	r.Creator = xmpCreator(r.XMP)
	return r, nil
}

func xmpCreator(packet string) string {
	const open = "<dc:creator><rdf:Seq><rdf:li>"
	i := strings.Index(packet, open)
	if i < 0 {
		return ""
	}
	rest := packet[i+len(open):]
	j := strings.Index(rest, "</rdf:li>")
	if j < 0 {
		return ""
	}
	var v struct {
		Text string `xml:",chardata"`
	}
	if err := xml.Unmarshal([]byte("<v>"+rest[:j]+"</v>"), &v); err != nil {
		return ""
	}
	return v.Text
}
