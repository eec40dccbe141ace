package protect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"

	_ "golang.org/x/image/webp"
)

const (
	vp8xFlagEXIF = 0x08
	vp8xFlagXMP  = 0x04
)

type riffChunk struct {
	fourCC string
	data   []byte
}

// embedWebP converts simple-format files to the extended format and merges
// the attribution into the EXIF and XMP chunks, appending them when absent.
// The alpha flag is left untouched; lossless bitstreams carry their own
// alpha bit.
func embedWebP(data []byte, attr Attribution) ([]byte, error) {
	chunks, err := splitWebP(data)
	if err != nil {
		return nil, err
	}

	var vp8x *riffChunk
	var hasEXIF, hasXMP bool
	kept := make([]riffChunk, 0, len(chunks)+3)
	for _, c := range chunks {
		switch c.fourCC {
		case "VP8X":
			cp := c
			cp.data = append([]byte(nil), c.data...)
			vp8x = &cp
			continue
		case "EXIF":
			if hasEXIF {
				break
			}
			// Some writers keep the JPEG APP1 prefix inside the chunk.
			prefix := ""
			if bytes.HasPrefix(c.data, []byte(exifJPEGHeader)) {
				prefix = exifJPEGHeader
			}
			tiff, err := mergeEXIF(c.data[len(prefix):], attr)
			if err != nil {
				return nil, err
			}
			c.data = append([]byte(prefix), tiff...)
			hasEXIF = true
		case "XMP ":
			if hasXMP {
				break
			}
			c.data = mergeXMP(c.data, attr)
			hasXMP = true
		}
		kept = append(kept, c)
	}

	if vp8x == nil {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
		}
		vp8x = &riffChunk{fourCC: "VP8X", data: make([]byte, 10)}
		putUint24(vp8x.data[4:7], uint32(cfg.Width-1))
		putUint24(vp8x.data[7:10], uint32(cfg.Height-1))
	}
	if len(vp8x.data) < 10 {
		return nil, fmt.Errorf("%w: short VP8X chunk", ErrUnreadableImage)
	}
	vp8x.data[0] |= vp8xFlagEXIF | vp8xFlagXMP

	if !hasEXIF {
		kept = append(kept, riffChunk{fourCC: "EXIF", data: buildEXIF(attr)})
	}
	if !hasXMP {
		kept = append(kept, riffChunk{fourCC: "XMP ", data: buildXMP(attr)})
	}

	var body bytes.Buffer
	body.WriteString("WEBP")
	writeRIFFChunk(&body, *vp8x)
	for _, c := range kept {
		writeRIFFChunk(&body, c)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func splitWebP(data []byte) ([]riffChunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, fmt.Errorf("%w: missing RIFF/WEBP header", ErrUnreadableImage)
	}
	size := int(binary.LittleEndian.Uint32(data[4:8]))
	end := min(len(data), 8+size)

	var chunks []riffChunk
	pos := 12
	for pos+8 <= end {
		fourCC := string(data[pos : pos+4])
		n := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + 8
		if n < 0 || start+n > end {
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrUnreadableImage, fourCC)
		}
		chunks = append(chunks, riffChunk{fourCC: fourCC, data: data[start : start+n]})
		pos = start + n + n%2
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrUnreadableImage)
	}
	return chunks, nil
}

func writeRIFFChunk(w *bytes.Buffer, c riffChunk) {
	w.WriteString(c.fourCC)
	_ = binary.Write(w, binary.LittleEndian, uint32(len(c.data)))
	w.Write(c.data)
	if len(c.data)%2 == 1 {
		w.WriteByte(0)
	}
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
