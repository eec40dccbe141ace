package protect

import (
	"bytes"
	"fmt"
)

const (
	markerSOI  = 0xD8
	markerSOS  = 0xDA
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
)

type jpegSegment struct {
	marker byte
	raw    []byte // full segment including 0xFF marker and length
}

// embedJPEG sets the attribution in the first EXIF and XMP APP1 segments,
// merging into them when present and inserting new segments after any APP0
// otherwise. Every other segment, and everything from the start of scan
// onwards, is copied verbatim.
func embedJPEG(data []byte, attr Attribution) ([]byte, error) {
	segments, rest, err := splitJPEG(data)
	if err != nil {
		return nil, err
	}

	var doneEXIF, doneXMP bool
	out := make([]byte, 0, len(data)+2048)
	out = append(out, 0xFF, markerSOI)
	var body [][]byte
	for _, seg := range segments {
		raw := seg.raw
		if seg.marker == markerAPP1 {
			payload := seg.raw[4:]
			switch {
			case !doneEXIF && bytes.HasPrefix(payload, []byte(exifJPEGHeader)):
				tiff, err := mergeEXIF(payload[len(exifJPEGHeader):], attr)
				if err != nil {
					return nil, err
				}
				if raw, err = buildAPP1Segment(append([]byte(exifJPEGHeader), tiff...)); err != nil {
					return nil, err
				}
				doneEXIF = true
			case !doneXMP && bytes.HasPrefix(payload, []byte(xmpJPEGHeader)):
				packet := mergeXMP(payload[len(xmpJPEGHeader):], attr)
				if raw, err = buildAPP1Segment(append([]byte(xmpJPEGHeader), packet...)); err != nil {
					return nil, err
				}
				doneXMP = true
			}
		}
		body = append(body, raw)
	}

	var inserts [][]byte
	if !doneEXIF {
		seg, err := buildAPP1Segment(append([]byte(exifJPEGHeader), buildEXIF(attr)...))
		if err != nil {
			return nil, err
		}
		inserts = append(inserts, seg)
	}
	if !doneXMP {
		seg, err := buildAPP1Segment(append([]byte(xmpJPEGHeader), buildXMP(attr)...))
		if err != nil {
			return nil, err
		}
		inserts = append(inserts, seg)
	}

	i := 0
	for ; i < len(segments) && segments[i].marker == markerAPP0; i++ {
		out = append(out, body[i]...)
	}
	for _, s := range inserts {
		out = append(out, s...)
	}
	for ; i < len(body); i++ {
		out = append(out, body[i]...)
	}
	return append(out, rest...), nil
}

// splitJPEG returns the marker segments before the first SOS and the
// remaining bytes starting at SOS.
func splitJPEG(data []byte) ([]jpegSegment, []byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, nil, fmt.Errorf("%w: missing JPEG SOI", ErrUnreadableImage)
	}
	var segments []jpegSegment
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xFF {
			return nil, nil, fmt.Errorf("%w: expected marker at offset %d", ErrUnreadableImage, pos)
		}
		// Skip fill bytes.
		for pos+1 < len(data) && data[pos+1] == 0xFF {
			pos++
		}
		if pos+1 >= len(data) {
			break
		}
		marker := data[pos+1]
		if marker == markerSOS {
			return segments, data[pos:], nil
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			segments = append(segments, jpegSegment{marker: marker, raw: data[pos : pos+2]})
			pos += 2
			continue
		}
		if pos+4 > len(data) {
			break
		}
		length := int(data[pos+2])<<8 | int(data[pos+3])
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, nil, fmt.Errorf("%w: truncated segment 0x%X", ErrUnreadableImage, marker)
		}
		segments = append(segments, jpegSegment{marker: marker, raw: data[pos:end]})
		pos = end
	}
	return nil, nil, fmt.Errorf("%w: no start of scan", ErrUnreadableImage)
}

// buildAPP1Segment constructs an APP1 segment. The length field includes its
// own two bytes.
func buildAPP1Segment(content []byte) ([]byte, error) {
	segLen := len(content) + 2
	if segLen > 0xFFFF {
		return nil, fmt.Errorf("APP1 payload of %d bytes exceeds segment capacity", len(content))
	}
	seg := []byte{0xFF, markerAPP1, byte(segLen >> 8), byte(segLen & 0xFF)}
	return append(seg, content...), nil
}
