package protect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	exifJPEGHeader = "Exif\x00\x00"

	tagArtist    = 0x013B
	tagCopyright = 0x8298
	typeASCII    = 2

	tiffHeaderLen = 8
	ifdEntryLen   = 12
)

// ifdEntry is one IFD record. Entries read from an existing structure keep
// their raw value field, which is either the inline value or an offset into
// the original bytes.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   [4]byte
	data  []byte // set for entries written by us
}

// buildEXIF returns a big-endian TIFF structure holding a single IFD0 with
// Artist and Copyright tags.
func buildEXIF(attr Attribution) []byte {
	header := []byte{'M', 'M', 0, 42, 0, 0, 0, tiffHeaderLen}
	ifd := writeIFD(binary.BigEndian, tiffHeaderLen, attributionEntries(attr), 0)
	return append(header, ifd...)
}

// mergeEXIF sets Artist and Copyright in an existing TIFF structure. The
// source bytes stay where they are and a rewritten IFD0 is appended after
// them, so every offset they contain remains valid. Other IFD0 tags, the
// EXIF and GPS sub-IFDs and the thumbnail IFD are carried over.
func mergeEXIF(tiff []byte, attr Attribution) ([]byte, error) {
	order, ifdOff, err := tiffHeader(tiff)
	if err != nil {
		return nil, err
	}
	entries, next, err := readIFD(tiff, order, ifdOff)
	if err != nil {
		return nil, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.tag != tagArtist && e.tag != tagCopyright {
			kept = append(kept, e)
		}
	}
	kept = append(kept, attributionEntries(attr)...)

	out := append([]byte(nil), tiff...)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	base := uint32(len(out))
	out = append(out, writeIFD(order, base, kept, next)...)
	order.PutUint32(out[4:8], base)
	return out, nil
}

// exifAttribution reads Artist and Copyright from IFD0.
func exifAttribution(tiff []byte) (artist, copyright string) {
	order, ifdOff, err := tiffHeader(tiff)
	if err != nil {
		return "", ""
	}
	entries, _, err := readIFD(tiff, order, ifdOff)
	if err != nil {
		return "", ""
	}
	for _, e := range entries {
		if e.typ != typeASCII {
			continue
		}
		var v []byte
		if e.count <= 4 {
			v = e.raw[:e.count]
		} else {
			off := order.Uint32(e.raw[:])
			if uint64(off)+uint64(e.count) > uint64(len(tiff)) {
				continue
			}
			v = tiff[off : off+e.count]
		}
		s := string(bytes.TrimRight(v, "\x00"))
		switch e.tag {
		case tagArtist:
			artist = s
		case tagCopyright:
			copyright = s
		}
	}
	return artist, copyright
}

func attributionEntries(attr Attribution) []ifdEntry {
	return []ifdEntry{
		asciiEntry(tagArtist, attr.Creator),
		asciiEntry(tagCopyright, attr.Rights),
	}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	v := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(v)), data: v}
}

func tiffHeader(tiff []byte) (binary.ByteOrder, uint32, error) {
	if len(tiff) < tiffHeaderLen {
		return nil, 0, fmt.Errorf("%w: short TIFF header", ErrUnreadableImage)
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%w: bad TIFF byte order", ErrUnreadableImage)
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return nil, 0, fmt.Errorf("%w: bad TIFF magic", ErrUnreadableImage)
	}
	return order, order.Uint32(tiff[4:8]), nil
}

func readIFD(tiff []byte, order binary.ByteOrder, off uint32) ([]ifdEntry, uint32, error) {
	if uint64(off)+2 > uint64(len(tiff)) {
		return nil, 0, fmt.Errorf("%w: IFD0 outside EXIF data", ErrUnreadableImage)
	}
	n := int(order.Uint16(tiff[off:]))
	start := int(off) + 2
	end := start + n*ifdEntryLen
	if end+4 > len(tiff) {
		return nil, 0, fmt.Errorf("%w: truncated IFD0", ErrUnreadableImage)
	}
	entries := make([]ifdEntry, 0, n+2)
	for p := start; p < end; p += ifdEntryLen {
		e := ifdEntry{
			tag:   order.Uint16(tiff[p:]),
			typ:   order.Uint16(tiff[p+2:]),
			count: order.Uint32(tiff[p+4:]),
		}
		copy(e.raw[:], tiff[p+8:p+12])
		entries = append(entries, e)
	}
	return entries, order.Uint32(tiff[end:]), nil
}

// writeIFD serializes entries as an IFD located at base, followed by the
// out-of-line values of entries that carry data.
func writeIFD(order binary.ByteOrder, base uint32, entries []ifdEntry, next uint32) []byte {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdLen := 2 + len(entries)*ifdEntryLen + 4
	dataOffset := base + uint32(ifdLen)

	ifd := make([]byte, ifdLen)
	var extra []byte
	order.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		p := 2 + i*ifdEntryLen
		order.PutUint16(ifd[p:], e.tag)
		order.PutUint16(ifd[p+2:], e.typ)
		order.PutUint32(ifd[p+4:], e.count)
		switch {
		case e.data == nil:
			copy(ifd[p+8:p+12], e.raw[:])
		case len(e.data) <= 4:
			copy(ifd[p+8:p+12], e.data)
		default:
			order.PutUint32(ifd[p+8:], dataOffset+uint32(len(extra)))
			extra = append(extra, e.data...)
			if len(extra)%2 == 1 {
				extra = append(extra, 0)
			}
		}
	}
	order.PutUint32(ifd[ifdLen-4:], next)
	return append(ifd, extra...)
}
