package protect

import (
	"bytes"
	"encoding/xml"
	"regexp"
)

// DataMiningProhibited is the PLUS vocabulary value opting out of AI/ML training.
const DataMiningProhibited = "http://ns.useplus.org/ldf/vocab/DMI-PROHIBITED-AIMLTRAINING"

const (
	xmpJPEGHeader = "http://ns.adobe.com/xap/1.0/\x00"
	xmpPNGKeyword = "XML:com.adobe.xmp"
)

// Properties owned by the embedder. They are stripped from an existing
// packet before the attribution description is added.
var (
	xmpManagedElements = regexp.MustCompile(`(?s)\s*<(dc:creator|dc:rights|plus:DataMining|xmpRights:Marked)\b[^>]*?(/>|>.*?</(dc:creator|dc:rights|plus:DataMining|xmpRights:Marked)>)`)
	xmpManagedAttrs    = regexp.MustCompile(`\s+(plus:DataMining|xmpRights:Marked)\s*=\s*("[^"]*"|'[^']*')`)
	xmpRDFClose        = []byte("</rdf:RDF>")
)

func buildXMP(attr Attribution) []byte {
	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	b.WriteString(` <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	b.Write(attributionDescription(attr))
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	b.WriteString(`<?xpacket end="w"?>`)
	return b.Bytes()
}

// mergeXMP adds the attribution to an existing packet. Properties the
// embedder owns are replaced; everything else in the packet is kept. A
// packet without an RDF body is replaced outright.
func mergeXMP(existing []byte, attr Attribution) []byte {
	i := bytes.LastIndex(existing, xmpRDFClose)
	if i < 0 {
		return buildXMP(attr)
	}
	head := xmpManagedElements.ReplaceAll(existing[:i], nil)
	head = xmpManagedAttrs.ReplaceAll(head, nil)

	var b bytes.Buffer
	b.Write(bytes.TrimRight(head, " \t\r\n"))
	b.WriteByte('\n')
	b.Write(attributionDescription(attr))
	b.WriteByte(' ')
	b.Write(existing[i:])
	return b.Bytes()
}

func attributionDescription(attr Attribution) []byte {
	var b bytes.Buffer
	b.WriteString(`  <rdf:Description rdf:about=""` + "\n")
	b.WriteString(`    xmlns:dc="http://purl.org/dc/elements/1.1/"` + "\n")
	b.WriteString(`    xmlns:xmpRights="http://ns.adobe.com/xap/1.0/rights/"` + "\n")
	b.WriteString(`    xmlns:plus="http://ns.useplus.org/ldf/xmp/1.0/"` + "\n")
	b.WriteString(`    xmpRights:Marked="True"` + "\n")
	b.WriteString(`    plus:DataMining="` + DataMiningProhibited + `">` + "\n")
	b.WriteString("   <dc:creator><rdf:Seq><rdf:li>")
	_ = xml.EscapeText(&b, []byte(attr.Creator))
	b.WriteString("</rdf:li></rdf:Seq></dc:creator>\n")
	b.WriteString(`   <dc:rights><rdf:Alt><rdf:li xml:lang="x-default">`)
	_ = xml.EscapeText(&b, []byte(attr.Rights))
	b.WriteString("</rdf:li></rdf:Alt></dc:rights>\n")
	b.WriteString("  </rdf:Description>\n")
	return b.Bytes()
}
