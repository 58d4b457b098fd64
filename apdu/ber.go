package apdu

import (
	"bytes"

	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// BER tag-class bits reused from base, kept local since they only matter to
// the ACSE (AARQ/AARE) field grammar inside this package.
const (
	berContext     = 0x80
	berConstructed = 0x20
)

// encodeBERTag appends tag, the DLMS length of data, then data itself.
func encodeBERTag(dst *bytes.Buffer, tag byte, data []byte) {
	dst.WriteByte(tag)
	var lb []byte
	lb = axdr.EncodeLength(lb, uint(len(data)))
	dst.Write(lb)
	dst.Write(data)
}

// encodeBERNested appends an outer tag wrapping a single inner
// tag-length-data triple, as ACSE fields like ApplicationContextName and
// CallingAPTitle do (outer length covers the inner TLV as a whole).
func encodeBERNested(dst *bytes.Buffer, outerTag byte, innerTag byte, data []byte) {
	dst.WriteByte(outerTag)
	innerLen := axdr.EncodedLengthSize(uint(len(data)))
	var lb []byte
	lb = axdr.EncodeLength(lb, uint(len(data)+1+innerLen))
	dst.Write(lb)
	dst.WriteByte(innerTag)
	var ilb []byte
	ilb = axdr.EncodeLength(ilb, uint(len(data)))
	dst.Write(ilb)
	dst.Write(data)
}

// berField is one decoded context-tagged field of an AARQ/AARE BER-TLV tree.
type berField struct {
	Tag  byte
	Data []byte
}

// decodeBERFields splits a BER-TLV content buffer into its top-level
// context-tagged fields. Each field's length-prefixed content is returned
// verbatim (nested tags inside it, if any, are decoded by the caller).
func decodeBERFields(src []byte) ([]berField, error) {
	out := make([]berField, 0, 8)
	for len(src) > 0 {
		if len(src) < 2 {
			return nil, dlmserr.New(dlmserr.Malformed, "truncated acse field")
		}
		tag := src[0]
		n, consumed, err := axdr.DecodeLength(bytes.NewReader(src[1:]))
		if err != nil {
			return nil, err
		}
		start := 1 + consumed
		end := start + int(n)
		if end > len(src) {
			return nil, dlmserr.New(dlmserr.Malformed, "acse field length exceeds buffer")
		}
		out = append(out, berField{Tag: tag, Data: src[start:end]})
		src = src[end:]
	}
	return out, nil
}

// decodeBERTag reads a single tag-length-data triple from src and returns
// the tag, its content, and the number of bytes consumed.
func decodeBERTag(src []byte) (tag byte, data []byte, consumed int, err error) {
	if len(src) < 2 {
		return 0, nil, 0, dlmserr.New(dlmserr.Malformed, "truncated ber tag")
	}
	tag = src[0]
	n, lc, err := axdr.DecodeLength(bytes.NewReader(src[1:]))
	if err != nil {
		return 0, nil, 0, err
	}
	start := 1 + lc
	end := start + int(n)
	if end > len(src) {
		return 0, nil, 0, dlmserr.New(dlmserr.Malformed, "ber tag length exceeds buffer")
	}
	return tag, src[start:end], end, nil
}
