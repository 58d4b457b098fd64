package apdu

import (
	"bytes"

	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// GeneralGlobalCipher wraps an entire APDU in global (non-dedicated)
// ciphering. Wire carries the security.Cipher wire format
// (security-control-byte || invocation-counter(4BE) || ciphertext || tag);
// this type only handles the GeneralGlobalCipher envelope around it
// (system-title-length || system-title || content-length || Wire), leaving
// the AEAD operation itself to the security package so this package stays
// free of key material.
type GeneralGlobalCipher struct {
	SystemTitle []byte // always 8 bytes
	Wire        []byte // sc || ic(4BE) || ciphertext || tag
}

// Encode renders c including its leading GeneralGlobalCipher tag.
func (c GeneralGlobalCipher) Encode() []byte {
	out := []byte{byte(TagGeneralGloCiphering)}
	out = append(out, byte(len(c.SystemTitle)))
	out = append(out, c.SystemTitle...)
	out = axdr.EncodeLength(out, uint(len(c.Wire)))
	return append(out, c.Wire...)
}

// DecodeGeneralGlobalCipher parses src (the content following the
// GeneralGlobalCipher tag byte).
func DecodeGeneralGlobalCipher(src []byte) (GeneralGlobalCipher, error) {
	if len(src) < 1 {
		return GeneralGlobalCipher{}, dlmserr.New(dlmserr.Malformed, "truncated general-glo-ciphering system-title length")
	}
	titleLen := int(src[0])
	if len(src) < 1+titleLen {
		return GeneralGlobalCipher{}, dlmserr.New(dlmserr.Malformed, "truncated general-glo-ciphering system-title")
	}
	title := append([]byte(nil), src[1:1+titleLen]...)
	rest := src[1+titleLen:]
	n, consumed, err := axdr.DecodeLength(bytes.NewReader(rest))
	if err != nil {
		return GeneralGlobalCipher{}, err
	}
	rest = rest[consumed:]
	if len(rest) < int(n) {
		return GeneralGlobalCipher{}, dlmserr.New(dlmserr.Malformed, "truncated general-glo-ciphering content")
	}
	return GeneralGlobalCipher{SystemTitle: title, Wire: append([]byte(nil), rest[:n]...)}, nil
}
