// Package axdr implements the A-XDR / DLMS-data codec: the DLMS length
// encoding and the recursive tagged data tree.
package axdr

import (
	"io"

	"github.com/u9n/dlms-cosem/dlmserr"
)

// EncodeLength appends the DLMS length encoding of n to dst: a single byte
// for n < 128, else a leading 0x80|count byte followed by count big-endian
// bytes holding n, using the minimum count that fits (always minimal on
// write).
func EncodeLength(dst []byte, n uint) []byte {
	switch {
	case n < 128:
		return append(dst, byte(n))
	case n < 256:
		return append(dst, 0x81, byte(n))
	case n < 65536:
		return append(dst, 0x82, byte(n>>8), byte(n))
	case n < 16777216:
		return append(dst, 0x83, byte(n>>16), byte(n>>8), byte(n))
	default:
		return append(dst, 0x84, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

// EncodedLengthSize returns how many bytes EncodeLength would emit for n,
// without writing anything (used to size nested length-prefixed buffers).
func EncodedLengthSize(n uint) int {
	switch {
	case n < 128:
		return 1
	case n < 256:
		return 2
	case n < 65536:
		return 3
	case n < 16777216:
		return 4
	default:
		return 5
	}
}

// DecodeLength reads a DLMS length from r. Non-minimal long forms are
// accepted (permissive on read); indefinite length (0x80)
// and forms needing more than 4 length bytes are rejected as MALFORMED.
func DecodeLength(r io.Reader) (n uint, consumed int, err error) {
	var b [4]byte
	if _, err = io.ReadFull(r, b[:1]); err != nil {
		return 0, 0, dlmserr.Wrap(dlmserr.Malformed, err, "truncated length")
	}
	lead := b[0]
	if lead < 128 {
		return uint(lead), 1, nil
	}
	if lead == 128 {
		return 0, 0, dlmserr.New(dlmserr.Malformed, "indefinite length not supported")
	}
	count := int(lead & 0x7f)
	if count > 4 {
		return 0, 0, dlmserr.New(dlmserr.Malformed, "length field too wide: %d bytes", count)
	}
	if _, err = io.ReadFull(r, b[:count]); err != nil {
		return 0, 0, dlmserr.Wrap(dlmserr.Malformed, err, "truncated long-form length")
	}
	for i := 0; i < count; i++ {
		n = (n << 8) | uint(b[i])
	}
	return n, count + 1, nil
}
