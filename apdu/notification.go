package apdu

import (
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// DataNotification is the unsolicited push APDU: no invoke
// id, no response expected. LongInvokeID lets the server correlate pushed
// reports across TCP reconnects.
type DataNotification struct {
	LongInvokeID uint32
	DateTime     []byte // raw 12-byte date-time (axdr.EncodeDateTime form, no tag or length prefix); nil means "omitted"
	Body         axdr.Data
}

// Encode renders n including its leading DataNotification tag.
func (n DataNotification) Encode() ([]byte, error) {
	out := []byte{byte(TagDataNotification)}
	out = append(out, byte(n.LongInvokeID>>24), byte(n.LongInvokeID>>16), byte(n.LongInvokeID>>8), byte(n.LongInvokeID))
	if len(n.DateTime) == 0 {
		out = append(out, 0)
	} else {
		out = append(out, byte(len(n.DateTime)))
		out = append(out, n.DateTime...)
	}
	body, err := axdr.Encode(n.Body)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

// DecodeDataNotification parses src (the content following the
// DataNotification tag byte).
func DecodeDataNotification(src []byte) (DataNotification, error) {
	if len(src) < 5 {
		return DataNotification{}, dlmserr.New(dlmserr.Malformed, "truncated data-notification")
	}
	longInvoke := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
	rest := src[4:]
	dtLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < dtLen {
		return DataNotification{}, dlmserr.New(dlmserr.Malformed, "truncated data-notification date-time")
	}
	var dt []byte
	if dtLen > 0 {
		dt = append([]byte(nil), rest[:dtLen]...)
	}
	rest = rest[dtLen:]
	body, _, err := axdr.Decode(rest)
	if err != nil {
		return DataNotification{}, err
	}
	return DataNotification{LongInvokeID: longInvoke, DateTime: dt, Body: body}, nil
}
