package apdu

import (
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// RLRQ is the release-request APDU. An empty RLRQ omits
// the reason field entirely, matching how most LN associations release.
type RLRQ struct {
	Empty  bool
	Reason base.ReleaseRequestReason
}

// Encode renders req including its leading RLRQ tag.
func (req RLRQ) Encode() []byte {
	if req.Empty {
		return []byte{byte(base.TagRLRQ), 0}
	}
	return []byte{byte(base.TagRLRQ), 3, base.BERTypeContext, 1, byte(req.Reason)}
}

// RLRE is the release-response APDU.
type RLRE struct {
	Empty  bool
	Reason base.ReleaseRequestReason
}

// DecodeRLRE parses src (the content following the RLRE tag byte).
func DecodeRLRE(src []byte) (RLRE, error) {
	if len(src) == 0 {
		return RLRE{}, dlmserr.New(dlmserr.Malformed, "truncated rlre length")
	}
	if src[0] == 0 {
		return RLRE{Empty: true}, nil
	}
	if len(src) < 4 {
		return RLRE{}, dlmserr.New(dlmserr.Malformed, "truncated rlre content")
	}
	return RLRE{Reason: base.ReleaseRequestReason(src[3])}, nil
}
