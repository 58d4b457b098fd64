package apdu

import (
	"encoding/binary"

	"github.com/u9n/dlms-cosem/dlmserr"
)

const (
	actionRequestNormal     = 1
	actionRequestNextPBlock = 2
	actionRequestWithList   = 3

	actionResponseNormal     = 1
	actionResponseWithPBlock = 2
	actionResponseWithList   = 3
)

// ActionRequestNormal invokes a single COSEM method.
// Parameters is the encoded axdr.Data argument, nil when the method takes
// none.
type ActionRequestNormal struct {
	InvokeID   InvokeIdAndPriority
	Item       ActionItem
	Parameters []byte
}

func (r ActionRequestNormal) Encode() []byte {
	out := []byte{byte(TagActionRequest), actionRequestNormal, byte(r.InvokeID)}
	out = encodeActionItem(out, r.Item)
	if len(r.Parameters) == 0 {
		return append(out, 0)
	}
	out = append(out, 1)
	return append(out, r.Parameters...)
}

func decodeActionRequestNormal(src []byte) (ActionRequestNormal, error) {
	if len(src) < 1 {
		return ActionRequestNormal{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-normal")
	}
	item, n, err := decodeActionItem(src[1:])
	if err != nil {
		return ActionRequestNormal{}, err
	}
	rest := src[1+n:]
	if len(rest) < 1 {
		return ActionRequestNormal{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-normal parameters flag")
	}
	var params []byte
	if rest[0] != 0 {
		params = rest[1:]
	}
	return ActionRequestNormal{InvokeID: InvokeIdAndPriority(src[0]), Item: item, Parameters: params}, nil
}

// ActionRequestNextPBlock asks for the next block of a segmented method
// result.
type ActionRequestNextPBlock struct {
	InvokeID    InvokeIdAndPriority
	BlockNumber uint32
}

func (r ActionRequestNextPBlock) Encode() []byte {
	out := []byte{byte(TagActionRequest), actionRequestNextPBlock, byte(r.InvokeID)}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	return append(out, bn[:]...)
}

func decodeActionRequestNextPBlock(src []byte) (ActionRequestNextPBlock, error) {
	if len(src) < 5 {
		return ActionRequestNextPBlock{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-next-pblock")
	}
	return ActionRequestNextPBlock{InvokeID: InvokeIdAndPriority(src[0]), BlockNumber: binary.BigEndian.Uint32(src[1:5])}, nil
}

// ActionRequestWithList invokes several methods in one PDU.
type ActionRequestWithList struct {
	InvokeID   InvokeIdAndPriority
	Items      []ActionItem
	Parameters [][]byte
}

func (r ActionRequestWithList) Encode() []byte {
	out := []byte{byte(TagActionRequest), actionRequestWithList, byte(r.InvokeID), byte(len(r.Items))}
	for _, item := range r.Items {
		out = encodeActionItem(out, item)
	}
	out = append(out, byte(len(r.Parameters)))
	for _, p := range r.Parameters {
		if len(p) == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, 1)
		out = append(out, p...)
	}
	return out
}

func decodeActionRequestWithList(src []byte) (ActionRequestWithList, error) {
	if len(src) < 2 {
		return ActionRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-with-list")
	}
	count := int(src[1])
	rest := src[2:]
	items := make([]ActionItem, 0, count)
	for i := 0; i < count; i++ {
		item, n, err := decodeActionItem(rest)
		if err != nil {
			return ActionRequestWithList{}, err
		}
		items = append(items, item)
		rest = rest[n:]
	}
	if len(rest) < 1 {
		return ActionRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-with-list parameter count")
	}
	paramCount := int(rest[0])
	rest = rest[1:]
	params := make([][]byte, 0, paramCount)
	for i := 0; i < paramCount; i++ {
		if len(rest) < 1 {
			return ActionRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated action-request-with-list parameter flag")
		}
		if rest[0] == 0 {
			params = append(params, nil)
			rest = rest[1:]
			continue
		}
		raw, n, err := decodeAxdrPeek(rest[1:])
		if err != nil {
			return ActionRequestWithList{}, err
		}
		params = append(params, raw)
		rest = rest[1+n:]
	}
	return ActionRequestWithList{InvokeID: InvokeIdAndPriority(src[0]), Items: items, Parameters: params}, nil
}

// ActionResultTag is the status byte of an ActionResponse (a distinct, but
// same-valued, enumeration from AccessResultTag per the xDLMS grammar;
// kept as its own type so callers can't accidentally mix GET/SET and
// ACTION result codes).
type ActionResultTag byte

const (
	ActionResultSuccess ActionResultTag = 0
)

// ActionResponseNormal confirms an unsegmented ACTION. The optional return
// value is a choice between data and a data-access-result code: Return
// holds the encoded axdr.Data when the method produced one, ReturnError the
// access-result code when the server reported one instead; both nil when
// the method returns nothing.
type ActionResponseNormal struct {
	InvokeID    InvokeIdAndPriority
	Result      ActionResultTag
	Return      []byte
	ReturnError *AccessResultTag
}

func (r ActionResponseNormal) Encode() []byte {
	out := []byte{byte(TagActionResponse), actionResponseNormal, byte(r.InvokeID), byte(r.Result)}
	switch {
	case r.ReturnError != nil:
		return append(out, 1, 1, byte(*r.ReturnError))
	case len(r.Return) > 0:
		out = append(out, 1, 0)
		return append(out, r.Return...)
	default:
		return append(out, 0)
	}
}

func decodeActionResponseNormal(src []byte) (ActionResponseNormal, error) {
	if len(src) < 3 {
		return ActionResponseNormal{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-normal")
	}
	out := ActionResponseNormal{InvokeID: InvokeIdAndPriority(src[0]), Result: ActionResultTag(src[1])}
	if src[2] == 0 {
		return out, nil
	}
	rest := src[3:]
	if len(rest) < 1 {
		return ActionResponseNormal{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-normal return choice")
	}
	if rest[0] != 0 {
		if len(rest) < 2 {
			return ActionResponseNormal{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-normal return error")
		}
		code := AccessResultTag(rest[1])
		out.ReturnError = &code
		return out, nil
	}
	out.Return = rest[1:]
	return out, nil
}

// ActionResponseWithPBlock carries one block of a segmented ACTION result.
type ActionResponseWithPBlock struct {
	InvokeID    InvokeIdAndPriority
	LastBlock   bool
	BlockNumber uint32
	Raw         []byte
}

func (r ActionResponseWithPBlock) Encode() []byte {
	out := []byte{byte(TagActionResponse), actionResponseWithPBlock, byte(r.InvokeID)}
	if r.LastBlock {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	out = append(out, bn[:]...)
	return append(out, r.Raw...)
}

func decodeActionResponseWithPBlock(src []byte) (ActionResponseWithPBlock, error) {
	if len(src) < 6 {
		return ActionResponseWithPBlock{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-with-pblock")
	}
	return ActionResponseWithPBlock{
		InvokeID:    InvokeIdAndPriority(src[0]),
		LastBlock:   src[1] != 0,
		BlockNumber: binary.BigEndian.Uint32(src[2:6]),
		Raw:         src[6:],
	}, nil
}

// ActionResponseWithList answers an ActionRequestWithList, one result per
// method.
type ActionResponseWithList struct {
	InvokeID InvokeIdAndPriority
	Results  []ActionResultTag
}

func (r ActionResponseWithList) Encode() []byte {
	out := []byte{byte(TagActionResponse), actionResponseWithList, byte(r.InvokeID), byte(len(r.Results))}
	for _, res := range r.Results {
		out = append(out, byte(res))
	}
	return out
}

func decodeActionResponseWithList(src []byte) (ActionResponseWithList, error) {
	if len(src) < 2 {
		return ActionResponseWithList{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-with-list")
	}
	count := int(src[1])
	if len(src) < 2+count {
		return ActionResponseWithList{}, dlmserr.New(dlmserr.Malformed, "truncated action-response-with-list results")
	}
	results := make([]ActionResultTag, count)
	for i := 0; i < count; i++ {
		results[i] = ActionResultTag(src[2+i])
	}
	return ActionResponseWithList{InvokeID: InvokeIdAndPriority(src[0]), Results: results}, nil
}
