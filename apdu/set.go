package apdu

import (
	"encoding/binary"

	"github.com/u9n/dlms-cosem/dlmserr"
)

// setRequestSubtag / setResponseSubtag distinguish the SetRequest and
// SetResponse variants sharing their outer tag.
const (
	setRequestNormal         = 1
	setRequestWithFirstBlock = 2
	setRequestWithBlock      = 3
	setRequestWithList       = 4

	setResponseNormal    = 1
	setResponseDataBlock = 2
	setResponseLastBlock = 3
	setResponseWithList  = 4
)

// SetRequestNormal writes a single unsegmented value.
type SetRequestNormal struct {
	InvokeID InvokeIdAndPriority
	Item     RequestItem
	Value    []byte // encoded axdr.Data
}

func (r SetRequestNormal) Encode() []byte {
	out := []byte{byte(TagSetRequest), setRequestNormal, byte(r.InvokeID)}
	var err error
	out, err = encodeRequestItem(out, r.Item)
	if err != nil {
		panic(err)
	}
	return append(out, r.Value...)
}

func decodeSetRequestNormal(src []byte) (SetRequestNormal, error) {
	if len(src) < 1 {
		return SetRequestNormal{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-normal")
	}
	item, n, err := decodeRequestItem(src[1:])
	if err != nil {
		return SetRequestNormal{}, err
	}
	return SetRequestNormal{InvokeID: InvokeIdAndPriority(src[0]), Item: item, Value: src[1+n:]}, nil
}

// SetRequestWithFirstBlock begins a segmented SET: the item reference plus the first
// chunk of the value, tagged with LastBlock in case the whole value fits in
// one block.
type SetRequestWithFirstBlock struct {
	InvokeID    InvokeIdAndPriority
	Item        RequestItem
	LastBlock   bool
	BlockNumber uint32
	Raw         []byte
}

func (r SetRequestWithFirstBlock) Encode() []byte {
	out := []byte{byte(TagSetRequest), setRequestWithFirstBlock, byte(r.InvokeID)}
	var err error
	out, err = encodeRequestItem(out, r.Item)
	if err != nil {
		panic(err)
	}
	if r.LastBlock {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	out = append(out, bn[:]...)
	out = append(out, byte(len(r.Raw)>>8), byte(len(r.Raw)))
	return append(out, r.Raw...)
}

func decodeSetRequestWithFirstBlock(src []byte) (SetRequestWithFirstBlock, error) {
	if len(src) < 1 {
		return SetRequestWithFirstBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-first-block")
	}
	item, n, err := decodeRequestItem(src[1:])
	if err != nil {
		return SetRequestWithFirstBlock{}, err
	}
	rest := src[1+n:]
	if len(rest) < 7 {
		return SetRequestWithFirstBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-first-block tail")
	}
	rawLen := int(binary.BigEndian.Uint16(rest[5:7]))
	if len(rest) < 7+rawLen {
		return SetRequestWithFirstBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-first-block payload")
	}
	return SetRequestWithFirstBlock{
		InvokeID:    InvokeIdAndPriority(src[0]),
		Item:        item,
		LastBlock:   rest[0] != 0,
		BlockNumber: binary.BigEndian.Uint32(rest[1:5]),
		Raw:         rest[7 : 7+rawLen],
	}, nil
}

// SetRequestWithBlock carries a subsequent chunk of a segmented SET.
type SetRequestWithBlock struct {
	InvokeID    InvokeIdAndPriority
	LastBlock   bool
	BlockNumber uint32
	Raw         []byte
}

func (r SetRequestWithBlock) Encode() []byte {
	out := []byte{byte(TagSetRequest), setRequestWithBlock, byte(r.InvokeID)}
	if r.LastBlock {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	out = append(out, bn[:]...)
	out = append(out, byte(len(r.Raw)>>8), byte(len(r.Raw)))
	return append(out, r.Raw...)
}

func decodeSetRequestWithBlock(src []byte) (SetRequestWithBlock, error) {
	if len(src) < 8 {
		return SetRequestWithBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-block")
	}
	rawLen := int(binary.BigEndian.Uint16(src[6:8]))
	if len(src) < 8+rawLen {
		return SetRequestWithBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-block payload")
	}
	return SetRequestWithBlock{
		InvokeID:    InvokeIdAndPriority(src[0]),
		LastBlock:   src[1] != 0,
		BlockNumber: binary.BigEndian.Uint32(src[2:6]),
		Raw:         src[8 : 8+rawLen],
	}, nil
}

// SetRequestWithList writes several attributes in one PDU.
type SetRequestWithList struct {
	InvokeID InvokeIdAndPriority
	Items    []RequestItem
	Values   [][]byte
}

func (r SetRequestWithList) Encode() []byte {
	out := []byte{byte(TagSetRequest), setRequestWithList, byte(r.InvokeID), byte(len(r.Items))}
	for _, item := range r.Items {
		var err error
		out, err = encodeRequestItem(out, item)
		if err != nil {
			panic(err)
		}
	}
	out = append(out, byte(len(r.Values)))
	for _, v := range r.Values {
		out = append(out, v...)
	}
	return out
}

func decodeSetRequestWithList(src []byte) (SetRequestWithList, error) {
	if len(src) < 2 {
		return SetRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-list")
	}
	count := int(src[1])
	rest := src[2:]
	items := make([]RequestItem, 0, count)
	for i := 0; i < count; i++ {
		item, n, err := decodeRequestItem(rest)
		if err != nil {
			return SetRequestWithList{}, err
		}
		items = append(items, item)
		rest = rest[n:]
	}
	if len(rest) < 1 {
		return SetRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated set-request-with-list value count")
	}
	valueCount := int(rest[0])
	rest = rest[1:]
	values := make([][]byte, 0, valueCount)
	for i := 0; i < valueCount; i++ {
		raw, n, err := decodeAxdrPeek(rest)
		if err != nil {
			return SetRequestWithList{}, err
		}
		values = append(values, raw)
		rest = rest[n:]
	}
	return SetRequestWithList{InvokeID: InvokeIdAndPriority(src[0]), Items: items, Values: values}, nil
}

// SetResponseNormal confirms an unsegmented SET.
type SetResponseNormal struct {
	InvokeID InvokeIdAndPriority
	Result   AccessResultTag
}

func (r SetResponseNormal) Encode() []byte {
	return []byte{byte(TagSetResponse), setResponseNormal, byte(r.InvokeID), byte(r.Result)}
}

func decodeSetResponseNormal(src []byte) (SetResponseNormal, error) {
	if len(src) < 2 {
		return SetResponseNormal{}, dlmserr.New(dlmserr.Malformed, "truncated set-response-normal")
	}
	return SetResponseNormal{InvokeID: InvokeIdAndPriority(src[0]), Result: AccessResultTag(src[1])}, nil
}

// SetResponseDataBlock acknowledges receipt of one SET block, requesting
// the next.
type SetResponseDataBlock struct {
	InvokeID    InvokeIdAndPriority
	BlockNumber uint32
}

func (r SetResponseDataBlock) Encode() []byte {
	out := []byte{byte(TagSetResponse), setResponseDataBlock, byte(r.InvokeID)}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	return append(out, bn[:]...)
}

func decodeSetResponseDataBlock(src []byte) (SetResponseDataBlock, error) {
	if len(src) < 5 {
		return SetResponseDataBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-response-data-block")
	}
	return SetResponseDataBlock{InvokeID: InvokeIdAndPriority(src[0]), BlockNumber: binary.BigEndian.Uint32(src[1:5])}, nil
}

// SetResponseLastBlock confirms the final block of a segmented SET.
type SetResponseLastBlock struct {
	InvokeID    InvokeIdAndPriority
	Result      AccessResultTag
	BlockNumber uint32
}

func (r SetResponseLastBlock) Encode() []byte {
	out := []byte{byte(TagSetResponse), setResponseLastBlock, byte(r.InvokeID), byte(r.Result)}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	return append(out, bn[:]...)
}

func decodeSetResponseLastBlock(src []byte) (SetResponseLastBlock, error) {
	if len(src) < 6 {
		return SetResponseLastBlock{}, dlmserr.New(dlmserr.Malformed, "truncated set-response-last-block")
	}
	return SetResponseLastBlock{
		InvokeID:    InvokeIdAndPriority(src[0]),
		Result:      AccessResultTag(src[1]),
		BlockNumber: binary.BigEndian.Uint32(src[2:6]),
	}, nil
}

// SetResponseWithList answers a SetRequestWithList, one result per item.
type SetResponseWithList struct {
	InvokeID InvokeIdAndPriority
	Results  []AccessResultTag
}

func (r SetResponseWithList) Encode() []byte {
	out := []byte{byte(TagSetResponse), setResponseWithList, byte(r.InvokeID), byte(len(r.Results))}
	for _, res := range r.Results {
		out = append(out, byte(res))
	}
	return out
}

func decodeSetResponseWithList(src []byte) (SetResponseWithList, error) {
	if len(src) < 2 {
		return SetResponseWithList{}, dlmserr.New(dlmserr.Malformed, "truncated set-response-with-list")
	}
	count := int(src[1])
	if len(src) < 2+count {
		return SetResponseWithList{}, dlmserr.New(dlmserr.Malformed, "truncated set-response-with-list results")
	}
	results := make([]AccessResultTag, count)
	for i := 0; i < count; i++ {
		results[i] = AccessResultTag(src[2+i])
	}
	return SetResponseWithList{InvokeID: InvokeIdAndPriority(src[0]), Results: results}, nil
}
