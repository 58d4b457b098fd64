package apdu

import (
	"encoding/binary"

	"github.com/u9n/dlms-cosem/dlmserr"
)

// InvokeIdAndPriority is the byte every Get/Set/Action request and response
// carries as its first content byte, identifying the invocation and whether
// it was sent with priority/confirmation/self-descriptive bits set. This module never reads the priority/confirmed bits; it only
// round-trips whatever the caller supplied.
type InvokeIdAndPriority byte

// getRequestSubtag / getResponseSubtag distinguish the GetRequest and
// GetResponse variants sharing the outer GetRequest/GetResponse tag.
const (
	getRequestNormal   = 1
	getRequestNext     = 2
	getRequestWithList = 3

	getResponseNormal    = 1
	getResponseWithBlock = 2
	getResponseWithList  = 3
)

// GetRequestNormal is a single-attribute GET.
type GetRequestNormal struct {
	InvokeID InvokeIdAndPriority
	Item     RequestItem
}

func (r GetRequestNormal) Encode() []byte {
	out := []byte{byte(TagGetRequest), getRequestNormal, byte(r.InvokeID)}
	var err error
	out, err = encodeRequestItem(out, r.Item)
	if err != nil {
		// encodeRequestItem only fails on unencodable axdr.Data content,
		// which a well-formed access selector never produces.
		panic(err)
	}
	return out
}

// decodeGetRequestNormal parses src (the content following the
// getRequestNormal subtag byte).
func decodeGetRequestNormal(src []byte) (GetRequestNormal, error) {
	if len(src) < 1 {
		return GetRequestNormal{}, dlmserr.New(dlmserr.Malformed, "truncated get-request-normal")
	}
	item, _, err := decodeRequestItem(src[1:])
	if err != nil {
		return GetRequestNormal{}, err
	}
	return GetRequestNormal{InvokeID: InvokeIdAndPriority(src[0]), Item: item}, nil
}

// GetRequestNext asks for the next block of an in-progress long GET.
type GetRequestNext struct {
	InvokeID    InvokeIdAndPriority
	BlockNumber uint32
}

func (r GetRequestNext) Encode() []byte {
	out := []byte{byte(TagGetRequest), getRequestNext, byte(r.InvokeID)}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	return append(out, bn[:]...)
}

func decodeGetRequestNext(src []byte) (GetRequestNext, error) {
	if len(src) < 5 {
		return GetRequestNext{}, dlmserr.New(dlmserr.Malformed, "truncated get-request-next")
	}
	return GetRequestNext{
		InvokeID:    InvokeIdAndPriority(src[0]),
		BlockNumber: binary.BigEndian.Uint32(src[1:5]),
	}, nil
}

// GetRequestWithList fetches several attributes in one PDU.
type GetRequestWithList struct {
	InvokeID InvokeIdAndPriority
	Items    []RequestItem
}

func (r GetRequestWithList) Encode() []byte {
	out := []byte{byte(TagGetRequest), getRequestWithList, byte(r.InvokeID), byte(len(r.Items))}
	for _, item := range r.Items {
		var err error
		out, err = encodeRequestItem(out, item)
		if err != nil {
			panic(err)
		}
	}
	return out
}

func decodeGetRequestWithList(src []byte) (GetRequestWithList, error) {
	if len(src) < 2 {
		return GetRequestWithList{}, dlmserr.New(dlmserr.Malformed, "truncated get-request-with-list")
	}
	count := int(src[1])
	rest := src[2:]
	items := make([]RequestItem, 0, count)
	for i := 0; i < count; i++ {
		item, n, err := decodeRequestItem(rest)
		if err != nil {
			return GetRequestWithList{}, err
		}
		items = append(items, item)
		rest = rest[n:]
	}
	return GetRequestWithList{InvokeID: InvokeIdAndPriority(src[0]), Items: items}, nil
}

// DataAccessResult reports per-item success/failure in GET/SET
// responses; SERVICE_ERROR carries the code verbatim to the caller.
type DataAccessResult struct {
	Success bool
	Result  AccessResultTag
}

func encodeDataResult(dst []byte, r DataAccessResult, data []byte) []byte {
	if r.Success {
		return append(append(dst, 0), data...)
	}
	return append(dst, 1, byte(r.Result))
}

func decodeDataResult(src []byte) (DataAccessResult, []byte, int, error) {
	if len(src) < 1 {
		return DataAccessResult{}, nil, 0, dlmserr.New(dlmserr.Malformed, "truncated data-access-result choice")
	}
	if src[0] == 0 {
		return DataAccessResult{Success: true}, src[1:], 1, nil
	}
	if len(src) < 2 {
		return DataAccessResult{}, nil, 0, dlmserr.New(dlmserr.Malformed, "truncated data-access-result code")
	}
	return DataAccessResult{Result: AccessResultTag(src[1])}, src[2:], 2, nil
}

// GetResponseNormal carries a complete, unsegmented result.
type GetResponseNormal struct {
	InvokeID InvokeIdAndPriority
	Result   DataAccessResult
	Value    []byte // encoded axdr.Data, present only when Result.Success
}

func (r GetResponseNormal) Encode() []byte {
	out := []byte{byte(TagGetResponse), getResponseNormal, byte(r.InvokeID)}
	return encodeDataResult(out, r.Result, r.Value)
}

func decodeGetResponseNormal(src []byte) (GetResponseNormal, error) {
	if len(src) < 1 {
		return GetResponseNormal{}, dlmserr.New(dlmserr.Malformed, "truncated get-response-normal")
	}
	result, rest, _, err := decodeDataResult(src[1:])
	if err != nil {
		return GetResponseNormal{}, err
	}
	return GetResponseNormal{InvokeID: InvokeIdAndPriority(src[0]), Result: result, Value: rest}, nil
}

// GetResponseWithBlock carries one block of a segmented GET. There is no
// separate last-block wire shape: both share this subtag and LastBlock is
// the only difference.
type GetResponseWithBlock struct {
	InvokeID    InvokeIdAndPriority
	LastBlock   bool
	BlockNumber uint32
	Result      DataAccessResult
	Raw         []byte // raw (possibly partial) axdr-encoded bytes for this block
}

func (r GetResponseWithBlock) Encode() []byte {
	out := []byte{byte(TagGetResponse), getResponseWithBlock, byte(r.InvokeID)}
	if r.LastBlock {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var bn [4]byte
	binary.BigEndian.PutUint32(bn[:], r.BlockNumber)
	out = append(out, bn[:]...)
	return encodeDataResult(out, r.Result, r.Raw)
}

func decodeGetResponseWithBlock(src []byte) (GetResponseWithBlock, error) {
	if len(src) < 6 {
		return GetResponseWithBlock{}, dlmserr.New(dlmserr.Malformed, "truncated get-response-with-block")
	}
	result, rest, _, err := decodeDataResult(src[6:])
	if err != nil {
		return GetResponseWithBlock{}, err
	}
	return GetResponseWithBlock{
		InvokeID:    InvokeIdAndPriority(src[0]),
		LastBlock:   src[1] != 0,
		BlockNumber: binary.BigEndian.Uint32(src[2:6]),
		Result:      result,
		Raw:         rest,
	}, nil
}

// GetResponseWithList answers a GetRequestWithList, one result per
// requested item, positionally matched.
type GetResponseWithList struct {
	InvokeID InvokeIdAndPriority
	Results  []DataAccessResult
	Values   [][]byte
}

func (r GetResponseWithList) Encode() []byte {
	out := []byte{byte(TagGetResponse), getResponseWithList, byte(r.InvokeID), byte(len(r.Results))}
	for i, result := range r.Results {
		out = encodeDataResult(out, result, r.Values[i])
	}
	return out
}

func decodeGetResponseWithList(src []byte) (GetResponseWithList, error) {
	if len(src) < 2 {
		return GetResponseWithList{}, dlmserr.New(dlmserr.Malformed, "truncated get-response-with-list")
	}
	count := int(src[1])
	rest := src[2:]
	results := make([]DataAccessResult, 0, count)
	values := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		var result DataAccessResult
		var value []byte
		var err error
		result, rest, _, err = decodeDataResult(rest)
		if err != nil {
			return GetResponseWithList{}, err
		}
		if result.Success {
			d, n, derr := decodeAxdrPeek(rest)
			if derr != nil {
				return GetResponseWithList{}, derr
			}
			value = d
			rest = rest[n:]
		}
		results = append(results, result)
		values = append(values, value)
	}
	return GetResponseWithList{InvokeID: InvokeIdAndPriority(src[0]), Results: results, Values: values}, nil
}
