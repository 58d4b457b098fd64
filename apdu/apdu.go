// Package apdu implements the closed DLMS/COSEM APDU registry: one Go type per APDU variant, each with a constant leading tag
// byte, an Encode method producing the tag-led wire bytes, and a package
// Decode function that classifies a tag-led buffer into its typed variant
// plus residual bytes.
package apdu

import (
	"encoding/binary"

	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
	"github.com/u9n/dlms-cosem/obis"
)

// CosemAttribute is the `(interface_class, instance, attribute)` triple
// used as a GET/SET/ACTION target and as a capture-object key.
type CosemAttribute struct {
	ClassID   uint16
	Instance  obis.Obis
	Attribute int8
}

func (a CosemAttribute) encode(dst []byte) []byte {
	dst = append(dst, byte(a.ClassID>>8), byte(a.ClassID))
	dst = append(dst, a.Instance.Bytes()...)
	return append(dst, byte(a.Attribute))
}

func decodeCosemAttribute(src []byte) (CosemAttribute, int, error) {
	if len(src) < 9 {
		return CosemAttribute{}, 0, dlmserr.New(dlmserr.Malformed, "truncated cosem attribute reference")
	}
	o, err := obis.FromBytes(src[2:8])
	if err != nil {
		return CosemAttribute{}, 0, dlmserr.Wrap(dlmserr.Malformed, err, "invalid obis in cosem attribute reference")
	}
	return CosemAttribute{
		ClassID:   binary.BigEndian.Uint16(src[0:2]),
		Instance:  o,
		Attribute: int8(src[8]),
	}, 9, nil
}

// AccessSelector is the optional selective-access descriptor attached to a
// GET or SET request item.
type AccessSelector struct {
	Descriptor byte
	Data       axdr.Data
}

func encodeAccess(dst []byte, a *AccessSelector) ([]byte, error) {
	if a == nil {
		return append(dst, 0), nil
	}
	dst = append(dst, 1, a.Descriptor)
	enc, err := axdr.Encode(a.Data)
	if err != nil {
		return nil, err
	}
	return append(dst, enc...), nil
}

func decodeAccess(src []byte) (*AccessSelector, int, error) {
	if len(src) < 1 {
		return nil, 0, dlmserr.New(dlmserr.Malformed, "truncated access-selector flag")
	}
	if src[0] == 0 {
		return nil, 1, nil
	}
	if len(src) < 2 {
		return nil, 0, dlmserr.New(dlmserr.Malformed, "truncated access-selector")
	}
	descriptor := src[1]
	d, n, err := axdr.Decode(src[2:])
	if err != nil {
		return nil, 0, err
	}
	return &AccessSelector{Descriptor: descriptor, Data: d}, 2 + n, nil
}

// RequestItem is one target of a GET or SET request: an attribute
// reference plus an optional access selector.
type RequestItem struct {
	Attribute CosemAttribute
	Access    *AccessSelector
}

func encodeRequestItem(dst []byte, item RequestItem) ([]byte, error) {
	dst = item.Attribute.encode(dst)
	return encodeAccess(dst, item.Access)
}

func decodeRequestItem(src []byte) (RequestItem, int, error) {
	attr, n, err := decodeCosemAttribute(src)
	if err != nil {
		return RequestItem{}, 0, err
	}
	access, an, err := decodeAccess(src[n:])
	if err != nil {
		return RequestItem{}, 0, err
	}
	return RequestItem{Attribute: attr, Access: access}, n + an, nil
}

// ActionItem is an ACTION target: a method reference (the attribute slot
// reused as a method id, per the COSEM wire convention) with no access
// selector, since selective access is meaningless for a method
// invocation.
type ActionItem struct {
	Method CosemAttribute
}

func encodeActionItem(dst []byte, item ActionItem) []byte {
	return item.Method.encode(dst)
}

func decodeActionItem(src []byte) (ActionItem, int, error) {
	m, n, err := decodeCosemAttribute(src)
	if err != nil {
		return ActionItem{}, 0, err
	}
	return ActionItem{Method: m}, n, nil
}

// CaptureObject identifies one column of a ProfileGeneric capture
// buffer: a versioned COSEM attribute reference.
type CaptureObject struct {
	ClassID   uint16
	Instance  obis.Obis
	Attribute int8
	Version   uint16
}

// Encode renders o as the 4-field structure the GET selective-access and
// capture-object grammars embed.
func (o CaptureObject) Encode() axdr.Data {
	return axdr.Structure([]axdr.Data{
		axdr.Uint16(o.ClassID),
		axdr.OctetString(o.Instance.Bytes()),
		axdr.Int8(o.Attribute),
		axdr.Uint16(o.Version),
	})
}

// DecodeCaptureObject reverses Encode.
func DecodeCaptureObject(d axdr.Data) (CaptureObject, error) {
	fields, ok := d.Value.([]axdr.Data)
	if d.Tag != axdr.TagStructure || !ok || len(fields) != 4 {
		return CaptureObject{}, dlmserr.New(dlmserr.Malformed, "capture_object: expected a 4-field structure")
	}
	classID, ok := fields[0].Value.(uint16)
	if !ok {
		return CaptureObject{}, dlmserr.New(dlmserr.Malformed, "capture_object: field 0 is not uint16")
	}
	raw, ok := fields[1].Value.([]byte)
	if !ok {
		return CaptureObject{}, dlmserr.New(dlmserr.Malformed, "capture_object: field 1 is not octet_string")
	}
	o, err := obis.FromBytes(raw)
	if err != nil {
		return CaptureObject{}, dlmserr.Wrap(dlmserr.Malformed, err, "capture_object: invalid obis")
	}
	attr, ok := fields[2].Value.(int8)
	if !ok {
		return CaptureObject{}, dlmserr.New(dlmserr.Malformed, "capture_object: field 2 is not int8")
	}
	version, ok := fields[3].Value.(uint16)
	if !ok {
		return CaptureObject{}, dlmserr.New(dlmserr.Malformed, "capture_object: field 3 is not uint16")
	}
	return CaptureObject{ClassID: classID, Instance: o, Attribute: attr, Version: version}, nil
}

// RangeDescriptor selects a sub-range of a ProfileGeneric buffer by capture
// time (or any monotonic capture column) for a GET's access selector.
type RangeDescriptor struct {
	Restricting    CaptureObject
	From, To       axdr.Data
	SelectedValues []CaptureObject
}

// clockCaptureObject is the class-8 (Clock) attribute-2 (time) capture
// object NewRangeDescriptor restricts by, the usual choice for
// ProfileGeneric buffers captured on a schedule.
var clockCaptureObject = CaptureObject{ClassID: 8, Instance: obis.New(0, 0, 1, 0, 0, 255), Attribute: 2, Version: 0}

// NewRangeDescriptor builds a RangeDescriptor restricted by the clock
// object, selecting the given columns (empty selectedValues means "all
// columns").
func NewRangeDescriptor(from, to axdr.Data, selectedValues []CaptureObject) RangeDescriptor {
	return RangeDescriptor{Restricting: clockCaptureObject, From: from, To: to, SelectedValues: selectedValues}
}

// Encode renders r as the structure expected in a GET's AccessSelector.Data
// (selector descriptor 1, "range descriptor").
func (r RangeDescriptor) Encode() axdr.Data {
	selected := make([]axdr.Data, len(r.SelectedValues))
	for i, co := range r.SelectedValues {
		selected[i] = co.Encode()
	}
	return axdr.Structure([]axdr.Data{
		r.Restricting.Encode(),
		r.From,
		r.To,
		axdr.Array(selected),
	})
}

// decodeAxdrPeek decodes a single axdr.Data from the front of src purely to
// learn its encoded length, returning the raw encoded bytes unmodified
// (callers that need the typed value decode it themselves; this package
// mostly just carries opaque payload bytes between transport and caller).
func decodeAxdrPeek(src []byte) ([]byte, int, error) {
	_, n, err := axdr.Decode(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

// base re-exported so callers of this package rarely need to import it too.
type (
	CosemTag           = base.CosemTag
	AccessResultTag    = base.AccessResultTag
	AssociationResult  = base.AssociationResult
	SourceDiagnostic   = base.SourceDiagnostic
	ApplicationContext = base.ApplicationContext
	Authentication     = base.Authentication
)

const (
	TagAARE                  = base.TagAARE
	TagAARQ                  = base.TagAARQ
	TagRLRQ                  = base.TagRLRQ
	TagRLRE                  = base.TagRLRE
	TagInitiateResponse      = base.TagInitiateResponse
	TagConfirmedServiceError = base.TagConfirmedServiceError
	TagDataNotification      = base.TagDataNotification
	TagExceptionResponse     = base.TagExceptionResponse
	TagGeneralGloCiphering   = base.TagGeneralGloCiphering
	TagGeneralDedCiphering   = base.TagGeneralDedCiphering
	TagGetRequest            = base.TagGetRequest
	TagGetResponse           = base.TagGetResponse
	TagSetRequest            = base.TagSetRequest
	TagSetResponse           = base.TagSetResponse
	TagActionRequest         = base.TagActionRequest
	TagActionResponse        = base.TagActionResponse

	ResultSuccess           = base.ResultSuccess
	ResultObjectUndefined   = base.ResultObjectUndefined
	ResultObjectUnavailable = base.ResultObjectUnavailable
	ResultReadWriteDenied   = base.ResultReadWriteDenied
)
