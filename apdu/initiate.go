package apdu

import (
	"encoding/binary"

	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// InitiateRequest is the xDLMS user-information payload carried inside an
// AARQ, proposing conformance and PDU size. It is encoded
// separately from AARQ.Encode so the caller (connfsm) can cipher it first
// when the authentication profile requires a ciphered initiate exchange.
type InitiateRequest struct {
	DedicatedKey            []byte // optional: present only for key-set=dedicated
	ProposedConformance     uint32
	ClientMaxReceivePduSize uint16
}

// Encode renders r including its leading InitiateRequest tag.
func (r InitiateRequest) Encode() []byte {
	out := make([]byte, 0, 16+len(r.DedicatedKey))
	out = append(out, byte(base.TagInitiateRequest))
	if len(r.DedicatedKey) > 0 {
		out = append(out, 0x01, byte(len(r.DedicatedKey)))
		out = append(out, r.DedicatedKey...)
	} else {
		out = append(out, 0x00)
	}
	out = append(out, 0x00, 0x00, base.DlmsVersion, 0x5f, 0x1f, 0x04)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], r.ProposedConformance)
	out = append(out, cb[:]...)
	out = append(out, byte(r.ClientMaxReceivePduSize>>8), byte(r.ClientMaxReceivePduSize))
	return out
}

// InitiateResponse is the server's xDLMS reply to InitiateRequest, carried
// inside an AARE's user-information field.
type InitiateResponse struct {
	NegotiatedQualityOfService *byte
	ReturnedConformance        uint32
	ServerMaxReceivePduSize    uint16
	VAAddress                  int16
}

// DecodeInitiateResponse parses src (the content following the
// InitiateResponse tag byte).
func DecodeInitiateResponse(src []byte) (InitiateResponse, error) {
	var out InitiateResponse
	if len(src) < 12 {
		return out, dlmserr.New(dlmserr.Malformed, "truncated initiate-response")
	}
	if src[0] == 0x01 {
		if len(src) < 13 {
			return out, dlmserr.New(dlmserr.Malformed, "truncated initiate-response quality-of-service")
		}
		q := src[1]
		out.NegotiatedQualityOfService = &q
		src = src[2:]
	} else {
		src = src[1:]
	}
	if src[0] != base.DlmsVersion {
		return out, dlmserr.New(dlmserr.Malformed, "unexpected dlms version %d in initiate-response", src[0])
	}
	if src[1] != 0x5f || src[2] != 0x1f || src[3] != 0x04 {
		return out, dlmserr.New(dlmserr.Malformed, "invalid initiate-response conformance tag")
	}
	out.ReturnedConformance = binary.BigEndian.Uint32(src[4:8])
	out.ServerMaxReceivePduSize = binary.BigEndian.Uint16(src[8:10])
	out.VAAddress = int16(binary.BigEndian.Uint16(src[10:12]))
	return out, nil
}

// ConfirmedServiceErrorTag is the outer discriminator of a
// ConfirmedServiceError (initiate-error, read, or write).
type ConfirmedServiceErrorTag byte

const (
	ConfirmedServiceErrorInitiate ConfirmedServiceErrorTag = 1
	ConfirmedServiceErrorRead     ConfirmedServiceErrorTag = 5
	ConfirmedServiceErrorWrite    ConfirmedServiceErrorTag = 6
)

// ServiceErrorTag is the inner cause of a ConfirmedServiceError.
type ServiceErrorTag byte

const (
	ServiceErrorApplicationReference ServiceErrorTag = 0
	ServiceErrorHardwareResource     ServiceErrorTag = 1
	ServiceErrorVdeStateError        ServiceErrorTag = 2
	ServiceErrorService              ServiceErrorTag = 3
	ServiceErrorDefinition           ServiceErrorTag = 4
	ServiceErrorAccess               ServiceErrorTag = 5
	ServiceErrorInitiate             ServiceErrorTag = 6
	ServiceErrorLoadDataSet          ServiceErrorTag = 7
	ServiceErrorTask                 ServiceErrorTag = 9
	ServiceErrorOther                ServiceErrorTag = 10
)

// ConfirmedServiceError reports an association- or initiate-level failure
// surfaced inside an AARE's user-information field, or as a standalone
// APDU; a cause of ASSOCIATION_REFUSED.
type ConfirmedServiceError struct {
	Service      ConfirmedServiceErrorTag
	ServiceError ServiceErrorTag
	Value        byte
}

// DecodeConfirmedServiceError parses src (the content following the
// ConfirmedServiceError tag byte).
func DecodeConfirmedServiceError(src []byte) (ConfirmedServiceError, error) {
	if len(src) < 3 {
		return ConfirmedServiceError{}, dlmserr.New(dlmserr.Malformed, "truncated confirmed-service-error")
	}
	return ConfirmedServiceError{
		Service:      ConfirmedServiceErrorTag(src[0]),
		ServiceError: ServiceErrorTag(src[1]),
		Value:        src[2],
	}, nil
}
