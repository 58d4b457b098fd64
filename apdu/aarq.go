package apdu

import (
	"bytes"

	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// applicationContextOID and mechanismOID are the fixed DLMS object
// identifier prefixes carried in the AARQ/AARE context-name and
// mechanism-name fields. Only the final arc varies.
var (
	applicationContextOID = [8]byte{0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01}
	mechanismOID          = [6]byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x02}
)

// AARQ is the association-request APDU. UserInformation
// carries the already-encoded (and, for HLS mechanisms, already ciphered by
// the caller) InitiateRequest bytes, keeping this package agnostic of
// ciphering policy.
type AARQ struct {
	ApplicationContext         ApplicationContext
	AuthenticationMechanism    Authentication
	ClientSystemTitle          []byte // present only for HLS mechanisms
	CallingAuthenticationValue []byte // password / HLS challenge (ClientToServer)
	UserID                     *byte
	UserInformation            []byte // encoded InitiateRequest (possibly GlobalCiphered)
}

// Encode renders req including its leading AARQ tag.
func (req AARQ) Encode() []byte {
	var content bytes.Buffer

	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName)
	content.Write([]byte{0x09, 0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01})
	content.WriteByte(byte(req.ApplicationContext))

	if req.AuthenticationMechanism != base.AuthenticationNone && len(req.ClientSystemTitle) > 0 {
		encodeBERNested(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAPTitle, 0x04, req.ClientSystemTitle)
	}
	if req.UserID != nil {
		content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEInvocationID)
		content.Write([]byte{3, 2, 1, *req.UserID})
	}
	if req.AuthenticationMechanism != base.AuthenticationNone {
		encodeBERTag(&content, base.BERTypeContext|base.PduTypeSenderAcseRequirements, []byte{0x07, 0x80})
		content.WriteByte(base.BERTypeContext | base.PduTypeMechanismName)
		content.Write([]byte{0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x02})
		content.WriteByte(byte(req.AuthenticationMechanism))
	}
	if req.AuthenticationMechanism != base.AuthenticationNone {
		encodeBERNested(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAuthenticationValue, 0x80, req.CallingAuthenticationValue)
	}
	encodeBERNested(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeUserInformation, 0x04, req.UserInformation)

	var out bytes.Buffer
	encodeBERTag(&out, byte(base.TagAARQ), content.Bytes())
	return out.Bytes()
}

// AARE is the association-response APDU. UserInformation
// carries the raw content following the InitiateResponse/ConfirmedServiceError
// discriminator byte, still possibly ciphered; connfsm deciphers it.
type AARE struct {
	ApplicationContext      ApplicationContext
	Result                  AssociationResult
	SourceDiagnostic        SourceDiagnostic
	ServerSystemTitle       []byte // responding AP title, present for HLS mechanisms
	ServerChallenge         []byte // responding authentication value, carries StoC
	AuthenticationMechanism Authentication
	UserInformationTag      CosemTag // InitiateResponse, ConfirmedServiceError, GlobalCiphering, ...
	UserInformation         []byte
}

// DecodeAARE parses src (the content following the AARE tag byte: an
// outer BER length, then the context-tagged fields).
func DecodeAARE(src []byte) (AARE, error) {
	var out AARE
	n, consumed, err := axdr.DecodeLength(bytes.NewReader(src))
	if err != nil {
		return out, err
	}
	if int(n) > len(src)-consumed {
		return out, dlmserr.New(dlmserr.Malformed, "aare: length exceeds buffer")
	}
	fields, err := decodeBERFields(src[consumed : consumed+int(n)])
	if err != nil {
		return out, err
	}
	for _, f := range fields {
		// AARE reuses the AARQ tag numbering shifted by one role: 0xA2 is
		// the association result, 0xA3 the diagnostic, 0xA4 the responding
		// AP title, 0xAA the responding authentication value (StoC).
		switch f.Tag {
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName: // 0xa1
			if len(f.Data) != 9 || !bytes.Equal(f.Data[:8], applicationContextOID[:]) {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid application-context-name field")
			}
			out.ApplicationContext = ApplicationContext(f.Data[8])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle: // 0xa2, association result
			if len(f.Data) != 3 || f.Data[0] != 0x02 || f.Data[1] != 0x01 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid association-result field")
			}
			out.Result = AssociationResult(f.Data[2])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier: // 0xa3, source diagnostic
			if len(f.Data) != 5 || f.Data[1] != 0x03 || f.Data[2] != 0x02 || f.Data[3] != 0x01 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid source-diagnostic field")
			}
			out.SourceDiagnostic = SourceDiagnostic(f.Data[4])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID: // 0xa4, server system title
			tag, data, _, err := decodeBERTag(f.Data)
			if err != nil || tag != 0x04 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid responding-ap-title field")
			}
			out.ServerSystemTitle = append([]byte(nil), data...)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeSenderAcseRequirements: // 0xaa, StoC challenge
			tag, data, _, err := decodeBERTag(f.Data)
			if err != nil || tag != 0x80 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid responding-authentication-value field")
			}
			out.ServerChallenge = append([]byte(nil), data...)
		case base.BERTypeContext | base.PduTypeCallingAPInvocationID: // 0x88, acse requirements echo
			if len(f.Data) != 2 || f.Data[0] != 0x07 || f.Data[1] != 0x80 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid responder-acse-requirements field")
			}
		case base.BERTypeContext | base.PduTypeCallingAEInvocationID: // 0x89, mechanism name echo
			if len(f.Data) != 7 || !bytes.Equal(f.Data[:6], mechanismOID[:]) {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid mechanism-name field")
			}
			out.AuthenticationMechanism = Authentication(f.Data[6])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation:
			tag, data, _, err := decodeBERTag(f.Data)
			if err != nil || tag != 0x04 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: invalid user-information field")
			}
			if len(data) < 1 {
				return out, dlmserr.New(dlmserr.Malformed, "aare: empty user-information content")
			}
			out.UserInformationTag = CosemTag(data[0])
			out.UserInformation = append([]byte(nil), data[1:]...)
		}
	}
	return out, nil
}
