package apdu

import "github.com/u9n/dlms-cosem/dlmserr"

// Decode classifies a tag-led buffer into its typed APDU variant. The
// returned value is one of this package's APDU structs; callers type-switch
// on it. AARQ is never decoded here since this module only plays the
// client role and never receives one.
func Decode(src []byte) (interface{}, error) {
	if len(src) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty apdu")
	}
	tag := CosemTag(src[0])
	body := src[1:]
	switch tag {
	case TagAARE:
		return DecodeAARE(body)
	case TagRLRE:
		return DecodeRLRE(body)
	case TagInitiateResponse:
		return DecodeInitiateResponse(body)
	case TagConfirmedServiceError:
		return DecodeConfirmedServiceError(body)
	case TagDataNotification:
		return DecodeDataNotification(body)
	case TagExceptionResponse:
		return DecodeExceptionResponse(body)
	case TagGeneralGloCiphering, TagGeneralDedCiphering:
		return DecodeGeneralGlobalCipher(body)
	case TagGetRequest:
		return decodeGetRequest(body)
	case TagGetResponse:
		return decodeGetResponse(body)
	case TagSetRequest:
		return decodeSetRequest(body)
	case TagSetResponse:
		return decodeSetResponse(body)
	case TagActionRequest:
		return decodeActionRequest(body)
	case TagActionResponse:
		return decodeActionResponse(body)
	default:
		return nil, dlmserr.New(dlmserr.UnknownAPDU, "unknown apdu tag %d", tag)
	}
}

func decodeGetRequest(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty get-request")
	}
	switch body[0] {
	case getRequestNormal:
		return decodeGetRequestNormal(body[1:])
	case getRequestNext:
		return decodeGetRequestNext(body[1:])
	case getRequestWithList:
		return decodeGetRequestWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown get-request subtag %d", body[0])
	}
}

func decodeGetResponse(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty get-response")
	}
	switch body[0] {
	case getResponseNormal:
		return decodeGetResponseNormal(body[1:])
	case getResponseWithBlock:
		return decodeGetResponseWithBlock(body[1:])
	case getResponseWithList:
		return decodeGetResponseWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown get-response subtag %d", body[0])
	}
}

func decodeSetRequest(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty set-request")
	}
	switch body[0] {
	case setRequestNormal:
		return decodeSetRequestNormal(body[1:])
	case setRequestWithFirstBlock:
		return decodeSetRequestWithFirstBlock(body[1:])
	case setRequestWithBlock:
		return decodeSetRequestWithBlock(body[1:])
	case setRequestWithList:
		return decodeSetRequestWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown set-request subtag %d", body[0])
	}
}

func decodeSetResponse(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty set-response")
	}
	switch body[0] {
	case setResponseNormal:
		return decodeSetResponseNormal(body[1:])
	case setResponseDataBlock:
		return decodeSetResponseDataBlock(body[1:])
	case setResponseLastBlock:
		return decodeSetResponseLastBlock(body[1:])
	case setResponseWithList:
		return decodeSetResponseWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown set-response subtag %d", body[0])
	}
}

func decodeActionRequest(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty action-request")
	}
	switch body[0] {
	case actionRequestNormal:
		return decodeActionRequestNormal(body[1:])
	case actionRequestNextPBlock:
		return decodeActionRequestNextPBlock(body[1:])
	case actionRequestWithList:
		return decodeActionRequestWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown action-request subtag %d", body[0])
	}
}

func decodeActionResponse(body []byte) (interface{}, error) {
	if len(body) < 1 {
		return nil, dlmserr.New(dlmserr.Malformed, "empty action-response")
	}
	switch body[0] {
	case actionResponseNormal:
		return decodeActionResponseNormal(body[1:])
	case actionResponseWithPBlock:
		return decodeActionResponseWithPBlock(body[1:])
	case actionResponseWithList:
		return decodeActionResponseWithList(body[1:])
	default:
		return nil, dlmserr.New(dlmserr.UnknownTag, "unknown action-response subtag %d", body[0])
	}
}
