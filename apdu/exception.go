package apdu

import "github.com/u9n/dlms-cosem/dlmserr"

// ExceptionStateError / ExceptionServiceError are the two reason bytes of
// an ExceptionResponse.
type ExceptionStateError byte
type ExceptionServiceError byte

const (
	ExceptionStateErrorServiceNotAllowed ExceptionStateError = 1
	ExceptionStateErrorServiceUnknown    ExceptionStateError = 2

	ExceptionServiceErrorOperationNotPossible ExceptionServiceError = 1
	ExceptionServiceErrorServiceNotSupported  ExceptionServiceError = 2
	ExceptionServiceErrorOtherReason          ExceptionServiceError = 3
)

// ExceptionResponse is the server's reply when it cannot even form a
// GetResponse/SetResponse/ActionResponse.
type ExceptionResponse struct {
	StateError   ExceptionStateError
	ServiceError ExceptionServiceError
}

// Encode renders r including its leading ExceptionResponse tag.
func (r ExceptionResponse) Encode() []byte {
	return []byte{byte(TagExceptionResponse), byte(r.StateError), byte(r.ServiceError)}
}

// DecodeExceptionResponse parses src (the content following the
// ExceptionResponse tag byte).
func DecodeExceptionResponse(src []byte) (ExceptionResponse, error) {
	if len(src) < 2 {
		return ExceptionResponse{}, dlmserr.New(dlmserr.Malformed, "truncated exception-response")
	}
	return ExceptionResponse{StateError: ExceptionStateError(src[0]), ServiceError: ExceptionServiceError(src[1])}, nil
}
