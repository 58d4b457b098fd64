// Package dlmserr defines the closed error taxonomy surfaced by the codec,
// APDU registry, security, and connection layers. Every error a caller can
// usefully branch on is one of these kinds; everything else is wrapped
// context, not a new kind.
package dlmserr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories a caller can match against
// with errors.Is, distinct from ad-hoc string matching.
type Kind byte

const (
	Malformed Kind = iota
	UnknownAPDU
	UnknownTag
	DecryptionError
	AuthenticationFailed
	AssociationRefused
	ProtocolError
	PreconditionFailed
	ServiceError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "MALFORMED"
	case UnknownAPDU:
		return "UNKNOWN_APDU"
	case UnknownTag:
		return "UNKNOWN_TAG"
	case DecryptionError:
		return "DECRYPTION_ERROR"
	case AuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case AssociationRefused:
		return "ASSOCIATION_REFUSED"
	case ProtocolError:
		return "PROTOCOL_ERROR"
	case PreconditionFailed:
		return "PRECONDITION_FAILED"
	case ServiceError:
		return "SERVICE_ERROR"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Error carries a Kind plus context. Service errors additionally carry the
// server-returned AccessResult code via Code.
type Error struct {
	Kind    Kind
	Message string
	Code    int // meaningful only when Kind == ServiceError
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, dlmserr.ErrMalformed) etc. work by comparing Kind,
// not identity, since every call site builds its own *Error value.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// sentinels usable directly with errors.Is(err, dlmserr.ErrMalformed)
var (
	ErrMalformed            = &Error{Kind: Malformed}
	ErrUnknownAPDU          = &Error{Kind: UnknownAPDU}
	ErrUnknownTag           = &Error{Kind: UnknownTag}
	ErrDecryptionError      = &Error{Kind: DecryptionError}
	ErrAuthenticationFailed = &Error{Kind: AuthenticationFailed}
	ErrAssociationRefused   = &Error{Kind: AssociationRefused}
	ErrProtocolError        = &Error{Kind: ProtocolError}
	ErrPreconditionFailed   = &Error{Kind: PreconditionFailed}
	ErrServiceError         = &Error{Kind: ServiceError}
	ErrTimeout              = &Error{Kind: Timeout}
)

// ServiceErrorFor builds a SERVICE_ERROR carrying the server's
// DataAccessResult/Action-Result code.
func ServiceErrorFor(code int, name string) *Error {
	return &Error{Kind: ServiceError, Code: code, Message: name}
}
