package dlmserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := New(ProtocolError, "wrong block number: got %d", 3)
	if !errors.Is(err, ErrProtocolError) {
		t.Fatal("expected kind match against the sentinel")
	}
	if errors.Is(err, ErrMalformed) {
		t.Fatal("kinds must not cross-match")
	}
}

func TestWrappedCauseIsReachable(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(Timeout, cause, "read deadline passed")
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected TIMEOUT kind")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to unwrap")
	}
}

func TestMatchThroughFurtherWrapping(t *testing.T) {
	inner := New(DecryptionError, "gcm tag mismatch")
	outer := fmt.Errorf("get failed: %w", inner)
	if !errors.Is(outer, ErrDecryptionError) {
		t.Fatal("expected kind match through fmt.Errorf wrapping")
	}
}

func TestServiceErrorCarriesCode(t *testing.T) {
	err := ServiceErrorFor(11, "object-unavailable")
	var de *Error
	if !errors.As(err, &de) {
		t.Fatal("expected *Error")
	}
	if de.Code != 11 || de.Kind != ServiceError {
		t.Fatalf("got %+v", de)
	}
}

func TestKindStrings(t *testing.T) {
	for kind, want := range map[Kind]string{
		Malformed:            "MALFORMED",
		UnknownAPDU:          "UNKNOWN_APDU",
		UnknownTag:           "UNKNOWN_TAG",
		DecryptionError:      "DECRYPTION_ERROR",
		AuthenticationFailed: "AUTHENTICATION_FAILED",
		AssociationRefused:   "ASSOCIATION_REFUSED",
		ProtocolError:        "PROTOCOL_ERROR",
		PreconditionFailed:   "PRECONDITION_FAILED",
		ServiceError:         "SERVICE_ERROR",
		Timeout:              "TIMEOUT",
	} {
		if kind.String() != want {
			t.Errorf("%d.String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
