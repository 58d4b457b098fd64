package axdr

import (
	"bytes"
	"testing"
)

func TestLengthRoundTrip(t *testing.T) {
	for _, n := range []uint{0, 1, 127, 128, 255, 256, 65535, 65536, 16777215, 16777216, 4294967295} {
		enc := EncodeLength(nil, n)
		if len(enc) != EncodedLengthSize(n) {
			t.Errorf("n=%d: EncodeLength produced %d bytes, EncodedLengthSize said %d", n, len(enc), EncodedLengthSize(n))
		}
		got, consumed, err := DecodeLength(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("n=%d: decode: %v", n, err)
		}
		if got != n {
			t.Errorf("n=%d: decoded %d", n, got)
		}
		if consumed != len(enc) {
			t.Errorf("n=%d: consumed %d, want %d", n, consumed, len(enc))
		}
	}
}

func TestLengthMinimalOnWrite(t *testing.T) {
	cases := []struct {
		n    uint
		want []byte
	}{
		{0, []byte{0}},
		{127, []byte{127}},
		{128, []byte{0x81, 128}},
		{65535, []byte{0x82, 0xff, 0xff}},
	}
	for _, c := range cases {
		got := EncodeLength(nil, c.n)
		if !bytes.Equal(got, c.want) {
			t.Errorf("n=%d: got % x, want % x", c.n, got, c.want)
		}
	}
}

func TestLengthPermissiveNonMinimalOnRead(t *testing.T) {
	// 0x82 0x00 0x05 is a non-minimal long-form encoding of 5 (minimal
	// form is a single byte);  permits accepting it on read.
	got, consumed, err := DecodeLength(bytes.NewReader([]byte{0x82, 0x00, 0x05}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 5 || consumed != 3 {
		t.Fatalf("got %d (consumed %d), want 5 (consumed 3)", got, consumed)
	}
}

func TestLengthIndefiniteRejected(t *testing.T) {
	_, _, err := DecodeLength(bytes.NewReader([]byte{0x80}))
	if err == nil {
		t.Fatal("expected error for indefinite length")
	}
}

func TestLengthTooWideRejected(t *testing.T) {
	_, _, err := DecodeLength(bytes.NewReader([]byte{0x85, 1, 2, 3, 4, 5}))
	if err == nil {
		t.Fatal("expected error for 5-byte length field")
	}
}
