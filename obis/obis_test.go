package obis

import "testing"

func TestFormatStandard(t *testing.T) {
	o := New(1, 0, 1, 8, 0, 255)
	if got := o.String(); got != "1-0:1.8.0.255" {
		t.Fatalf("String() = %q", got)
	}
	if got := o.Format(LayoutDots); got != "1.0.1.8.0.255" {
		t.Fatalf("Format(LayoutDots) = %q", got)
	}
	if got := o.Format(LayoutAsterisk); got != "1-0:1.8.0*255" {
		t.Fatalf("Format(LayoutAsterisk) = %q", got)
	}
}

func TestParseStandardForm(t *testing.T) {
	o, err := Parse("1-0:1.8.0.255")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := New(1, 0, 1, 8, 0, 255)
	if o != want {
		t.Fatalf("got %+v, want %+v", o, want)
	}
}

func TestParseDefaultsFWhenOmitted(t *testing.T) {
	o, components, err := ParseComponents("0-0:40.0.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.F != 255 {
		t.Fatalf("F = %d, want 255 (default)", o.F)
	}
	if components&HasF != 0 {
		t.Fatalf("components reports F as present, but input omitted it")
	}
}

func TestParseDottedForm(t *testing.T) {
	o, err := Parse("0.0.40.0.0.255")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o != New(0, 0, 40, 0, 0, 255) {
		t.Fatalf("got %+v", o)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	o := New(1, 0, 99, 1, 0, 101)
	for _, layout := range []Layout{LayoutStandard, LayoutAsterisk, LayoutDots} {
		back, err := Parse(o.Format(layout))
		if err != nil {
			t.Fatalf("layout %d: parse: %v", layout, err)
		}
		if back != o {
			t.Fatalf("layout %d: got %+v, want %+v", layout, back, o)
		}
	}
}

func TestParseRejectsOutOfRangeOctet(t *testing.T) {
	if _, err := Parse("1-0:300.8.0.255"); err == nil {
		t.Fatal("expected error for octet above 255")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-an-obis"); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	o := New(1, 0, 1, 8, 0, 255)
	back, err := FromBytes(o.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if back != o {
		t.Fatalf("got %+v, want %+v", back, o)
	}
}

func TestEqual(t *testing.T) {
	a := New(1, 0, 1, 8, 0, 255)
	b := New(1, 0, 1, 8, 0, 255)
	c := New(1, 0, 1, 8, 1, 255)
	if !a.Equal(b) {
		t.Fatal("expected equal obis values to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing obis values to compare unequal")
	}
}
