// Package obis implements the OBIS (Object Identification System)
// identifier: the six-octet naming scheme for COSEM objects.
package obis

import (
	"fmt"
	"regexp"
	"strconv"
)

// Obis is an immutable six-octet object identifier A-B:C.D.E.F.
type Obis struct {
	A, B, C, D, E, F byte
}

// Layout selects the separator style used by String/Format.
type Layout byte

const (
	LayoutStandard Layout = iota // A-B:C.D.E.F
	LayoutAsterisk               // A-B:C.D.E*F
	LayoutDots                   // A.B.C.D.E.F
)

// New builds an Obis from six octets.
func New(a, b, c, d, e, f byte) Obis {
	return Obis{A: a, B: b, C: c, D: d, E: e, F: f}
}

func (o Obis) String() string { return o.Format(LayoutStandard) }

func (o Obis) Format(layout Layout) string {
	switch layout {
	case LayoutAsterisk:
		return fmt.Sprintf("%d-%d:%d.%d.%d*%d", o.A, o.B, o.C, o.D, o.E, o.F)
	case LayoutDots:
		return fmt.Sprintf("%d.%d.%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
	default:
		return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
	}
}

// Bytes returns the six octets in A..F order.
func (o Obis) Bytes() []byte { return []byte{o.A, o.B, o.C, o.D, o.E, o.F} }

// FromBytes builds an Obis from a 6-byte slice.
func FromBytes(src []byte) (Obis, error) {
	if len(src) != 6 {
		return Obis{}, fmt.Errorf("obis: expected 6 bytes, got %d", len(src))
	}
	return Obis{A: src[0], B: src[1], C: src[2], D: src[3], E: src[4], F: src[5]}, nil
}

// Equal performs octet-wise comparison.
func (o Obis) Equal(other Obis) bool {
	return o.A == other.A && o.B == other.B && o.C == other.C &&
		o.D == other.D && o.E == other.E && o.F == other.F
}

// Component bitmask returned by ParseComponents to report which fields a
// parsed string actually specified (F defaults when omitted).
const (
	HasA = 0x20
	HasB = 0x10
	HasC = 0x08
	HasD = 0x04
	HasE = 0x02
	HasF = 0x01
)

var (
	standardForm = regexp.MustCompile(`^((\d+)-(\d+):)?(\d+)\.(\d+)(\.(\d+)([.*](\d+))?)?$`)
	dottedForm   = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)(\.(\d+))?$`)
)

// Parse accepts "A-B:C.D.E.F", "A.B.C.D.E.F", or any subset of the
// standard form with a configurable separator for the last field ('.' or
// '*'). F defaults to 255 when omitted.
func Parse(s string) (Obis, error) {
	o, _, err := ParseComponents(s)
	return o, err
}

// ParseComponents parses s and additionally reports, as a bitmask of
// Has*, which octets were explicitly present in the input.
func ParseComponents(s string) (o Obis, components int, err error) {
	var a, b, c, d, e, f int
	components = HasC | HasD

	if m := standardForm.FindStringSubmatch(s); m != nil {
		if len(m[1]) > 0 {
			a = atoi(m[2])
			b = atoi(m[3])
			components |= HasA | HasB
		}
		c = atoi(m[4])
		d = atoi(m[5])
		e, f = 255, 255
		if len(m[6]) > 0 {
			e = atoi(m[7])
			components |= HasE
			if len(m[8]) > 0 {
				f = atoi(m[9])
				components |= HasF
			}
		}
	} else if m := dottedForm.FindStringSubmatch(s); m != nil {
		a = atoi(m[1])
		b = atoi(m[2])
		c = atoi(m[3])
		d = atoi(m[4])
		e = atoi(m[5])
		components |= HasA | HasB | HasE
		f = 255
		if len(m[6]) > 0 {
			f = atoi(m[7])
			components |= HasF
		}
	} else {
		return o, 0, fmt.Errorf("obis: invalid format %q", s)
	}

	for _, v := range [6]int{a, b, c, d, e, f} {
		if v < 0 || v > 255 {
			return o, 0, fmt.Errorf("obis: octet out of range in %q", s)
		}
	}
	o = Obis{A: byte(a), B: byte(b), C: byte(c), D: byte(d), E: byte(e), F: byte(f)}
	return o, components, nil
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		// regex already constrained s to \d+
		panic(err)
	}
	return v
}
