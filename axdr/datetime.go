package axdr

import (
	"fmt"
	"time"
)

// InvalidDeviation marks an unspecified UTC deviation (wire value 0x8000).
const InvalidDeviation int16 = -32768

// Date is the 5-byte DLMS date: year(2BE), month, day, day-of-week.
// 0xFFFF/0xFF in any field means "not specified".
type Date struct {
	Year      uint16
	Month     byte
	Day       byte
	DayOfWeek byte
}

// Time is the 4-byte DLMS time: hour, minute, second, hundredths.
type Time struct {
	Hour       byte
	Minute     byte
	Second     byte
	Hundredths byte
}

// DateTime is the 12-byte DLMS date-time: Date, Time, a
// signed 16-bit deviation in minutes "east of UTC from local time" (stored
// offset = -(utc_offset_minutes)), and a clock-status byte.
type DateTime struct {
	Date      Date
	Time      Time
	Deviation int16
	Status    byte
}

func (d Date) bytes() [5]byte {
	return [5]byte{byte(d.Year >> 8), byte(d.Year), d.Month, d.Day, d.DayOfWeek}
}

func (t Time) bytes() [4]byte {
	return [4]byte{t.Hour, t.Minute, t.Second, t.Hundredths}
}

// EncodeDate appends the 5-byte wire form of d to dst.
func EncodeDate(dst []byte, d Date) []byte {
	b := d.bytes()
	return append(dst, b[:]...)
}

// EncodeTime appends the 4-byte wire form of t to dst.
func EncodeTime(dst []byte, t Time) []byte {
	b := t.bytes()
	return append(dst, b[:]...)
}

// EncodeDateTime appends the 12-byte wire form of dt to dst.
func EncodeDateTime(dst []byte, dt DateTime) []byte {
	dst = EncodeDate(dst, dt.Date)
	dst = EncodeTime(dst, dt.Time)
	return append(dst, byte(dt.Deviation>>8), byte(dt.Deviation), dt.Status)
}

// DecodeDate parses a 5-byte date.
func DecodeDate(src []byte) (Date, error) {
	if len(src) < 5 {
		return Date{}, fmt.Errorf("axdr: short date, need 5 bytes, got %d", len(src))
	}
	return Date{
		Year:      uint16(src[0])<<8 | uint16(src[1]),
		Month:     src[2],
		Day:       src[3],
		DayOfWeek: src[4],
	}, nil
}

// DecodeTime parses a 4-byte time.
func DecodeTime(src []byte) (Time, error) {
	if len(src) < 4 {
		return Time{}, fmt.Errorf("axdr: short time, need 4 bytes, got %d", len(src))
	}
	return Time{Hour: src[0], Minute: src[1], Second: src[2], Hundredths: src[3]}, nil
}

// DecodeDateTime parses a 12-byte date-time.
func DecodeDateTime(src []byte) (DateTime, error) {
	if len(src) < 12 {
		return DateTime{}, fmt.Errorf("axdr: short date-time, need 12 bytes, got %d", len(src))
	}
	date, _ := DecodeDate(src[0:5])
	tm, _ := DecodeTime(src[5:9])
	return DateTime{
		Date:      date,
		Time:      tm,
		Deviation: int16(src[9])<<8 | int16(src[10]),
		Status:    src[11],
	}, nil
}

// AsTime renders dt as a time.Time in a fixed zone, negating the stored
// deviation to get the true UTC offset.
func (dt DateTime) AsTime() (time.Time, error) {
	if dt.Date.Year == 0xffff || dt.Date.Month == 0xff || dt.Date.Day == 0xff ||
		dt.Time.Hour == 0xff || dt.Time.Minute == 0xff {
		return time.Time{}, fmt.Errorf("axdr: date-time has unspecified fields")
	}
	ns := 0
	if dt.Time.Hundredths != 0xff {
		ns = int(dt.Time.Hundredths) * 10_000_000
	}
	dev := 0
	if dt.Deviation != InvalidDeviation {
		dev = int(dt.Deviation)
	}
	// stored deviation = -(UTC offset in minutes), so the
	// actual zone offset east of UTC is the negation of the stored value.
	zoneOffsetSeconds := -dev * 60
	return time.Date(int(dt.Date.Year), time.Month(dt.Date.Month), int(dt.Date.Day),
		int(dt.Time.Hour), int(dt.Time.Minute), int(dt.Time.Second), ns,
		time.FixedZone("DLMS", zoneOffsetSeconds)), nil
}

// AsUTC renders dt as a UTC time.Time, applying the same offset-from-local
// convention as AsTime then converting to UTC.
func (dt DateTime) AsUTC() (time.Time, error) {
	t, err := dt.AsTime()
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NewDateTimeFromTime converts a Go time.Time into the DLMS wire
// representation, storing the deviation as -(zone offset in minutes) per
// the offset-from-local convention.
func NewDateTimeFromTime(src time.Time) DateTime {
	wd := byte(src.Weekday())
	if wd == 0 {
		wd = 7 // DLMS Monday=1..Sunday=7, Go's Sunday=0
	}
	_, offsetSeconds := src.Zone()
	deviation := int16(-(offsetSeconds / 60))
	return DateTime{
		Date: Date{Year: uint16(src.Year()), Month: byte(src.Month()), Day: byte(src.Day()), DayOfWeek: wd},
		Time: Time{Hour: byte(src.Hour()), Minute: byte(src.Minute()), Second: byte(src.Second()),
			Hundredths: byte(src.Nanosecond() / 10_000_000)},
		Deviation: deviation,
		Status:    0,
	}
}
