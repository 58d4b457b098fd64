package axdr

// Tag identifies the type of a Data node.
// Values match the DLMS common-data-types table so wire bytes need no
// translation.
type Tag byte

const (
	TagNull               Tag = 0
	TagArray              Tag = 1
	TagStructure          Tag = 2
	TagBool               Tag = 3
	TagBitString          Tag = 4
	TagInt32              Tag = 5
	TagUint32             Tag = 6
	TagFloatingPoint      Tag = 7 // legacy 4-byte float, rarely used on the wire
	TagOctetString        Tag = 9
	TagVisibleString      Tag = 10
	TagUTF8String         Tag = 12
	TagBCD                Tag = 13
	TagInt8               Tag = 15
	TagInt16              Tag = 16
	TagUint8              Tag = 17
	TagUint16             Tag = 18
	TagCompactArray       Tag = 19
	TagInt64              Tag = 20
	TagUint64             Tag = 21
	TagEnum               Tag = 22
	TagFloat32            Tag = 23
	TagFloat64            Tag = 24
	TagDateTime           Tag = 25
	TagDate               Tag = 26
	TagTime               Tag = 27
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagArray:
		return "array"
	case TagStructure:
		return "structure"
	case TagBool:
		return "bool"
	case TagBitString:
		return "bit_string"
	case TagInt32:
		return "int32"
	case TagUint32:
		return "uint32"
	case TagFloatingPoint:
		return "floating_point"
	case TagOctetString:
		return "octet_string"
	case TagVisibleString:
		return "visible_string"
	case TagUTF8String:
		return "utf8_string"
	case TagBCD:
		return "bcd"
	case TagInt8:
		return "int8"
	case TagInt16:
		return "int16"
	case TagUint8:
		return "uint8"
	case TagUint16:
		return "uint16"
	case TagCompactArray:
		return "compact_array"
	case TagInt64:
		return "int64"
	case TagUint64:
		return "uint64"
	case TagEnum:
		return "enum"
	case TagFloat32:
		return "float32"
	case TagFloat64:
		return "float64"
	case TagDateTime:
		return "date_time"
	case TagDate:
		return "date"
	case TagTime:
		return "time"
	default:
		return "unknown"
	}
}
