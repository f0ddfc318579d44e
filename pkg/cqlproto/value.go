package cqlproto

import "fmt"

// ColumnType names a CQL column type for the purposes of value encoding.
// Collection/tuple/UDT types carry nested type info via Elem/Fields.
type ColumnType struct {
	Kind   Kind
	Elem   []*ColumnType // list/set: 1 elem; map: 2 (key,value); tuple/UDT: N fields
	Custom string        // only set when Kind == KindCustom
}

// Kind enumerates the primitive and composite CQL type tags.
type Kind byte

const (
	KindAscii Kind = iota
	KindVarchar
	KindBigint
	KindInt
	KindSmallint
	KindTinyint
	KindBoolean
	KindFloat
	KindDouble
	KindDecimal
	KindVarint
	KindBlob
	KindInet
	KindDate
	KindTime
	KindTimestamp
	KindUUID
	KindTimeUUID
	KindList
	KindSet
	KindMap
	KindTuple
	KindUDT
	KindCustom
)

// Value is a tagged union over every column value this driver can encode
// or decode. Exactly one of the typed fields is meaningful, selected by
// Type.Kind; Null is true for a CQL NULL regardless of Type.
type Value struct {
	Type *ColumnType
	Null bool

	// Scalars. Only the field matching Type.Kind is populated.
	Str   string
	I64   int64
	I32   int32
	I16   int16
	I8    int8
	Bool  bool
	F32   float32
	F64   float64
	Bytes []byte // blob and custom

	Decimal   DecimalValue
	Varint    VarintValue
	Inet      InetValue
	Date      int32 // days, biased by 2^31 (epoch = 2^31)
	Time      int64 // nanoseconds since midnight
	Timestamp int64 // milliseconds since Unix epoch
	UUIDBytes [16]byte

	// Composite: List/Set share Elems; Map uses MapPairs; Tuple/UDT use
	// Fields (fields beyond what was actually encoded are implicitly NULL,
	// per the UDT forward-compatibility rule).
	Elems    []Value
	MapPairs []MapPair
	Fields   []Value
}

// MapPair is one key/value entry of a decoded map.
type MapPair struct {
	Key Value
	Val Value
}

// DecimalValue is {scale, unscaled} per the CQL decimal encoding.
type DecimalValue struct {
	Scale    int32
	Unscaled []byte // signed big-endian two's-complement, variable length
}

// VarintValue is a signed, variable-length, big-endian two's-complement
// integer with no separate scale (the CQL varint type).
type VarintValue struct {
	Bytes []byte
}

// InetValue is a 4- or 16-byte IP address with no port (the CQL inet type;
// distinct from the protocol-level [inetaddr] which also carries a port).
type InetValue struct {
	IsV6 bool
	Addr [16]byte // only first 4 bytes meaningful when !IsV6
}

// EncodeValue serializes v per its declared type, returning the bytes
// suitable for a protocol [value] body (i.e. without the length prefix;
// callers write that via Writer.Value). NULL values return (nil, true).
func EncodeValue(v *Value) (b []byte, null bool, err error) {
	if v.Null {
		return nil, true, nil
	}
	switch v.Type.Kind {
	case KindAscii:
		return encodeAscii(v.Str)
	case KindVarchar:
		return []byte(v.Str), false, nil
	case KindBigint, KindTimestamp, KindTime:
		return encodeInt64(v), false, nil
	case KindInt:
		return encodeInt32(v.I32), false, nil
	case KindSmallint:
		return encodeInt16(v.I16), false, nil
	case KindTinyint:
		return []byte{byte(v.I8)}, false, nil
	case KindBoolean:
		return encodeBool(v.Bool), false, nil
	case KindFloat:
		return encodeFloat32(v.F32), false, nil
	case KindDouble:
		return encodeFloat64(v.F64), false, nil
	case KindDecimal:
		return encodeDecimal(v.Decimal), false, nil
	case KindVarint:
		return v.Varint.Bytes, false, nil
	case KindBlob, KindCustom:
		return v.Bytes, false, nil
	case KindInet:
		return encodeInetValue(v.Inet), false, nil
	case KindDate:
		return encodeInt32(v.Date), false, nil
	case KindUUID, KindTimeUUID:
		return v.UUIDBytes[:], false, nil
	case KindList, KindSet:
		return encodeList(v.Elems)
	case KindMap:
		return encodeMap(v.MapPairs)
	case KindTuple, KindUDT:
		return encodeTupleLike(v.Fields, v.Type.Elem)
	default:
		return nil, false, protoErrf("unknown column kind %d", v.Type.Kind)
	}
}

// DecodeValue parses raw (the bytes of a [value], already stripped of its
// NULL/NOT-SET length prefix by the caller) into a Value of type t.
func DecodeValue(raw []byte, t *ColumnType) (*Value, error) {
	v := &Value{Type: t}
	switch t.Kind {
	case KindAscii:
		s, err := decodeAscii(raw)
		if err != nil {
			return nil, err
		}
		v.Str = s
	case KindVarchar:
		v.Str = string(raw)
	case KindBigint, KindTimestamp, KindTime:
		i, err := decodeInt64(raw)
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case KindTimestamp:
			v.Timestamp = i
		case KindTime:
			v.Time = i
		default:
			v.I64 = i
		}
	case KindInt, KindDate:
		i, err := decodeInt32(raw)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindDate {
			v.Date = i
		} else {
			v.I32 = i
		}
	case KindSmallint:
		i, err := decodeInt16(raw)
		if err != nil {
			return nil, err
		}
		v.I16 = i
	case KindTinyint:
		if len(raw) != 1 {
			return nil, protoErrf("tinyint: want 1 byte, got %d", len(raw))
		}
		v.I8 = int8(raw[0])
	case KindBoolean:
		b, err := decodeBool(raw)
		if err != nil {
			return nil, err
		}
		v.Bool = b
	case KindFloat:
		f, err := decodeFloat32(raw)
		if err != nil {
			return nil, err
		}
		v.F32 = f
	case KindDouble:
		f, err := decodeFloat64(raw)
		if err != nil {
			return nil, err
		}
		v.F64 = f
	case KindDecimal:
		d, err := decodeDecimal(raw)
		if err != nil {
			return nil, err
		}
		v.Decimal = d
	case KindVarint:
		v.Varint = VarintValue{Bytes: append([]byte(nil), raw...)}
	case KindBlob, KindCustom:
		v.Bytes = append([]byte(nil), raw...)
	case KindInet:
		iv, err := decodeInetValue(raw)
		if err != nil {
			return nil, err
		}
		v.Inet = iv
	case KindUUID, KindTimeUUID:
		if len(raw) != 16 {
			return nil, protoErrf("uuid: want 16 bytes, got %d", len(raw))
		}
		copy(v.UUIDBytes[:], raw)
	case KindList, KindSet:
		elems, err := decodeList(raw, t.Elem[0])
		if err != nil {
			return nil, err
		}
		v.Elems = elems
	case KindMap:
		pairs, err := decodeMap(raw, t.Elem[0], t.Elem[1])
		if err != nil {
			return nil, err
		}
		v.MapPairs = pairs
	case KindTuple, KindUDT:
		fields, err := decodeTupleLike(raw, t.Elem)
		if err != nil {
			return nil, err
		}
		v.Fields = fields
	default:
		return nil, protoErrf("unknown column kind %d", t.Kind)
	}
	return v, nil
}

func (t *ColumnType) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindCustom:
		return fmt.Sprintf("custom(%s)", t.Custom)
	case KindList:
		return fmt.Sprintf("list<%s>", t.Elem[0])
	case KindSet:
		return fmt.Sprintf("set<%s>", t.Elem[0])
	case KindMap:
		return fmt.Sprintf("map<%s,%s>", t.Elem[0], t.Elem[1])
	case KindTuple:
		return "tuple"
	case KindUDT:
		return "udt"
	default:
		return fmt.Sprintf("kind(%d)", t.Kind)
	}
}
