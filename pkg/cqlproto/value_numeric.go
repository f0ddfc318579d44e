package cqlproto

import (
	"encoding/binary"
	"math"
)

func encodeInt64(v *Value) []byte {
	var val int64
	switch v.Type.Kind {
	case KindTimestamp:
		val = v.Timestamp
	case KindTime:
		val = v.Time
	default:
		val = v.I64
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(val))
	return b[:]
}

func decodeInt64(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, protoErrf("bigint/timestamp/time: want 8 bytes, got %d", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func encodeInt32(v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func decodeInt32(raw []byte) (int32, error) {
	if len(raw) != 4 {
		return 0, protoErrf("int/date: want 4 bytes, got %d", len(raw))
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}

func encodeInt16(v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return b[:]
}

func decodeInt16(raw []byte) (int16, error) {
	if len(raw) != 2 {
		return 0, protoErrf("smallint: want 2 bytes, got %d", len(raw))
	}
	return int16(binary.BigEndian.Uint16(raw)), nil
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(raw []byte) (bool, error) {
	if len(raw) != 1 {
		return false, protoErrf("boolean: want 1 byte, got %d", len(raw))
	}
	return raw[0] != 0, nil
}

func encodeFloat32(v float32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

func decodeFloat32(raw []byte) (float32, error) {
	if len(raw) != 4 {
		return 0, protoErrf("float: want 4 bytes, got %d", len(raw))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil
}

func encodeFloat64(v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

func decodeFloat64(raw []byte) (float64, error) {
	if len(raw) != 8 {
		return 0, protoErrf("double: want 8 bytes, got %d", len(raw))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
}

// encodeDecimal serializes {scale: [int], unscaled: varint} — e.g.
// decimal(unscaled=-129, scale=1) encodes to 00 00 00 01 FF 7F (scale=1,
// then the signed big-endian varint for -129).
func encodeDecimal(d DecimalValue) []byte {
	out := make([]byte, 0, 4+len(d.Unscaled))
	out = append(out, encodeInt32(d.Scale)...)
	out = append(out, d.Unscaled...)
	return out
}

func decodeDecimal(raw []byte) (DecimalValue, error) {
	if len(raw) < 4 {
		return DecimalValue{}, protoErrf("decimal: want at least 4 bytes, got %d", len(raw))
	}
	scale, err := decodeInt32(raw[:4])
	if err != nil {
		return DecimalValue{}, err
	}
	unscaled := append([]byte(nil), raw[4:]...)
	return DecimalValue{Scale: scale, Unscaled: unscaled}, nil
}

// BigIntToVarint converts an arbitrary-magnitude signed integer represented
// as big.Int-style (sign, magnitude bytes) into the minimal signed
// big-endian two's-complement form CQL varint/decimal.unscaled requires.
// Callers holding a math/big.Int should use its Bytes()/Sign() and this
// helper to avoid re-deriving two's-complement encoding at each call site.
func BigIntToVarint(negative bool, magnitude []byte) []byte {
	// Strip leading zero bytes from the magnitude.
	for len(magnitude) > 0 && magnitude[0] == 0 {
		magnitude = magnitude[1:]
	}
	if len(magnitude) == 0 {
		return []byte{0}
	}
	if !negative {
		// Positive: prefix a zero byte if the high bit is set, so the
		// leading byte's MSB reads as 0 (sign bit for two's complement).
		if magnitude[0]&0x80 != 0 {
			out := make([]byte, len(magnitude)+1)
			copy(out[1:], magnitude)
			return out
		}
		return append([]byte(nil), magnitude...)
	}
	// Negative: two's complement of the magnitude, padded with a leading
	// 0xff byte if its MSB doesn't already read as a negative sign bit.
	out := twosComplement(magnitude)
	if out[0]&0x80 == 0 {
		padded := make([]byte, len(out)+1)
		padded[0] = 0xff
		copy(padded[1:], out)
		out = padded
	}
	return out
}

func twosComplement(magnitude []byte) []byte {
	out := make([]byte, len(magnitude))
	carry := 1
	for i := len(magnitude) - 1; i >= 0; i-- {
		v := int(^magnitude[i]) + carry
		out[i] = byte(v)
		if v > 0xff {
			carry = 1
		} else {
			carry = 0
		}
	}
	return out
}
