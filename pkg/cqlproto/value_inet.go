package cqlproto

// encodeInetValue serializes an InetValue to its 4- or 16-byte wire form.
// A zero IPv4 address encodes to 4 zero bytes; a zero IPv6 address ("::")
// encodes to 16 zero bytes.
func encodeInetValue(v InetValue) []byte {
	if !v.IsV6 {
		b := make([]byte, 4)
		copy(b, v.Addr[:4])
		return b
	}
	b := make([]byte, 16)
	copy(b, v.Addr[:])
	return b
}

func decodeInetValue(raw []byte) (InetValue, error) {
	switch len(raw) {
	case 4:
		var v InetValue
		copy(v.Addr[:4], raw)
		return v, nil
	case 16:
		v := InetValue{IsV6: true}
		copy(v.Addr[:], raw)
		return v, nil
	default:
		return InetValue{}, protoErrf("inet: want 4 or 16 bytes, got %d", len(raw))
	}
}
