package cqlproto

// encodeList serializes a list/set body: {count: [int], (value,)*}, each
// value itself [bytes]-length-prefixed (-1 for NULL).
func encodeList(elems []Value) ([]byte, bool, error) {
	w := &Writer{}
	w.Int(int32(len(elems)))
	for i := range elems {
		b, null, err := EncodeValue(&elems[i])
		if err != nil {
			return nil, false, err
		}
		w.Bytes(b, !null)
	}
	return w.Out, false, nil
}

func decodeList(raw []byte, elemType *ColumnType) ([]Value, error) {
	r := &Reader{Src: raw}
	n := int(r.Int())
	if err := r.Complete(); err != nil {
		return nil, err
	}
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		b, ok := r.Bytes()
		if err := r.Complete(); err != nil {
			return nil, err
		}
		if !ok {
			out[i] = Value{Type: elemType, Null: true}
			continue
		}
		v, err := DecodeValue(b, elemType)
		if err != nil {
			return nil, err
		}
		out[i] = *v
	}
	return out, nil
}

// encodeMap serializes a map body: {count: [int], (key,value,)*}.
func encodeMap(pairs []MapPair) ([]byte, bool, error) {
	w := &Writer{}
	w.Int(int32(len(pairs)))
	for i := range pairs {
		kb, knull, err := EncodeValue(&pairs[i].Key)
		if err != nil {
			return nil, false, err
		}
		w.Bytes(kb, !knull)
		vb, vnull, err := EncodeValue(&pairs[i].Val)
		if err != nil {
			return nil, false, err
		}
		w.Bytes(vb, !vnull)
	}
	return w.Out, false, nil
}

func decodeMap(raw []byte, keyType, valType *ColumnType) ([]MapPair, error) {
	r := &Reader{Src: raw}
	n := int(r.Int())
	if err := r.Complete(); err != nil {
		return nil, err
	}
	out := make([]MapPair, n)
	for i := 0; i < n; i++ {
		kb, kok := r.Bytes()
		vb, vok := r.Bytes()
		if err := r.Complete(); err != nil {
			return nil, err
		}
		var kv, vv Value
		if !kok {
			kv = Value{Type: keyType, Null: true}
		} else {
			p, err := DecodeValue(kb, keyType)
			if err != nil {
				return nil, err
			}
			kv = *p
		}
		if !vok {
			vv = Value{Type: valType, Null: true}
		} else {
			p, err := DecodeValue(vb, valType)
			if err != nil {
				return nil, err
			}
			vv = *p
		}
		out[i] = MapPair{Key: kv, Val: vv}
	}
	return out, nil
}

// encodeTupleLike serializes a tuple/UDT body: a fixed-order sequence of
// [bytes]-length-prefixed values, one per declared field, with no leading
// count (the field count is known from the type).
func encodeTupleLike(fields []Value, fieldTypes []*ColumnType) ([]byte, bool, error) {
	w := &Writer{}
	for i := range fields {
		b, null, err := EncodeValue(&fields[i])
		if err != nil {
			return nil, false, err
		}
		w.Bytes(b, !null)
	}
	return w.Out, false, nil
}

// decodeTupleLike decodes a tuple/UDT body against fieldTypes. For
// forward compatibility: if the encoded value has fewer length-prefixed
// entries than len(fieldTypes) — because it was written under an older
// schema with fewer fields — the trailing fields decode as NULL rather
// than failing.
func decodeTupleLike(raw []byte, fieldTypes []*ColumnType) ([]Value, error) {
	r := &Reader{Src: raw}
	out := make([]Value, len(fieldTypes))
	for i, ft := range fieldTypes {
		if len(r.Src) == 0 {
			out[i] = Value{Type: ft, Null: true}
			continue
		}
		b, ok := r.Bytes()
		if err := r.Complete(); err != nil {
			return nil, err
		}
		if !ok {
			out[i] = Value{Type: ft, Null: true}
			continue
		}
		v, err := DecodeValue(b, ft)
		if err != nil {
			return nil, err
		}
		out[i] = *v
	}
	return out, nil
}
