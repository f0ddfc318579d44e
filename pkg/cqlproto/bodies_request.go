package cqlproto

// QueryBody is the payload of an OpQuery request.
type QueryBody struct {
	Query  string
	Params QueryParams
}

func EncodeQuery(w *Writer, b *QueryBody, v Version) {
	w.LongString(b.Query)
	if v >= ProtocolV5 {
		EncodeQueryParamsV5(w, &b.Params)
	} else {
		EncodeQueryParamsV4(w, &b.Params)
	}
}

func DecodeQuery(r *Reader, v Version) *QueryBody {
	b := &QueryBody{Query: r.LongString()}
	if v >= ProtocolV5 {
		b.Params = *DecodeQueryParamsV5(r)
	} else {
		b.Params = *DecodeQueryParamsV4(r)
	}
	return b
}

// PrepareBody is the payload of an OpPrepare request.
type PrepareBody struct {
	Query    string
	Keyspace string // v5 only, gated by a flags byte
}

func EncodePrepare(w *Writer, b *PrepareBody, v Version) {
	w.LongString(b.Query)
	if v >= ProtocolV5 {
		if b.Keyspace != "" {
			w.Int(0x01)
			w.String(b.Keyspace)
		} else {
			w.Int(0)
		}
	}
}

// ExecuteBody is the payload of an OpExecute request.
type ExecuteBody struct {
	PreparedID []byte
	Params     QueryParams
}

func EncodeExecute(w *Writer, b *ExecuteBody, v Version) {
	w.ShortBytes(b.PreparedID)
	if v >= ProtocolV5 {
		EncodeQueryParamsV5(w, &b.Params)
	} else {
		EncodeQueryParamsV4(w, &b.Params)
	}
}

func DecodeExecute(r *Reader, v Version) *ExecuteBody {
	b := &ExecuteBody{PreparedID: r.ShortBytes()}
	if v >= ProtocolV5 {
		b.Params = *DecodeQueryParamsV5(r)
	} else {
		b.Params = *DecodeQueryParamsV4(r)
	}
	return b
}

// RegisterBody is the payload of an OpRegister request.
type RegisterBody struct {
	Events []EventType
}

func EncodeRegister(w *Writer, b *RegisterBody) {
	strs := make([]string, len(b.Events))
	for i, e := range b.Events {
		strs[i] = string(e)
	}
	w.StringList(strs)
}

// BatchType selects logged/unlogged/counter batch semantics.
type BatchType byte

const (
	BatchLogged BatchType = iota
	BatchUnlogged
	BatchCounter
)

// BatchStatement is one statement within a Batch request: either a plain
// query string or a prepared-statement id, with positional values only.
// Named values ("with_names") are broken server-side for batched
// statements, so BatchStatement carries no named-value path at all.
type BatchStatement struct {
	PreparedID    []byte // nil => Query is used instead
	Query         string
	Values        [][]byte
	ValueIsNull   []bool
	ValueIsNotSet []bool
}

// BatchBody is the payload of an OpBatch request.
type BatchBody struct {
	Type              BatchType
	Statements        []BatchStatement
	Consistency       Consistency
	Flags             QueryFlag
	SerialConsistency Consistency
	DefaultTimestamp  int64
	Keyspace          string
}

func EncodeBatch(w *Writer, b *BatchBody, v Version) {
	w.Byte(byte(b.Type))
	w.Short(uint16(len(b.Statements)))
	for _, stmt := range b.Statements {
		if stmt.PreparedID != nil {
			w.Byte(1)
			w.ShortBytes(stmt.PreparedID)
		} else {
			w.Byte(0)
			w.LongString(stmt.Query)
		}
		w.Short(uint16(len(stmt.Values)))
		for i, val := range stmt.Values {
			null := i < len(stmt.ValueIsNull) && stmt.ValueIsNull[i]
			notSet := i < len(stmt.ValueIsNotSet) && stmt.ValueIsNotSet[i]
			w.Value(val, null, notSet)
		}
	}
	w.Consistency(b.Consistency)
	if v >= ProtocolV5 {
		w.Int(int32(b.Flags))
	} else {
		w.Byte(byte(b.Flags))
	}
	if b.Flags&QFSerialConsistency != 0 {
		w.Consistency(b.SerialConsistency)
	}
	if b.Flags&QFDefaultTimestamp != 0 {
		w.Long(b.DefaultTimestamp)
	}
	if v >= ProtocolV5 && b.Flags&QFKeyspace != 0 {
		w.String(b.Keyspace)
	}
}

// EventBody is the payload of a server-pushed OpEvent frame.
type EventBody struct {
	Type EventType

	// Populated depending on Type.
	TopologyChangeType string
	StatusChangeType   string
	Address            string // IP address textual form; the port is in Port
	Port               int32

	SchemaChangeType   string
	SchemaChangeTarget string
	SchemaKeyspace     string
	SchemaObject       string
	SchemaArguments    []string
}

func DecodeEvent(r *Reader) *EventBody {
	b := &EventBody{Type: EventType(r.String())}
	switch b.Type {
	case EventTopologyChange:
		b.TopologyChangeType = r.String()
		ip, port := r.InetAddr()
		b.Address = ip.String()
		b.Port = port
	case EventStatusChange:
		b.StatusChangeType = r.String()
		ip, port := r.InetAddr()
		b.Address = ip.String()
		b.Port = port
	case EventSchemaChange:
		b.SchemaChangeType = r.String()
		b.SchemaChangeTarget = r.String()
		switch b.SchemaChangeTarget {
		case "KEYSPACE":
			b.SchemaKeyspace = r.String()
		case "TABLE", "TYPE":
			b.SchemaKeyspace = r.String()
			b.SchemaObject = r.String()
		case "FUNCTION", "AGGREGATE":
			b.SchemaKeyspace = r.String()
			b.SchemaObject = r.String()
			b.SchemaArguments = r.StringList()
		}
	}
	return b
}
