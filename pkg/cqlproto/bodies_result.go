package cqlproto

// ResultKind distinguishes the five shapes an OpResult body can take.
type ResultKind int32

const (
	ResultVoid ResultKind = iota + 1
	ResultRows
	ResultSetKeyspace
	ResultPrepared
	ResultSchemaChange
)

// RowsFlag gates the presence of RowsMetadata's optional fields.
type RowsFlag int32

const (
	RowsFlagGlobalTableSpec RowsFlag = 1 << iota
	RowsFlagHasMorePages
	RowsFlagNoMetadata
)

// ColumnSpec names and types one column of a result/prepared set.
type ColumnSpec struct {
	Keyspace string
	Table    string
	Name     string
	Type     *ColumnType
}

// RowsMetadata describes the shape of a Rows result or a prepared
// statement's bound/result columns.
type RowsMetadata struct {
	Flags              RowsFlag
	Columns            []ColumnSpec
	PagingState        []byte
	HasMorePages       bool
	GlobalKeyspace     string
	GlobalTable        string
	PartitionKeyIndexes []uint16 // Prepared bound-metadata only
}

// RowsBody is the ResultRows payload: metadata plus raw row data, each cell
// still in its [bytes] wire form — callers decode cells lazily against
// Metadata.Columns[i].Type via DecodeValue, since the driver does not know
// ahead of time which columns a caller will actually read.
type RowsBody struct {
	Metadata RowsMetadata
	Rows     [][][]byte // Rows[i][j] is column j of row i; nil entry means NULL
}

// PreparedBody is the ResultPrepared payload.
type PreparedBody struct {
	ID             []byte
	ResultMetadataID []byte // v5 only
	BoundMetadata  RowsMetadata
	ResultMetadata RowsMetadata
}

// SchemaChangeBody mirrors EventBody's schema-change fields but appears
// inline in a Result rather than as a pushed Event (e.g. the direct result
// of a DDL statement the caller itself issued).
type SchemaChangeBody struct {
	ChangeType string
	Target     string
	Keyspace   string
	Object     string
	Arguments  []string
}

// ResultBody is the decoded OpResult payload; exactly one of the typed
// fields is populated, selected by Kind.
type ResultBody struct {
	Kind         ResultKind
	SetKeyspace  string
	Rows         *RowsBody
	Prepared     *PreparedBody
	SchemaChange *SchemaChangeBody
}

func decodeRowsMetadata(r *Reader, withPartitionKeys bool) RowsMetadata {
	md := RowsMetadata{}
	md.Flags = RowsFlag(r.Int())
	columnCount := int(r.Int())

	if withPartitionKeys {
		n := int(r.Int())
		md.PartitionKeyIndexes = make([]uint16, n)
		for i := range md.PartitionKeyIndexes {
			md.PartitionKeyIndexes[i] = r.Short()
		}
	}

	if md.Flags&RowsFlagHasMorePages != 0 {
		b, _ := r.Bytes()
		md.PagingState = b
		md.HasMorePages = true
	}

	if md.Flags&RowsFlagNoMetadata != 0 {
		return md
	}

	global := md.Flags&RowsFlagGlobalTableSpec != 0
	if global {
		md.GlobalKeyspace = r.String()
		md.GlobalTable = r.String()
	}
	md.Columns = make([]ColumnSpec, columnCount)
	for i := range md.Columns {
		if !global {
			md.Columns[i].Keyspace = r.String()
			md.Columns[i].Table = r.String()
		}
		md.Columns[i].Name = r.String()
		md.Columns[i].Type = decodeColumnType(r)
	}
	return md
}

func decodeColumnType(r *Reader) *ColumnType {
	id := r.Short()
	switch id {
	case 0x0000:
		return &ColumnType{Kind: KindCustom, Custom: r.String()}
	case 0x0001:
		return &ColumnType{Kind: KindAscii}
	case 0x0002:
		return &ColumnType{Kind: KindBigint}
	case 0x0003:
		return &ColumnType{Kind: KindBlob}
	case 0x0004:
		return &ColumnType{Kind: KindBoolean}
	case 0x0005:
		return &ColumnType{Kind: KindCustom, Custom: "counter"}
	case 0x0006:
		return &ColumnType{Kind: KindDecimal}
	case 0x0007:
		return &ColumnType{Kind: KindDouble}
	case 0x0008:
		return &ColumnType{Kind: KindFloat}
	case 0x0009:
		return &ColumnType{Kind: KindInt}
	case 0x000B:
		return &ColumnType{Kind: KindTimestamp}
	case 0x000C:
		return &ColumnType{Kind: KindUUID}
	case 0x000D:
		return &ColumnType{Kind: KindVarchar}
	case 0x000E:
		return &ColumnType{Kind: KindVarint}
	case 0x000F:
		return &ColumnType{Kind: KindTimeUUID}
	case 0x0010:
		return &ColumnType{Kind: KindInet}
	case 0x0011:
		return &ColumnType{Kind: KindDate}
	case 0x0012:
		return &ColumnType{Kind: KindTime}
	case 0x0013:
		return &ColumnType{Kind: KindSmallint}
	case 0x0014:
		return &ColumnType{Kind: KindTinyint}
	case 0x0020:
		elem := decodeColumnType(r)
		return &ColumnType{Kind: KindList, Elem: []*ColumnType{elem}}
	case 0x0021:
		key := decodeColumnType(r)
		val := decodeColumnType(r)
		return &ColumnType{Kind: KindMap, Elem: []*ColumnType{key, val}}
	case 0x0022:
		elem := decodeColumnType(r)
		return &ColumnType{Kind: KindSet, Elem: []*ColumnType{elem}}
	case 0x0030:
		// UDT: keyspace, name, field-count, then (field-name,field-type)*.
		r.String() // keyspace
		r.String() // name
		n := int(r.Short())
		fields := make([]*ColumnType, n)
		for i := range fields {
			r.String() // field name
			fields[i] = decodeColumnType(r)
		}
		return &ColumnType{Kind: KindUDT, Elem: fields}
	case 0x0031:
		n := int(r.Short())
		fields := make([]*ColumnType, n)
		for i := range fields {
			fields[i] = decodeColumnType(r)
		}
		return &ColumnType{Kind: KindTuple, Elem: fields}
	default:
		r.fail(protoErrf("unknown column type id 0x%04x", id))
		return &ColumnType{}
	}
}

func decodeRowsBody(r *Reader) *RowsBody {
	md := decodeRowsMetadata(r, false)
	rowCount := int(r.Int())
	rows := make([][][]byte, rowCount)
	colCount := len(md.Columns)
	for i := range rows {
		row := make([][]byte, colCount)
		for j := 0; j < colCount; j++ {
			b, _ := r.Bytes()
			row[j] = b
		}
		rows[i] = row
	}
	return &RowsBody{Metadata: md, Rows: rows}
}

func decodePreparedBody(r *Reader, v Version) *PreparedBody {
	b := &PreparedBody{}
	b.ID = r.ShortBytes()
	if v >= ProtocolV5 {
		b.ResultMetadataID = r.ShortBytes()
	}
	b.BoundMetadata = decodeRowsMetadata(r, true)
	b.ResultMetadata = decodeRowsMetadata(r, false)
	return b
}

func decodeSchemaChangeBody(r *Reader) *SchemaChangeBody {
	b := &SchemaChangeBody{}
	b.ChangeType = r.String()
	b.Target = r.String()
	switch b.Target {
	case "KEYSPACE":
		b.Keyspace = r.String()
	case "TABLE", "TYPE":
		b.Keyspace = r.String()
		b.Object = r.String()
	case "FUNCTION", "AGGREGATE":
		b.Keyspace = r.String()
		b.Object = r.String()
		b.Arguments = r.StringList()
	}
	return b
}

// DecodeResult parses an OpResult body.
func DecodeResult(r *Reader, v Version) (*ResultBody, error) {
	b := &ResultBody{Kind: ResultKind(r.Int())}
	switch b.Kind {
	case ResultVoid:
	case ResultRows:
		b.Rows = decodeRowsBody(r)
	case ResultSetKeyspace:
		b.SetKeyspace = r.String()
	case ResultPrepared:
		b.Prepared = decodePreparedBody(r, v)
	case ResultSchemaChange:
		b.SchemaChange = decodeSchemaChangeBody(r)
	default:
		return nil, protoErrf("unknown result kind %d", b.Kind)
	}
	if err := r.Complete(); err != nil {
		return nil, err
	}
	return b, nil
}
