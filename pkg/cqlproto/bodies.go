package cqlproto

// This file implements the opcode-specific frame body encodings for query
// parameters and error result bodies, plus the request bodies needed to
// drive the Startup state machine and the request pipeline.

// QueryFlag bits gate the presence of QueryParams' optional fields on the
// wire.
type QueryFlag uint32

const (
	QFValues QueryFlag = 1 << iota
	QFSkipMetadata
	QFPageSize
	QFPagingState
	QFSerialConsistency
	QFDefaultTimestamp
	QFNamesForValues
	QFKeyspace
	_ // WithKeyspace already covers v5; reserved bit left unused for v4 8th bit
	QFPageSizeBytes
)

// QueryParams is the common parameter block shared by Query, Execute, and
// each statement within a Batch.
type QueryParams struct {
	Consistency       Consistency
	Flags             QueryFlag
	PositionalValues  [][]byte // NULL is marked in ValueIsNull; NOT SET in ValueIsNotSet
	NamedValues       map[string][]byte
	ValueIsNull       []bool // parallel to PositionalValues
	ValueIsNotSet     []bool // parallel to PositionalValues; v4+ only
	PageSize          int32
	PagingState       []byte
	SerialConsistency Consistency
	DefaultTimestamp  int64
	Keyspace          string
}

// EncodeQueryParamsV4 appends the v3/v4 wire form of p: the consistency,
// the flags as a single [byte], then the fields the flags select.
// EncodeQueryParamsV5 writes the same block with the flags as an [int].
func EncodeQueryParamsV4(w *Writer, p *QueryParams) {
	w.Consistency(p.Consistency)
	w.Byte(byte(p.Flags))
	encodeQueryParamsBody(w, p)
}

func EncodeQueryParamsV5(w *Writer, p *QueryParams) {
	w.Consistency(p.Consistency)
	w.Int(int32(p.Flags))
	encodeQueryParamsBody(w, p)
}

func encodeQueryParamsBody(w *Writer, p *QueryParams) {
	if p.Flags&QFValues != 0 {
		if p.Flags&QFNamesForValues != 0 {
			w.Short(uint16(len(p.NamedValues)))
			for k, v := range p.NamedValues {
				w.String(k)
				w.Value(v, false, false)
			}
		} else {
			w.Short(uint16(len(p.PositionalValues)))
			for i, v := range p.PositionalValues {
				null := i < len(p.ValueIsNull) && p.ValueIsNull[i]
				notSet := i < len(p.ValueIsNotSet) && p.ValueIsNotSet[i]
				w.Value(v, null, notSet)
			}
		}
	}
	if p.Flags&QFPageSize != 0 {
		w.Int(p.PageSize)
	}
	if p.Flags&QFPagingState != 0 {
		w.Bytes(p.PagingState, true)
	}
	if p.Flags&QFSerialConsistency != 0 {
		w.Consistency(p.SerialConsistency)
	}
	if p.Flags&QFDefaultTimestamp != 0 {
		w.Long(p.DefaultTimestamp)
	}
	if p.Flags&QFKeyspace != 0 {
		w.String(p.Keyspace)
	}
}

// DecodeQueryParamsV4 parses a v3/v4 query parameter block (flags is a
// single byte).
func DecodeQueryParamsV4(r *Reader) *QueryParams {
	p := &QueryParams{}
	p.Consistency = r.Consistency()
	p.Flags = QueryFlag(r.Byte())
	decodeQueryParamsBody(r, p)
	return p
}

func DecodeQueryParamsV5(r *Reader) *QueryParams {
	p := &QueryParams{}
	p.Consistency = r.Consistency()
	p.Flags = QueryFlag(r.Int())
	decodeQueryParamsBody(r, p)
	return p
}

func decodeQueryParamsBody(r *Reader, p *QueryParams) {
	if p.Flags&QFValues != 0 {
		n := int(r.Short())
		if p.Flags&QFNamesForValues != 0 {
			p.NamedValues = make(map[string][]byte, n)
			for i := 0; i < n; i++ {
				name := r.String()
				b, null, notSet := r.Value()
				_ = null
				_ = notSet
				p.NamedValues[name] = b
			}
		} else {
			p.PositionalValues = make([][]byte, n)
			p.ValueIsNull = make([]bool, n)
			p.ValueIsNotSet = make([]bool, n)
			for i := 0; i < n; i++ {
				b, null, notSet := r.Value()
				p.PositionalValues[i] = b
				p.ValueIsNull[i] = null
				p.ValueIsNotSet[i] = notSet
			}
		}
	}
	if p.Flags&QFPageSize != 0 {
		p.PageSize = r.Int()
	}
	if p.Flags&QFPagingState != 0 {
		b, _ := r.Bytes()
		p.PagingState = b
	}
	if p.Flags&QFSerialConsistency != 0 {
		p.SerialConsistency = r.Consistency()
	}
	if p.Flags&QFDefaultTimestamp != 0 {
		p.DefaultTimestamp = r.Long()
	}
	if p.Flags&QFKeyspace != 0 {
		p.Keyspace = r.String()
	}
}

// StartupBody is the payload of an OpStartup request: a string map that
// must include CQL_VERSION and may include COMPRESSION.
type StartupBody struct {
	Options map[string]string
}

func EncodeStartup(w *Writer, b *StartupBody) {
	w.StringMap(b.Options)
}

func DecodeStartup(r *Reader) *StartupBody {
	return &StartupBody{Options: r.StringMap()}
}

// SupportedBody is the payload of an OpSupported response: the server's
// advertised CQL versions and compression algorithms.
type SupportedBody struct {
	Options map[string][]string
}

func DecodeSupported(r *Reader) *SupportedBody {
	return &SupportedBody{Options: r.StringMultiMap()}
}

// AuthenticateBody names the SASL authenticator class the server requires.
type AuthenticateBody struct {
	AuthenticatorClass string
}

func DecodeAuthenticate(r *Reader) *AuthenticateBody {
	return &AuthenticateBody{AuthenticatorClass: r.String()}
}

// AuthResponseBody/AuthChallengeBody/AuthSuccessBody carry opaque SASL
// exchange bytes.
type AuthResponseBody struct{ Token []byte }
type AuthChallengeBody struct{ Token []byte }
type AuthSuccessBody struct{ Token []byte }

func EncodeAuthResponse(w *Writer, b *AuthResponseBody) { w.Bytes(b.Token, b.Token != nil) }
func DecodeAuthChallenge(r *Reader) *AuthChallengeBody {
	b, _ := r.Bytes()
	return &AuthChallengeBody{Token: b}
}
func DecodeAuthSuccess(r *Reader) *AuthSuccessBody {
	b, _ := r.Bytes()
	return &AuthSuccessBody{Token: b}
}

// ErrorCode is the numeric Cassandra error code.
type ErrorCode int32

const (
	ErrServerError          ErrorCode = 0x0000
	ErrProtocolError        ErrorCode = 0x000A
	ErrAuthenticationError  ErrorCode = 0x0100
	ErrUnavailable          ErrorCode = 0x1000
	ErrOverloaded           ErrorCode = 0x1001
	ErrIsBootstrapping      ErrorCode = 0x1002
	ErrTruncateError        ErrorCode = 0x1003
	ErrWriteTimeout         ErrorCode = 0x1100
	ErrReadTimeout          ErrorCode = 0x1200
	ErrReadFailure          ErrorCode = 0x1300
	ErrFunctionFailure      ErrorCode = 0x1400
	ErrWriteFailure         ErrorCode = 0x1500
	ErrCDCWriteFailure      ErrorCode = 0x1600
	ErrCASWriteUnknown      ErrorCode = 0x1700
	ErrSyntaxError          ErrorCode = 0x2000
	ErrUnauthorized         ErrorCode = 0x2100
	ErrInvalid              ErrorCode = 0x2200
	ErrConfigError          ErrorCode = 0x2300
	ErrAlreadyExists        ErrorCode = 0x2400
	ErrUnprepared           ErrorCode = 0x2500
)

// ErrorBody is the decoded payload of an OpError response.
type ErrorBody struct {
	Code    ErrorCode
	Message string

	// Extra carries opcode-specific fields for error codes whose body has
	// more than {code, message}; the retry policy inspects these directly.
	UnavailableExtra *UnavailableErrorExtra
	WriteTimeoutExtra *WriteTimeoutErrorExtra
	ReadTimeoutExtra  *ReadTimeoutErrorExtra
	UnpreparedExtra   *UnpreparedErrorExtra
}

type UnavailableErrorExtra struct {
	Consistency Consistency
	Required    int32
	Alive       int32
}

type WriteTimeoutErrorExtra struct {
	Consistency Consistency
	Received    int32
	BlockFor    int32
	WriteType   string
}

type ReadTimeoutErrorExtra struct {
	Consistency Consistency
	Received    int32
	BlockFor    int32
	DataPresent bool
}

type UnpreparedErrorExtra struct {
	UnknownID []byte
}

func DecodeError(r *Reader) *ErrorBody {
	b := &ErrorBody{}
	b.Code = ErrorCode(r.Int())
	b.Message = r.String()
	switch b.Code {
	case ErrUnavailable:
		b.UnavailableExtra = &UnavailableErrorExtra{
			Consistency: r.Consistency(),
			Required:    r.Int(),
			Alive:       r.Int(),
		}
	case ErrWriteTimeout:
		b.WriteTimeoutExtra = &WriteTimeoutErrorExtra{
			Consistency: r.Consistency(),
			Received:    r.Int(),
			BlockFor:    r.Int(),
			WriteType:   r.String(),
		}
	case ErrReadTimeout:
		b.ReadTimeoutExtra = &ReadTimeoutErrorExtra{
			Consistency: r.Consistency(),
			Received:    r.Int(),
			BlockFor:    r.Int(),
			DataPresent: r.Byte() != 0,
		}
	case ErrUnprepared:
		id := r.ShortBytes()
		b.UnpreparedExtra = &UnpreparedErrorExtra{UnknownID: id}
	}
	return b
}

func (b *ErrorBody) Error() string {
	return b.Message
}
