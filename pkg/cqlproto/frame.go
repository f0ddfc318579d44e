package cqlproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the size in bytes of the v3/v4 frame header, and of the v5
// frame header when segment framing is not in play (the codec requires
// segment framing only be applied at the transport boundary; the logical
// frame header shape is unchanged across versions).
const HeaderLen = 9

// Flags is the frame header flags bitset.
type Flags byte

const (
	FlagCompression Flags = 1 << 0
	FlagTracing     Flags = 1 << 1
	FlagCustomPayload Flags = 1 << 2
	FlagWarning     Flags = 1 << 3
	FlagUseBeta     Flags = 1 << 4
)

// Frame is a single Cassandra native protocol frame: header plus body. Body
// holds the envelope payload verbatim — compression, if any, has already
// been applied/removed by EncodeFrame/DecodeFrame.
type Frame struct {
	Version   Version
	Direction Direction
	Flags     Flags
	Stream    int16
	Opcode    Opcode
	Body      []byte
}

// ProtocolError is returned for malformed frames: unknown opcode/version,
// truncated body, malformed length, or a forbidden flag combination. It is
// always fatal to the connection that produced it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "cqlproto: protocol error: " + e.Reason }

func protoErrf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ErrIncomplete signals that in has fewer bytes than the frame's declared
// length requires; the caller should buffer more bytes and retry. Decoding
// never consumes bytes from in when this is returned.
var ErrIncomplete = errors.New("cqlproto: incomplete frame")

// CodecState records whether compression may legally appear on frames on
// this connection (Negotiated) and which compressor applies: compression is only valid after Startup negotiation
// completes (spec requires refusing a compression-flagged frame received
// before that point).
type CodecState struct {
	Negotiated  bool
	Compression Compressor // nil if no compression negotiated
}

// EncodeFrame appends the wire representation of f to out and returns the
// extended slice. If cs.Compression is non-nil and f.Flags has
// FlagCompression set, the body is compressed before the length is
// computed — per spec, the header itself is never compressed.
func EncodeFrame(out []byte, f *Frame, cs *CodecState) ([]byte, error) {
	body := f.Body
	flags := f.Flags
	if flags&FlagCompression != 0 {
		if cs == nil || cs.Compression == nil {
			return nil, protoErrf("compression flag set but no compressor negotiated")
		}
		compressed, err := cs.Compression.Compress(body)
		if err != nil {
			return nil, err
		}
		body = compressed
	}

	versionByte := byte(f.Version)
	if f.Direction == DirResponse {
		versionByte |= versionResponseBit
	}

	out = append(out, versionByte, byte(flags))
	var streamBuf [2]byte
	binary.BigEndian.PutUint16(streamBuf[:], uint16(f.Stream))
	out = append(out, streamBuf[:]...)
	out = append(out, byte(f.Opcode))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out, nil
}

// DecodeFrame parses the first complete frame from in. It returns
// (frame, rest, nil) on success, (nil, in, ErrIncomplete) when in holds
// fewer bytes than the header declares, and (nil, in, err) on a
// ProtocolError — in is never modified on failure.
func DecodeFrame(in []byte, cs *CodecState) (*Frame, []byte, error) {
	if len(in) < HeaderLen {
		return nil, in, ErrIncomplete
	}

	versionByte := in[0]
	dir := DirRequest
	if versionByte&versionResponseBit != 0 {
		dir = DirResponse
	}
	version := Version(versionByte &^ versionResponseBit)
	switch version {
	case ProtocolV3, ProtocolV4, ProtocolV5:
	default:
		return nil, in, protoErrf("unsupported protocol version %d", version)
	}

	flags := Flags(in[1])
	stream := int16(binary.BigEndian.Uint16(in[2:4]))
	op := Opcode(in[4])
	if dir == DirRequest && !isRequestOpcode(op) || dir == DirResponse && !isResponseOpcode(op) {
		return nil, in, protoErrf("opcode %s invalid for direction", op)
	}

	bodyLen := int32(binary.BigEndian.Uint32(in[5:9]))
	if bodyLen < 0 {
		return nil, in, protoErrf("negative body length %d", bodyLen)
	}
	total := HeaderLen + int(bodyLen)
	if len(in) < total {
		return nil, in, ErrIncomplete
	}

	body := make([]byte, bodyLen)
	copy(body, in[HeaderLen:total])

	if flags&FlagCompression != 0 {
		if cs == nil || !cs.Negotiated || cs.Compression == nil {
			return nil, in, protoErrf("compressed frame received before compression negotiation")
		}
		decompressed, err := cs.Compression.Decompress(body)
		if err != nil {
			return nil, in, protoErrf("decompression failed: %v", err)
		}
		body = decompressed
	}

	f := &Frame{
		Version:   version,
		Direction: dir,
		Flags:     flags,
		Stream:    stream,
		Opcode:    op,
		Body:      body,
	}
	return f, in[total:], nil
}

// MaxStreamID returns the largest valid positive stream id for v. v2 (not
// itself supported by this driver, but retained for the constant) uses a
// single signed byte's worth of ids; v3+ uses the full signed 16-bit range.
func MaxStreamID(v Version) int16 {
	if v < ProtocolV3 {
		return 127
	}
	return 32767
}
