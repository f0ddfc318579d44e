package cqlproto

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compressor compresses and decompresses frame bodies. The name returned
// must match one of the algorithm names the server advertises in the
// Supported frame's COMPRESSION option ("lz4", "snappy").
type Compressor interface {
	Name() string
	Compress(body []byte) ([]byte, error)
	Decompress(body []byte) ([]byte, error)
}

// LZ4Compressor implements the Cassandra LZ4 body framing: a 4-byte
// big-endian uncompressed-length prefix followed by an LZ4 block (not a
// framed LZ4 stream), matching the wire format cassandra's own LZ4
// compressor uses.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	buf.Write(lenPrefix[:])

	maxSize := lz4.CompressBlockBound(len(body))
	dst := make([]byte, maxSize)
	var c lz4.Compressor
	n, err := c.CompressBlock(body, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(body) > 0 {
		// Incompressible input: lz4 reports n==0, and this returns a
		// ProtocolError instead of storing the body raw. Cassandra's own
		// lz4 codec never needs this because it always block-compresses,
		// but pierrec/lz4's CompressBlock can refuse tiny/incompressible
		// input, so we guard it here rather than ship a corrupt frame.
		return nil, &ProtocolError{Reason: "lz4: block incompressible"}
	}
	buf.Write(dst[:n])
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, ErrNotEnoughData
	}
	uncompressedLen := binary.BigEndian.Uint32(body[:4])
	dst := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(body[4:], dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// SnappyCompressor implements the Cassandra Snappy body framing: the raw
// block-compressed payload with no length prefix (snappy.Encode/Decode
// already carries a length inside the block format).
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return "snappy" }

func (SnappyCompressor) Compress(body []byte) ([]byte, error) {
	return snappy.Encode(nil, body), nil
}

func (SnappyCompressor) Decompress(body []byte) ([]byte, error) {
	return snappy.Decode(nil, body)
}

// CompressorByName resolves one of the negotiated algorithm names to a
// Compressor, or returns ok=false if unknown.
func CompressorByName(name string) (Compressor, bool) {
	switch name {
	case "lz4":
		return LZ4Compressor{}, true
	case "snappy":
		return SnappyCompressor{}, true
	default:
		return nil, false
	}
}
