package cqlproto

import (
	"bytes"
	"strings"
	"testing"
)

func TestLZ4RoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("cassandra native protocol frame body ", 20))
	c := LZ4Compressor{}
	compressed, err := c.Compress(body)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch")
	}
}

func TestSnappyRoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("cassandra native protocol frame body ", 20))
	c := SnappyCompressor{}
	compressed, err := c.Compress(body)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressorByName(t *testing.T) {
	if _, ok := CompressorByName("lz4"); !ok {
		t.Fatalf("expected lz4 to resolve")
	}
	if _, ok := CompressorByName("snappy"); !ok {
		t.Fatalf("expected snappy to resolve")
	}
	if _, ok := CompressorByName("zstd"); ok {
		t.Fatalf("zstd is not a supported algorithm name")
	}
}

func TestEncodeFrame_Compressed(t *testing.T) {
	cs := &CodecState{Negotiated: true, Compression: LZ4Compressor{}}
	f := &Frame{
		Version:   ProtocolV4,
		Direction: DirRequest,
		Opcode:    OpQuery,
		Flags:     FlagCompression,
		Body:      []byte(strings.Repeat("select * from ks.tbl ", 10)),
	}
	enc, err := EncodeFrame(nil, f, cs)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	got, rest, err := DecodeFrame(enc, cs)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover bytes: %d", len(rest))
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("decoded body mismatch")
	}
}
