package cqlproto

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeFrame_OptionsRequest(t *testing.T) {
	// scenario 3: {V4, Request, flags=0, stream=1, OPTIONS, []}
	// encodes to 04 00 00 01 05 00 00 00 00.
	f := &Frame{
		Version: ProtocolV4,
		Direction: DirRequest,
		Stream:  1,
		Opcode:  OpOptions,
		Body:    nil,
	}
	got, err := EncodeFrame(nil, f, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := []byte{0x04, 0x00, 0x00, 0x01, 0x05, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeFrame = % x, want % x", got, want)
	}
}

func TestDecodeFrame_RoundTrip(t *testing.T) {
	f := &Frame{
		Version:   ProtocolV4,
		Direction: DirResponse,
		Stream:    42,
		Opcode:    OpReady,
		Body:      []byte{1, 2, 3},
	}
	enc, err := EncodeFrame(nil, f, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	got, rest, err := DecodeFrame(enc, nil)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no leftover bytes, got %d", len(rest))
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrame_Incomplete(t *testing.T) {
	f := &Frame{Version: ProtocolV4, Direction: DirRequest, Opcode: OpOptions, Body: []byte{1, 2, 3, 4}}
	enc, err := EncodeFrame(nil, f, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	short := enc[:len(enc)-2]
	_, rest, err := DecodeFrame(short, nil)
	if err != ErrIncomplete {
		t.Fatalf("DecodeFrame on short input: err = %v, want ErrIncomplete", err)
	}
	if !bytes.Equal(rest, short) {
		t.Fatalf("DecodeFrame must not consume bytes on incomplete input")
	}
}

func TestDecodeFrame_CompressionBeforeNegotiation(t *testing.T) {
	// Build the frame manually without compressing, to simulate a
	// compression-flagged frame arriving on an un-negotiated connection.
	raw := []byte{byte(ProtocolV4), byte(FlagCompression), 0, 0, byte(OpOptions), 0, 0, 0, 1, 1}
	_, _, err := DecodeFrame(raw, &CodecState{Negotiated: false})
	if err == nil {
		t.Fatalf("expected error for compressed frame before negotiation")
	}
}

func TestMaxStreamID(t *testing.T) {
	if got := MaxStreamID(ProtocolV4); got != 32767 {
		t.Errorf("MaxStreamID(v4) = %d, want 32767", got)
	}
}
