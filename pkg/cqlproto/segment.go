package cqlproto

import (
	"encoding/binary"
	"hash/crc32"
)

// Protocol v5 wraps one or more frames in a self-contained segment before
// they hit the wire: a 6-byte header (17-bit payload length, 1-bit
// self-contained flag, packed little-endian) protected by a CRC24 check,
// followed by the (optionally compressed) payload and a CRC32 check over
// the uncompressed payload. This driver implements the uncompressed
// variant, which the protocol requires at minimum for v5 support.
//
// CRC24/CRC32 have no suitable third-party library (the v5 segment
// checksum is Cassandra-specific bit-level math no general-purpose
// package models); CRC24 is hand-rolled here and CRC32 uses the standard
// library's IEEE table — the same polynomial GZIP uses, and the one
// Cassandra's v5 framing actually specifies for the payload checksum.
const (
	segmentHeaderLen      = 6
	segmentMaxPayloadLen  = 1 << 17
	segmentSelfContained  = 1 << 17
)

var crc32Table = crc32.IEEETable

// crc24Init is the initial CRC24/Cassandra register value; poly 0x1864CFB,
// matching the CRC used by Cassandra's own v5 segment codec.
const (
	crc24Init = 0x875060
	crc24Poly = 0x1864CFB
)

func crc24(data []byte) uint32 {
	crc := uint32(crc24Init)
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Poly
			}
		}
	}
	return crc & 0xFFFFFF
}

// Segment is one self-contained v5 envelope: Payload holds one or more
// concatenated encoded Frames (uncompressed variant: exactly the frame
// bytes, never split across segments by this implementation).
type Segment struct {
	Payload       []byte
	SelfContained bool
}

// EncodeSegment appends the v5 segment framing for seg to out.
func EncodeSegment(out []byte, seg *Segment) ([]byte, error) {
	if len(seg.Payload) > segmentMaxPayloadLen {
		return nil, protoErrf("segment payload %d exceeds max %d", len(seg.Payload), segmentMaxPayloadLen)
	}
	header := uint32(len(seg.Payload))
	if seg.SelfContained {
		header |= segmentSelfContained
	}
	var headerBuf [3]byte
	headerBuf[0] = byte(header)
	headerBuf[1] = byte(header >> 8)
	headerBuf[2] = byte(header >> 16)

	crc := crc24(headerBuf[:])
	var crcBuf [3]byte
	crcBuf[0] = byte(crc)
	crcBuf[1] = byte(crc >> 8)
	crcBuf[2] = byte(crc >> 16)

	out = append(out, headerBuf[:]...)
	out = append(out, crcBuf[:]...)
	out = append(out, seg.Payload...)

	payloadCRC := crc32.Checksum(seg.Payload, crc32Table)
	var payloadCRCBuf [4]byte
	binary.LittleEndian.PutUint32(payloadCRCBuf[:], payloadCRC)
	out = append(out, payloadCRCBuf[:]...)
	return out, nil
}

// DecodeSegment parses the first complete segment from in, returning the
// remaining bytes. Returns ErrIncomplete if in is too short.
func DecodeSegment(in []byte) (*Segment, []byte, error) {
	if len(in) < segmentHeaderLen {
		return nil, in, ErrIncomplete
	}
	headerBuf := in[:3]
	gotHeaderCRC := uint32(in[3]) | uint32(in[4])<<8 | uint32(in[5])<<16
	wantHeaderCRC := crc24(headerBuf)
	if gotHeaderCRC != wantHeaderCRC {
		return nil, in, protoErrf("segment header CRC24 mismatch")
	}

	header := uint32(headerBuf[0]) | uint32(headerBuf[1])<<8 | uint32(headerBuf[2])<<16
	selfContained := header&segmentSelfContained != 0
	payloadLen := int(header &^ segmentSelfContained)

	total := segmentHeaderLen + payloadLen + 4
	if len(in) < total {
		return nil, in, ErrIncomplete
	}
	payload := make([]byte, payloadLen)
	copy(payload, in[segmentHeaderLen:segmentHeaderLen+payloadLen])

	gotPayloadCRC := binary.LittleEndian.Uint32(in[segmentHeaderLen+payloadLen : total])
	wantPayloadCRC := crc32.Checksum(payload, crc32Table)
	if gotPayloadCRC != wantPayloadCRC {
		return nil, in, protoErrf("segment payload CRC32 mismatch")
	}

	return &Segment{Payload: payload, SelfContained: selfContained}, in[total:], nil
}
