// Package cqlproto implements the Cassandra native protocol wire codec:
// frame envelopes, primitive types, and the typed column-value union.
package cqlproto

import (
	"encoding/binary"
	"errors"
	"math"
	"net"
)

// ErrNotEnoughData is returned by Reader methods when the source buffer is
// shorter than the value being decoded requires. Decoding never advances
// past a short read; the caller should treat this as "frame incomplete".
var ErrNotEnoughData = errors.New("cqlproto: not enough data to decode value")

// Reader reads primitive Cassandra protocol types from Src, advancing Src
// as it goes. Once a read fails, every subsequent read returns a zero value
// and the first error is sticky in Err.
type Reader struct {
	Src []byte
	Err error
}

func (r *Reader) fail(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// Complete returns the sticky error, if any, and is the final check a
// caller should make after a sequence of reads.
func (r *Reader) Complete() error { return r.Err }

func (r *Reader) take(n int) []byte {
	if r.Err != nil {
		return nil
	}
	if len(r.Src) < n {
		r.fail(ErrNotEnoughData)
		return nil
	}
	b := r.Src[:n]
	r.Src = r.Src[n:]
	return b
}

// Byte reads a single unsigned byte ([byte] in the protocol spec).
func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Short reads an unsigned 16-bit integer ([short]).
func (r *Reader) Short() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Int reads a signed 32-bit integer ([int]).
func (r *Reader) Int() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// Long reads a signed 64-bit integer ([long]).
func (r *Reader) Long() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// Float32 reads an IEEE754 single-precision float.
func (r *Reader) Float32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// Float64 reads an IEEE754 double-precision float.
func (r *Reader) Float64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// ShortBytes reads a [short] length-prefixed byte slice ([short bytes]).
func (r *Reader) ShortBytes() []byte {
	n := int(r.Short())
	if r.Err != nil {
		return nil
	}
	b := r.take(n)
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String reads a [short]-length-prefixed UTF-8 string ([string]).
func (r *Reader) String() string {
	return string(r.ShortBytes())
}

// LongString reads an [int]-length-prefixed UTF-8 string ([long string]).
func (r *Reader) LongString() string {
	n := int(r.Int())
	if r.Err != nil || n < 0 {
		return ""
	}
	b := r.take(n)
	return string(b)
}

// Bytes reads an [int]-length-prefixed byte slice ([bytes]). A length of -1
// denotes NULL and is returned as a nil slice with ok=false.
func (r *Reader) Bytes() (b []byte, ok bool) {
	n := r.Int()
	if r.Err != nil {
		return nil, false
	}
	if n < 0 {
		return nil, false
	}
	raw := r.take(int(n))
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true
}

// Value reads an [int]-length-prefixed byte slice used in the value
// encoding of query parameters and column values, distinguishing NULL
// (length -1) from NOT SET (length -2, v4+ only).
func (r *Reader) Value() (b []byte, null, notSet bool) {
	n := r.Int()
	if r.Err != nil {
		return nil, false, false
	}
	switch {
	case n == -1:
		return nil, true, false
	case n == -2:
		return nil, false, true
	case n < -2:
		r.fail(ErrMalformedLength)
		return nil, false, false
	}
	raw := r.take(int(n))
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, false, false
}

// StringList reads a [short]-length-prefixed list of [string]s.
func (r *Reader) StringList() []string {
	n := int(r.Short())
	if r.Err != nil {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.String()
	}
	return out
}

// StringMap reads a [string map]: [short] n, then n {[string],[string]}.
func (r *Reader) StringMap() map[string]string {
	n := int(r.Short())
	if r.Err != nil {
		return nil
	}
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k := r.String()
		v := r.String()
		out[k] = v
	}
	return out
}

// StringMultiMap reads a [string multimap]: [short] n, then n
// {[string],[string list]}.
func (r *Reader) StringMultiMap() map[string][]string {
	n := int(r.Short())
	if r.Err != nil {
		return nil
	}
	out := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		k := r.String()
		v := r.StringList()
		out[k] = v
	}
	return out
}

// Inet reads an [inet]: [byte] length (4 or 16), then that many address
// bytes (no port).
func (r *Reader) Inet() net.IP {
	n := int(r.Byte())
	if r.Err != nil {
		return nil
	}
	if n != 4 && n != 16 {
		r.fail(ErrMalformedLength)
		return nil
	}
	b := r.take(n)
	ip := make(net.IP, len(b))
	copy(ip, b)
	return ip
}

// InetAddr reads an [inetaddr]: [byte] length, address bytes, [int] port.
func (r *Reader) InetAddr() (net.IP, int32) {
	ip := r.Inet()
	port := r.Int()
	return ip, port
}

// Consistency reads a [short] consistency level.
func (r *Reader) Consistency() Consistency {
	return Consistency(r.Short())
}

// UUIDBytes reads the 16 raw bytes of a [uuid].
func (r *Reader) UUIDBytes() [16]byte {
	var out [16]byte
	b := r.take(16)
	copy(out[:], b)
	return out
}

// Writer appends primitive Cassandra protocol types to an in-progress
// buffer. Unlike Reader, writes never fail.
type Writer struct {
	Out []byte
}

func (w *Writer) Byte(b byte) { w.Out = append(w.Out, b) }

func (w *Writer) Short(v uint16) {
	w.Out = append(w.Out, byte(v>>8), byte(v))
}

func (w *Writer) Int(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.Out = append(w.Out, b[:]...)
}

func (w *Writer) Long(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.Out = append(w.Out, b[:]...)
}

func (w *Writer) Float32(v float32) {
	w.Int(int32(math.Float32bits(v)))
}

func (w *Writer) Float64(v float64) {
	w.Long(int64(math.Float64bits(v)))
}

func (w *Writer) ShortBytes(b []byte) {
	w.Short(uint16(len(b)))
	w.Out = append(w.Out, b...)
}

func (w *Writer) String(s string) {
	w.ShortBytes([]byte(s))
}

func (w *Writer) LongString(s string) {
	w.Int(int32(len(s)))
	w.Out = append(w.Out, s...)
}

// Bytes appends an [bytes] field; pass ok=false to encode NULL (length -1).
func (w *Writer) Bytes(b []byte, ok bool) {
	if !ok {
		w.Int(-1)
		return
	}
	w.Int(int32(len(b)))
	w.Out = append(w.Out, b...)
}

// Value appends a query/column [value]: NULL is length -1, NOT SET is -2.
func (w *Writer) Value(b []byte, null, notSet bool) {
	switch {
	case null:
		w.Int(-1)
	case notSet:
		w.Int(-2)
	default:
		w.Int(int32(len(b)))
		w.Out = append(w.Out, b...)
	}
}

func (w *Writer) StringList(ss []string) {
	w.Short(uint16(len(ss)))
	for _, s := range ss {
		w.String(s)
	}
}

func (w *Writer) StringMap(m map[string]string) {
	w.Short(uint16(len(m)))
	for k, v := range m {
		w.String(k)
		w.String(v)
	}
}

func (w *Writer) StringMultiMap(m map[string][]string) {
	w.Short(uint16(len(m)))
	for k, v := range m {
		w.String(k)
		w.StringList(v)
	}
}

func (w *Writer) Inet(ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		w.Byte(4)
		w.Out = append(w.Out, v4...)
		return
	}
	w.Byte(16)
	w.Out = append(w.Out, ip.To16()...)
}

func (w *Writer) InetAddr(ip net.IP, port int32) {
	w.Inet(ip)
	w.Int(port)
}

func (w *Writer) Consistency(c Consistency) {
	w.Short(uint16(c))
}

func (w *Writer) UUIDBytes(b [16]byte) {
	w.Out = append(w.Out, b[:]...)
}

// ErrMalformedLength is a ProtocolError-class failure: a length prefix that
// cannot correspond to any valid on-wire encoding (e.g. a value length below
// -2, or an inet length other than 4 or 16).
var ErrMalformedLength = errors.New("cqlproto: malformed length prefix")
