package cqldrv

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// writeJob is one pending frame write, queued to the connection's single
// writer goroutine so frame writes stay atomic at the frame granularity.
type writeJob struct {
	frame []byte
	done  chan error
}

// conn owns one TCP (or TLS) connection to a single node: the negotiated
// Startup handshake, a stream-id multiplexer, and a dedicated reader and
// writer goroutine. Request dispatch is promise-style: sendRequest hands
// the writer goroutine a frame and blocks on a channel that the reader
// goroutine closes once the matching response (matched by stream id)
// arrives.
type conn struct {
	node *Node
	cfg  *ClusterConfig

	raw     Conn
	version cqlproto.Version
	codec   cqlproto.CodecState

	streams *streamTable

	writeCh chan writeJob

	// eventHandler, when non-nil, receives decoded EVENT frames arriving
	// on stream 0; only the session's dedicated registration connection
	// sets this.
	eventHandler atomic.Value // func(*cqlproto.EventBody)

	dead   int32
	deadCh chan struct{}

	closeOnce sync.Once
}

// dial opens a transport to node, performs the Startup/Auth handshake, and starts the connection's reader and writer goroutines. On
// any failure the partially-opened transport is closed before returning.
func dial(ctx context.Context, dialer Dialer, node *Node, cfg *ClusterConfig) (*conn, error) {
	start := time.Now()
	raw, err := dialer(ctx, "tcp", node.Endpoint)
	since := time.Since(start)
	cfg.hooks().each(func(h Hook) {
		if h, ok := h.(NodeConnectHook); ok {
			h.OnConnect(node.Endpoint, since, raw, err)
		}
	})
	if err != nil {
		cfg.logger().Log(LogLevelWarn, "dial failed", "node", node.Endpoint, "err", err)
		return nil, err
	}

	c := &conn{
		node:    node,
		cfg:     cfg,
		raw:     raw,
		version: cfg.ProtocolVersion,
		streams: newStreamTable(cfg.ProtocolVersion),
		writeCh: make(chan writeJob, 16),
		deadCh:  make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		raw.Close()
		cfg.logger().Log(LogLevelDebug, "handshake failed", "node", node.Endpoint, "err", err)
		return nil, err
	}

	go c.writeLoop()
	go c.readLoop()

	cfg.logger().Log(LogLevelDebug, "connection ready", "node", node.Endpoint)
	return c, nil
}

// handshake drives Startup -> (Authenticate)* -> Ready on the raw
// connection, before the reader/writer goroutines and stream table take
// over for steady-state request dispatch. It runs synchronously on the
// dialing goroutine; no stream ids are allocated since the handshake
// always uses stream 0.
func (c *conn) handshake(ctx context.Context) error {
	options := map[string]string{"CQL_VERSION": "3.0.0"}
	var negotiatedCompressor cqlproto.Compressor
	if comp, ok := c.cfg.Compression.compressor(); ok {
		options["COMPRESSION"] = comp.Name()
		negotiatedCompressor = comp
	}

	w := &cqlproto.Writer{}
	cqlproto.EncodeStartup(w, &cqlproto.StartupBody{Options: options})
	if err := c.writeHandshakeFrame(ctx, cqlproto.OpStartup, w.Out); err != nil {
		return err
	}
	frame, err := c.readHandshakeFrame(ctx)
	if err != nil {
		return err
	}

	switch frame.Opcode {
	case cqlproto.OpReady:
		if negotiatedCompressor != nil {
			c.codec = cqlproto.CodecState{Negotiated: true, Compression: negotiatedCompressor}
		}
		return nil

	case cqlproto.OpAuthenticate:
		r := &cqlproto.Reader{Src: frame.Body}
		auth := cqlproto.DecodeAuthenticate(r)
		if r.Err != nil {
			return r.Err
		}
		if err := c.authenticate(ctx, auth); err != nil {
			return err
		}
		if negotiatedCompressor != nil {
			c.codec = cqlproto.CodecState{Negotiated: true, Compression: negotiatedCompressor}
		}
		return nil

	case cqlproto.OpError:
		eb := cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body})
		return newServerError(eb)

	default:
		return fmt.Errorf("cqldrv: unexpected handshake response opcode %v", frame.Opcode)
	}
}

func (c *conn) authenticate(ctx context.Context, auth *cqlproto.AuthenticateBody) error {
	if c.cfg.Authenticator == nil {
		return ErrNoAuthenticator
	}
	session, initial, err := c.cfg.Authenticator.Authenticate(ctx, c.node.Endpoint)
	if err != nil {
		return err
	}

	w := &cqlproto.Writer{}
	cqlproto.EncodeAuthResponse(w, &cqlproto.AuthResponseBody{Token: initial})
	if err := c.writeHandshakeFrame(ctx, cqlproto.OpAuthResponse, w.Out); err != nil {
		return err
	}

	for {
		frame, err := c.readHandshakeFrame(ctx)
		if err != nil {
			return err
		}
		switch frame.Opcode {
		case cqlproto.OpAuthSuccess:
			return nil
		case cqlproto.OpAuthChallenge:
			r := &cqlproto.Reader{Src: frame.Body}
			ch := cqlproto.DecodeAuthChallenge(r)
			if r.Err != nil {
				return r.Err
			}
			done, resp, err := session.Challenge(ch.Token)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			rw := &cqlproto.Writer{}
			cqlproto.EncodeAuthResponse(rw, &cqlproto.AuthResponseBody{Token: resp})
			if err := c.writeHandshakeFrame(ctx, cqlproto.OpAuthResponse, rw.Out); err != nil {
				return err
			}
		case cqlproto.OpError:
			eb := cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body})
			return newServerError(eb)
		default:
			return fmt.Errorf("cqldrv: unexpected auth response opcode %v", frame.Opcode)
		}
	}
}

func (c *conn) writeHandshakeFrame(ctx context.Context, opcode cqlproto.Opcode, body []byte) error {
	f := &cqlproto.Frame{
		Version:   c.version,
		Direction: cqlproto.DirRequest,
		Stream:    0,
		Opcode:    opcode,
		Body:      body,
	}
	out, err := cqlproto.EncodeFrame(nil, f, &c.codec)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		c.raw.SetWriteDeadline(dl)
	}
	_, err = c.raw.Write(out)
	c.raw.SetWriteDeadline(time.Time{})
	return err
}

func (c *conn) readHandshakeFrame(ctx context.Context) (*cqlproto.Frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.raw.SetReadDeadline(dl)
	}
	defer c.raw.SetReadDeadline(time.Time{})
	return readOneFrame(c.raw, &c.codec)
}

// readOneFrame reads exactly one frame header+body off r, blocking until
// the whole frame has arrived.
func readOneFrame(r io.Reader, codec *cqlproto.CodecState) (*cqlproto.Frame, error) {
	header := make([]byte, cqlproto.HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	bodyLen := int32(binary.BigEndian.Uint32(header[5:9]))
	if bodyLen < 0 {
		return nil, cqlproto.ErrMalformedLength
	}
	buf := make([]byte, cqlproto.HeaderLen+int(bodyLen))
	copy(buf, header)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, buf[cqlproto.HeaderLen:]); err != nil {
			return nil, err
		}
	}
	frame, _, err := cqlproto.DecodeFrame(buf, codec)
	return frame, err
}

// sendRequest acquires a stream id, writes opcode/body as a frame, and
// blocks until the matching response arrives or ctx is done. Cancelling
// ctx does not abort the request server-side; the driver just stops
// waiting and releases the stream id once the response eventually shows
// up (or the connection dies).
func (c *conn) sendRequest(ctx context.Context, opcode cqlproto.Opcode, flags cqlproto.Flags, body []byte) (*cqlproto.Frame, error) {
	type result struct {
		frame *cqlproto.Frame
		err   error
	}
	respCh := make(chan result, 1)

	id, ok := c.streams.acquire(streamEntry{
		kind:        sinkOneShot,
		submittedAt: time.Now(),
		deliver: func(f *cqlproto.Frame, err error) {
			respCh <- result{f, err}
		},
	})
	if !ok {
		return nil, ErrConnDead
	}

	f := &cqlproto.Frame{
		Version:   c.version,
		Direction: cqlproto.DirRequest,
		Flags:     flags,
		Stream:    id,
		Opcode:    opcode,
		Body:      body,
	}
	out, err := cqlproto.EncodeFrame(nil, f, &c.codec)
	if err != nil {
		c.streams.take(id)
		return nil, err
	}

	enqueued := time.Now()
	done := make(chan error, 1)
	select {
	case c.writeCh <- writeJob{frame: out, done: done}:
	case <-c.deadCh:
		c.streams.take(id)
		return nil, ErrConnDead
	case <-ctx.Done():
		c.streams.take(id)
		return nil, ctx.Err()
	}

	select {
	case err := <-done:
		if err != nil {
			c.streams.take(id)
			return nil, err
		}
	case <-c.deadCh:
		c.streams.take(id)
		return nil, ErrConnDead
	}
	c.fireWriteHook(opcode, len(out), enqueued)

	select {
	case r := <-respCh:
		return r.frame, r.err
	case <-c.deadCh:
		return nil, ErrConnDead
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) fireWriteHook(opcode cqlproto.Opcode, n int, enqueued time.Time) {
	c.cfg.hooks().each(func(h Hook) {
		if h, ok := h.(RequestWriteHook); ok {
			h.OnWrite(c.node.Endpoint, byte(opcode), n, time.Since(enqueued), 0, nil)
		}
	})
}

// registerEvents sends REGISTER for the given event types and installs fn
// as the handler for subsequent unsolicited EVENT frames (stream 0).
func (c *conn) registerEvents(ctx context.Context, types []cqlproto.EventType, fn func(*cqlproto.EventBody)) error {
	c.eventHandler.Store(fn)
	w := &cqlproto.Writer{}
	cqlproto.EncodeRegister(w, &cqlproto.RegisterBody{Events: types})
	frame, err := c.sendRequest(ctx, cqlproto.OpRegister, 0, w.Out)
	if err != nil {
		return err
	}
	if frame.Opcode == cqlproto.OpError {
		return newServerError(cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body}))
	}
	return nil
}

// writeLoop is the connection's single writer, serializing frame writes
// the way a single in-flight TCP write per connection requires.
func (c *conn) writeLoop() {
	for job := range c.writeCh {
		_, err := c.raw.Write(job.frame)
		job.done <- err
		if err != nil {
			c.die(err)
			return
		}
	}
}

// readLoop is the connection's single reader, dispatching each decoded
// frame to the stream-table entry waiting on its stream id, or to
// eventHandler for unsolicited stream-0 EVENT frames.
func (c *conn) readLoop() {
	defer c.die(ErrConnDead)
	for {
		frame, err := readOneFrame(c.raw, &c.codec)
		if err != nil {
			return
		}
		if frame.Stream == 0 && frame.Opcode == cqlproto.OpEvent {
			if fn, ok := c.eventHandler.Load().(func(*cqlproto.EventBody)); ok && fn != nil {
				r := &cqlproto.Reader{Src: frame.Body}
				ev := cqlproto.DecodeEvent(r)
				if r.Err == nil {
					fn(ev)
				}
			}
			continue
		}
		entry, ok := c.streams.take(frame.Stream)
		if !ok {
			continue
		}
		entry.deliver(frame, nil)
	}
}

// die marks the connection permanently dead, fails every outstanding
// request, and closes the underlying transport. Safe to call more than
// once or concurrently; only the first call has effect.
func (c *conn) die(cause error) {
	if !atomic.CompareAndSwapInt32(&c.dead, 0, 1) {
		return
	}
	c.closeOnce.Do(func() {
		close(c.deadCh)
		c.raw.Close()
		c.cfg.hooks().each(func(h Hook) {
			if h, ok := h.(NodeDisconnectHook); ok {
				h.OnDisconnect(c.node.Endpoint, c.raw)
			}
		})
	})
	for _, e := range c.streams.drain() {
		e.deliver(nil, cause)
	}
	c.cfg.logger().Log(LogLevelDebug, "connection died", "node", c.node.Endpoint, "err", cause)
}

// isDead reports whether the connection has been marked dead.
func (c *conn) isDead() bool {
	return atomic.LoadInt32(&c.dead) == 1
}

// close initiates a graceful shutdown of the connection from the owning
// pool; equivalent to die but without an associated error.
func (c *conn) close() {
	c.die(ErrConnDead)
}
