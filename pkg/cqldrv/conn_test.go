package cqldrv

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// writeFrame serializes f onto w using an unnegotiated CodecState, the
// shape every handshake frame takes before compression is agreed on.
func writeFrame(t *testing.T, w net.Conn, f *cqlproto.Frame) {
	t.Helper()
	var cs cqlproto.CodecState
	out, err := cqlproto.EncodeFrame(nil, f, &cs)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := w.Write(out); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readFrame reads one frame off r and returns it decoded.
func readFrame(t *testing.T, r net.Conn) *cqlproto.Frame {
	t.Helper()
	var cs cqlproto.CodecState
	f, err := readOneFrame(r, &cs)
	if err != nil {
		t.Fatalf("readOneFrame: %v", err)
	}
	return f
}

func dialOverPipe(t *testing.T) (*conn, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	cfg := DefaultClusterConfig("test:9042")
	cfg.ConnectTimeout = 2 * time.Second

	dialer := func(ctx context.Context, network, addr string) (Conn, error) {
		return clientSide, nil
	}

	done := make(chan struct{})
	var c *conn
	var dialErr error
	go func() {
		defer close(done)
		c, dialErr = dial(context.Background(), dialer, newNode("test:9042", "test:9042", "", "", nil), cfg)
	}()

	startup := readFrame(t, serverSide)
	if startup.Opcode != cqlproto.OpStartup {
		t.Fatalf("first frame opcode = %v, want OpStartup", startup.Opcode)
	}
	writeFrame(t, serverSide, &cqlproto.Frame{
		Version:   cfg.ProtocolVersion,
		Direction: cqlproto.DirResponse,
		Stream:    startup.Stream,
		Opcode:    cqlproto.OpReady,
	})

	<-done
	if dialErr != nil {
		t.Fatalf("dial: %v", dialErr)
	}
	return c, serverSide
}

func TestConn_HandshakeReachesReady(t *testing.T) {
	c, srv := dialOverPipe(t)
	defer c.close()
	defer srv.Close()

	if c.isDead() {
		t.Fatalf("connection marked dead right after a clean handshake")
	}
}

func TestConn_SendRequestMatchesResponseByStream(t *testing.T) {
	c, srv := dialOverPipe(t)
	defer c.close()
	defer srv.Close()

	// Runs on its own goroutine, so it must not call t.Fatalf; a failure
	// here just starves the sendRequest below until its context deadline,
	// which reports the failure on the test's own goroutine instead.
	go func() {
		var cs cqlproto.CodecState
		req, err := readOneFrame(srv, &cs)
		if err != nil || req.Opcode != cqlproto.OpOptions {
			return
		}
		body := []byte{0, 0, 0, 0} // empty string-multimap count
		f := &cqlproto.Frame{
			Version:   c.version,
			Direction: cqlproto.DirResponse,
			Stream:    req.Stream,
			Opcode:    cqlproto.OpSupported,
			Body:      body,
		}
		out, err := cqlproto.EncodeFrame(nil, f, &cs)
		if err != nil {
			return
		}
		srv.Write(out)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := c.sendRequest(ctx, cqlproto.OpOptions, 0, nil)
	if err != nil {
		t.Fatalf("sendRequest: %v", err)
	}
	if frame.Opcode != cqlproto.OpSupported {
		t.Fatalf("response opcode = %v, want OpSupported", frame.Opcode)
	}
}

func TestConn_DieFailsOutstandingRequests(t *testing.T) {
	c, srv := dialOverPipe(t)
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.sendRequest(context.Background(), cqlproto.OpOptions, 0, nil)
		errCh <- err
	}()

	// Give sendRequest time to register its stream-table entry before we
	// kill the connection out from under it.
	time.Sleep(50 * time.Millisecond)
	c.die(ErrConnDead)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("sendRequest returned nil error after die()")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sendRequest never unblocked after die()")
	}
}

func TestReadOneFrame_RejectsNegativeLength(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	go func() {
		header := make([]byte, cqlproto.HeaderLen)
		header[0] = byte(cqlproto.ProtocolV4)
		binary.BigEndian.PutUint32(header[5:9], 0xFFFFFFFF) // -1 as int32
		serverSide.Write(header)
	}()

	var cs cqlproto.CodecState
	if _, err := readOneFrame(clientSide, &cs); err == nil {
		t.Fatalf("readOneFrame accepted a negative body length")
	}
}
