package cqldrv

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

func TestNormalizeEndpoint(t *testing.T) {
	if got := normalizeEndpoint("host", 9042); got != "host:9042" {
		t.Fatalf("normalizeEndpoint(host) = %q, want host:9042", got)
	}
	if got := normalizeEndpoint("host:9999", 9042); got != "host:9999" {
		t.Fatalf("normalizeEndpoint(host:9999) = %q, want host:9999 unchanged", got)
	}
}

func TestSession_PickEventNode(t *testing.T) {
	sess := &Session{cluster: newClusterState(cqlproto.ProtocolV4)}
	if got := sess.pickEventNode(); got != nil {
		t.Fatalf("pickEventNode with no nodes = %v, want nil", got)
	}

	down := newNode("down:9042", "down:9042", "dc1", "r1", nil)
	down.setStatus(NodeDown)
	sess.cluster.nodes[down.Endpoint] = down
	if got := sess.pickEventNode(); got != down {
		t.Fatalf("pickEventNode with only a down node should still return it as a last resort, got %v", got)
	}

	up := newNode("up:9042", "up:9042", "dc1", "r1", nil)
	sess.cluster.nodes[up.Endpoint] = up
	if got := sess.pickEventNode(); got != up {
		t.Fatalf("pickEventNode = %v, want the up node", got)
	}
}

func TestSession_RefreshConn_PrefersAnyLiveConnection(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042", "b:9042")
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	b := newNode("b:9042", "b:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a, b})

	// Neither node has a pool yet: refreshConn must not panic, just report
	// no live connection.
	if got := sess.refreshConn(context.Background()); got != nil {
		t.Fatalf("refreshConn with no pools = %v, want nil", got)
	}

	c := fakeConn(b, 0)
	installConn(sess, b, c)
	if got := sess.refreshConn(context.Background()); got != c {
		t.Fatalf("refreshConn = %v, want b's connection", got)
	}
}

func TestSession_Bootstrap_Success(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	cfg := DefaultClusterConfig("seed:9042")
	cfg.ConnectTimeout = 2 * time.Second
	sess := &Session{
		cfg:    cfg,
		dialer: func(ctx context.Context, network, addr string) (Conn, error) { return clientSide, nil },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var cs cqlproto.CodecState
		req, err := readOneFrame(serverSide, &cs)
		if err != nil || req.Opcode != cqlproto.OpStartup {
			return
		}
		f := &cqlproto.Frame{Version: cfg.ProtocolVersion, Direction: cqlproto.DirResponse, Stream: req.Stream, Opcode: cqlproto.OpReady}
		out, err := cqlproto.EncodeFrame(nil, f, &cs)
		if err != nil {
			return
		}
		serverSide.Write(out)
	}()

	c, err := sess.bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer c.close()
	<-done
}

func TestSession_Bootstrap_AllHostsUnreachable(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042", "b:9042")
	sess := &Session{
		cfg:    cfg,
		dialer: func(ctx context.Context, network, addr string) (Conn, error) { return nil, errors.New("refused") },
	}
	_, err := sess.bootstrap(context.Background())
	nhe, ok := err.(*NoHostAvailableError)
	if !ok {
		t.Fatalf("bootstrap err = %v (%T), want *NoHostAvailableError", err, err)
	}
	if len(nhe.Attempts) != 2 {
		t.Fatalf("bootstrap attempts = %d, want 2", len(nhe.Attempts))
	}
}

func TestSession_Close_ClosesPoolsAndEventBroker(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042")
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a})
	sess.events = newEventBroker(cfg, nil, func() *Node { return nil })

	c := fakeConn(a, 0)
	installConn(sess, a, c)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.isDead() {
		t.Fatalf("Close() did not close pooled connections")
	}
	if !sess.events.isClosed() {
		t.Fatalf("Close() did not close the event broker")
	}
}
