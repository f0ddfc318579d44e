package cqldrv

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// serverFrame is one fake-server reply: respond to the first request read
// off srv with the given opcode/body. Always invoked via `go serverFrame`,
// so it never touches *testing.T; a failure here just starves the waiting
// assertion until its own context deadline reports it.
func serverFrame(t *testing.T, srv net.Conn, opcode cqlproto.Opcode, body []byte) {
	var cs cqlproto.CodecState
	req, err := readOneFrame(srv, &cs)
	if err != nil {
		return
	}
	f := &cqlproto.Frame{
		Version:   cqlproto.ProtocolV4,
		Direction: cqlproto.DirResponse,
		Stream:    req.Stream,
		Opcode:    opcode,
		Body:      body,
	}
	out, err := cqlproto.EncodeFrame(nil, f, &cs)
	if err != nil {
		return
	}
	srv.Write(out)
}

// liveConnOverPipe builds a *conn wired to net.Pipe with its writer/reader
// goroutines already running, skipping the handshake (the pipeline has no
// need to re-exercise it; conn_test.go already does).
func liveConnOverPipe(node *Node, cfg *ClusterConfig) (*conn, net.Conn) {
	clientSide, serverSide := net.Pipe()
	c := &conn{
		node:    node,
		cfg:     cfg,
		raw:     clientSide,
		version: cfg.ProtocolVersion,
		streams: newStreamTable(cfg.ProtocolVersion),
		writeCh: make(chan writeJob, 4),
		deadCh:  make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, serverSide
}

func voidResultBody() []byte {
	w := &cqlproto.Writer{}
	w.Int(int32(cqlproto.ResultVoid))
	return w.Out
}

func unavailableErrorBody() []byte {
	w := &cqlproto.Writer{}
	w.Int(int32(cqlproto.ErrUnavailable))
	w.String("not enough replicas")
	w.Consistency(cqlproto.ConsistencyAll)
	w.Int(3)
	w.Int(1)
	return w.Out
}

func newTestSession(cfg *ClusterConfig, nodes []*Node) *Session {
	sess := &Session{
		cfg:      cfg,
		cluster:  newClusterState(cfg.ProtocolVersion),
		conns:    newConnManager(cfg, nil),
		prepared: newPreparedCache(),
	}
	for _, n := range nodes {
		sess.cluster.nodes[n.Endpoint] = n
	}
	return sess
}

func installConn(sess *Session, node *Node, c *conn) {
	p := &nodePool{node: node, cfg: sess.cfg, closeCh: make(chan struct{})}
	p.addConn(c)
	sess.conns.mu.Lock()
	sess.conns.pools[node.Endpoint] = p
	sess.conns.mu.Unlock()
}

func TestSession_Query_Success(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042")
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a})

	c, srv := liveConnOverPipe(a, cfg)
	defer srv.Close()
	installConn(sess, a, c)

	go serverFrame(t, srv, cqlproto.OpResult, voidResultBody())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := sess.Query(ctx, "INSERT INTO t (a) VALUES (1)", true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != cqlproto.ResultVoid {
		t.Fatalf("result.Kind = %v, want ResultVoid", result.Kind)
	}
}

func TestSession_Query_RetriesNextNodeOnUnavailable(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042", "b:9042")
	cfg.LoadBalancer = NewRoundRobinPolicy()
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	b := newNode("b:9042", "b:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a, b})

	ca, srvA := liveConnOverPipe(a, cfg)
	defer srvA.Close()
	installConn(sess, a, ca)

	cb, srvB := liveConnOverPipe(b, cfg)
	defer srvB.Close()
	installConn(sess, b, cb)

	go serverFrame(t, srvA, cqlproto.OpError, unavailableErrorBody())
	go serverFrame(t, srvB, cqlproto.OpResult, voidResultBody())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := sess.Query(ctx, "SELECT * FROM t", true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != cqlproto.ResultVoid {
		t.Fatalf("result.Kind = %v, want ResultVoid", result.Kind)
	}
}

// raceServer reads one request off srv and replies with a void result.
// Whichever of a set of raceServers is first to actually receive a
// request claims slowFlag and sleeps before replying, so the node the
// load balancer happens to try first (its order depends on map
// iteration order in ClusterState.Nodes and isn't fixed) is always the
// one the speculative timer outraces, regardless of which physical
// node that turns out to be.
func raceServer(t *testing.T, srv net.Conn, slowFlag *int32, slow time.Duration) {
	var cs cqlproto.CodecState
	req, err := readOneFrame(srv, &cs)
	if err != nil {
		return
	}
	if atomic.CompareAndSwapInt32(slowFlag, 0, 1) {
		time.Sleep(slow)
	}
	f := &cqlproto.Frame{
		Version:   cqlproto.ProtocolV4,
		Direction: cqlproto.DirResponse,
		Stream:    req.Stream,
		Opcode:    cqlproto.OpResult,
		Body:      voidResultBody(),
	}
	out, err := cqlproto.EncodeFrame(nil, f, &cs)
	if err != nil {
		return
	}
	srv.Write(out)
}

func TestSession_Query_SpeculativeExecution_RacesSecondNode(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042", "b:9042")
	cfg.LoadBalancer = NewRoundRobinPolicy()
	cfg.Speculative = NewConstantSpeculativeExecution(20*time.Millisecond, 1)
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	b := newNode("b:9042", "b:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a, b})

	ca, srvA := liveConnOverPipe(a, cfg)
	defer srvA.Close()
	installConn(sess, a, ca)

	cb, srvB := liveConnOverPipe(b, cfg)
	defer srvB.Close()
	installConn(sess, b, cb)

	// Whichever node the plan tries first answers slowly (longer than
	// the 20ms speculative delay), forcing the second attempt to launch
	// against the other node and win the race. The slow attempt's reply
	// lands afterward, once execute() has already returned, and must not
	// leak the goroutine that's waiting to send it.
	var slowClaimed int32
	go raceServer(t, srvA, &slowClaimed, 200*time.Millisecond)
	go raceServer(t, srvB, &slowClaimed, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := sess.Query(ctx, "SELECT * FROM t", true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != cqlproto.ResultVoid {
		t.Fatalf("result.Kind = %v, want ResultVoid", result.Kind)
	}

	// Give the slow attempt's reply time to land; if the pipeline sized
	// resultCh too small this send would block forever instead.
	time.Sleep(300 * time.Millisecond)
}

func TestSession_Query_NonIdempotent_NoSpeculativeRace(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042", "b:9042")
	cfg.LoadBalancer = NewRoundRobinPolicy()
	cfg.Speculative = NewConstantSpeculativeExecution(20*time.Millisecond, 1)
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	b := newNode("b:9042", "b:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a, b})

	ca, srvA := liveConnOverPipe(a, cfg)
	defer srvA.Close()
	installConn(sess, a, ca)

	cb, srvB := liveConnOverPipe(b, cfg)
	defer srvB.Close()
	installConn(sess, b, cb)

	// Whichever node the plan tries first (order isn't fixed) must be
	// the only one ever contacted: a non-idempotent statement gets no
	// speculative decision, so both servers stand ready but at most one
	// should ever see a request.
	var reqCount int32
	count := func(srv net.Conn) {
		var cs cqlproto.CodecState
		req, err := readOneFrame(srv, &cs)
		if err != nil {
			return
		}
		atomic.AddInt32(&reqCount, 1)
		f := &cqlproto.Frame{
			Version:   cqlproto.ProtocolV4,
			Direction: cqlproto.DirResponse,
			Stream:    req.Stream,
			Opcode:    cqlproto.OpResult,
			Body:      voidResultBody(),
		}
		out, err := cqlproto.EncodeFrame(nil, f, &cs)
		if err != nil {
			return
		}
		srv.Write(out)
	}
	go count(srvA)
	go count(srvB)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	result, err := sess.Query(ctx, "INSERT INTO t (a) VALUES (1)", false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != cqlproto.ResultVoid {
		t.Fatalf("result.Kind = %v, want ResultVoid", result.Kind)
	}

	// Give a would-be speculative attempt time to fire if the
	// idempotency gate were broken.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&reqCount); n != 1 {
		t.Fatalf("total requests received across both nodes = %d, want exactly 1 (no speculative race for a non-idempotent statement)", n)
	}
}

func TestSession_Query_NoHostAvailable(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042")
	sess := newTestSession(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sess.Query(ctx, "SELECT * FROM t", true)
	if _, ok := err.(*NoHostAvailableError); !ok {
		t.Fatalf("Query with no nodes: err = %v (%T), want *NoHostAvailableError", err, err)
	}
}
