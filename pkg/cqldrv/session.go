package cqldrv

import (
	"context"
	"math/rand"
	"net"
	"strconv"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// Session is the driver's public entry point: one Session per application,
// backed by pooled connections to every node in the cluster, a shared
// prepared-statement cache, and a dedicated event-subscription connection.
type Session struct {
	cfg     *ClusterConfig
	dialer  Dialer
	cluster *ClusterState
	conns   *connManager
	prepared *preparedCache
	events  *eventBroker
}

// NewSession resolves cfg's contact points, bootstraps cluster metadata
// from the first one that answers, and starts per-node connection pools
// and event subscription. The returned Session is ready for Query/Execute
// calls; it keeps trying to connect to nodes that are initially
// unreachable in the background.
func NewSession(ctx context.Context, cfg *ClusterConfig) (*Session, error) {
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = 9042
	}
	dialer := Dialer(DialTCP)
	if cfg.TLSConfig != nil {
		dialer = NewTLSDialer(cfg.TLSConfig)
	}

	sess := &Session{
		cfg:      cfg,
		dialer:   dialer,
		cluster:  newClusterState(cfg.ProtocolVersion),
		conns:    newConnManager(cfg, dialer),
		prepared: newPreparedCache(),
	}

	bootstrapConn, err := sess.bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.cluster.refresh(ctx, bootstrapConn, cfg.DefaultPort); err != nil {
		bootstrapConn.close()
		return nil, err
	}
	bootstrapConn.close()

	for _, n := range sess.cluster.Nodes() {
		sess.conns.ensure(n)
	}

	sess.events = newEventBroker(cfg, dialer, sess.pickEventNode)
	sess.events.start(ctx)

	go sess.watchTopology(ctx)

	return sess, nil
}

// bootstrap dials contact points in random order until one succeeds,
// returning the live connection used to reach it (its *Node is transient;
// ClusterState.refresh replaces it with the authoritative node list).
func (sess *Session) bootstrap(ctx context.Context) (*conn, error) {
	hosts := append([]string(nil), sess.cfg.Hosts...)
	rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })

	var attempts []NodeAttempt
	for _, h := range hosts {
		endpoint := normalizeEndpoint(h, sess.cfg.DefaultPort)
		node := newNode(endpoint, endpoint, "", "", nil)
		c, err := dial(ctx, sess.dialer, node, sess.cfg)
		if err != nil {
			attempts = append(attempts, NodeAttempt{Node: endpoint, Err: err})
			continue
		}
		return c, nil
	}
	return nil, &NoHostAvailableError{Attempts: attempts}
}

func normalizeEndpoint(host string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return host + ":" + strconv.Itoa(defaultPort)
}

// watchTopology keeps ClusterState (and thus Ring and the LoadBalancer's
// view of nodes) current by listening to the event broker's own feed,
// independent of any caller-facing Listen subscription.
func (sess *Session) watchTopology(ctx context.Context) {
	raw, cancel := sess.events.subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			sess.cluster.applyEvent(ctx, ev, sess.refreshConn, sess.cfg.DefaultPort)
		}
	}
}

// refreshConn returns a live connection suitable for a topology refresh,
// preferring any currently pooled node.
func (sess *Session) refreshConn(ctx context.Context) *conn {
	for _, n := range sess.cluster.Nodes() {
		if c, ok := sess.conns.pick(n); ok {
			return c
		}
	}
	return nil
}

func (sess *Session) pickEventNode() *Node {
	nodes := sess.cluster.Nodes()
	for _, n := range nodes {
		if n.IsUp() {
			return n
		}
	}
	if len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// Query executes a plain CQL statement with positional values.
func (sess *Session) Query(ctx context.Context, query string, idempotent bool, values ...[]byte) (*cqlproto.ResultBody, error) {
	stmt := &Statement{Query: query, PositionalValues: values, Idempotent: idempotent}
	return sess.execute(ctx, stmt)
}

// Prepare prepares query on one node and caches the result keyed by
// (keyspace, query text); subsequent Execute calls for the same text reuse
// the cached PreparedStatement and transparently re-prepare on any node
// that returns UNPREPARED.
func (sess *Session) Prepare(ctx context.Context, keyspace, query string) (*PreparedStatement, error) {
	if ps, ok := sess.prepared.get(keyspace, query); ok {
		return ps, nil
	}
	node := sess.pickEventNode()
	if node == nil {
		return nil, &NoHostAvailableError{}
	}
	c, ok := sess.conns.pick(node)
	if !ok {
		return nil, ErrConnDead
	}
	ps, err := prepareOn(ctx, c, sess.cfg.ProtocolVersion, keyspace, query)
	if err != nil {
		return nil, err
	}
	sess.prepared.put(ps)
	return ps, nil
}

// Execute runs a previously prepared statement with positional values.
func (sess *Session) Execute(ctx context.Context, ps *PreparedStatement, idempotent bool, values ...[]byte) (*cqlproto.ResultBody, error) {
	stmt := &Statement{
		Prepared:         ps,
		PositionalValues: values,
		Idempotent:       idempotent,
		RoutingKey:       ps.RoutingKey(values),
		Keyspace:         ps.Keyspace,
	}
	return sess.execute(ctx, stmt)
}

// Iter runs stmt and returns a lazily-paging row iterator instead of a
// single ResultBody.
func (sess *Session) Iter(ctx context.Context, stmt *Statement) *Iter {
	if stmt.PageSize == 0 {
		stmt.PageSize = 5000
	}
	return newIter(ctx, sess, stmt)
}

// Batch executes a batch of statements, all plain-query or a mix with
// prepared ids, as a single BATCH request against one node chosen by the
// configured LoadBalancer.
func (sess *Session) Batch(ctx context.Context, batchType cqlproto.BatchType, stmts []cqlproto.BatchStatement, consistency cqlproto.Consistency) error {
	v := sess.cfg.ProtocolVersion
	if consistency == cqlproto.ConsistencyAny {
		consistency = sess.cfg.DefaultConsistency
	}
	body := &cqlproto.BatchBody{Type: batchType, Statements: stmts, Consistency: consistency}

	plan := sess.cfg.LoadBalancer.Plan(sess.cluster.Nodes(), RoutingHint{})
	var attempts []NodeAttempt
	for {
		node, ok := plan.Next()
		if !ok {
			return &NoHostAvailableError{Attempts: attempts}
		}
		c, ok := sess.conns.pick(node)
		if !ok {
			attempts = append(attempts, NodeAttempt{Node: node.Endpoint, Err: ErrConnDead})
			continue
		}
		w := &cqlproto.Writer{}
		cqlproto.EncodeBatch(w, body, v)
		frame, err := c.sendRequest(ctx, cqlproto.OpBatch, 0, w.Out)
		if err != nil {
			attempts = append(attempts, NodeAttempt{Node: node.Endpoint, Err: err})
			continue
		}
		if frame.Opcode == cqlproto.OpError {
			se := newServerError(cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body}))
			attempts = append(attempts, NodeAttempt{Node: node.Endpoint, Err: se})
			verdict := sess.cfg.Retry.Decide(se, consistency, len(attempts)-1, false)
			if verdict.Decision == RetryNextNode || verdict.Decision == RetrySameNode {
				continue
			}
			return se
		}
		return nil
	}
}

// Listen subscribes to the session's shared server-event feed, filtered to
// the event types cfg.Events asked the cluster to push. Callers must
// eventually call EventStream.Close to release the subscription.
func (sess *Session) Listen() *EventStream {
	return sess.listen()
}

// Close releases every pooled connection, stops the event broker, and
// makes the Session unusable.
func (sess *Session) Close() error {
	sess.conns.closeAll()
	if sess.events != nil {
		sess.events.close()
	}
	return nil
}

