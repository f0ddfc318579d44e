package cqldrv

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// ClusterState tracks cluster membership and the token ring, refreshed at
// startup from system.local/system.peers and kept current by TOPOLOGY_CHANGE
// and STATUS_CHANGE events delivered over the driver's control connection.
type ClusterState struct {
	mu       sync.RWMutex
	nodes    map[string]*Node // keyed by Endpoint
	localDC  string
	ring     *Ring
	protocol cqlproto.Version
}

func newClusterState(protocol cqlproto.Version) *ClusterState {
	return &ClusterState{
		nodes:    make(map[string]*Node),
		ring:     NewRing(),
		protocol: protocol,
	}
}

// Nodes returns a snapshot slice of every known node, up or down.
func (cs *ClusterState) Nodes() []*Node {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*Node, 0, len(cs.nodes))
	for _, n := range cs.nodes {
		out = append(out, n)
	}
	return out
}

func (cs *ClusterState) node(endpoint string) (*Node, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	n, ok := cs.nodes[endpoint]
	return n, ok
}

// Ring returns the token ring built from the last refresh.
func (cs *ClusterState) Ring() *Ring {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.ring
}

// LocalDC returns the datacenter of the contact point used for the initial
// refresh, used by DCAwareRoundRobinPolicy when a caller doesn't set one
// explicitly.
func (cs *ClusterState) LocalDC() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.localDC
}

// refresh queries system.local and system.peers over c and rebuilds both
// the node table and the token ring from the result.
func (cs *ClusterState) refresh(ctx context.Context, c *conn, defaultPort int) error {
	localRow, err := queryOne(ctx, c, cs.protocol,
		"SELECT data_center, rack, tokens FROM system.local")
	if err != nil {
		return fmt.Errorf("cqldrv: refreshing system.local: %w", err)
	}

	localDC, _ := stringColumn(localRow, "data_center")
	localRack, _ := stringColumn(localRow, "rack")
	localTokens, err := tokensColumn(localRow, "tokens")
	if err != nil {
		return fmt.Errorf("cqldrv: parsing system.local tokens: %w", err)
	}
	localNode := newNode(c.node.Endpoint, c.node.BroadcastAddress, localDC, localRack, localTokens)

	peerRows, err := queryAll(ctx, c, cs.protocol,
		"SELECT peer, data_center, rack, tokens, rpc_address FROM system.peers")
	if err != nil {
		return fmt.Errorf("cqldrv: refreshing system.peers: %w", err)
	}

	nodes := make(map[string]*Node, len(peerRows)+1)
	nodes[localNode.Endpoint] = localNode

	for _, row := range peerRows {
		addr, ok := inetColumn(row, "rpc_address")
		if !ok {
			addr, _ = inetColumn(row, "peer")
		}
		if addr == "" {
			continue
		}
		endpoint := fmt.Sprintf("%s:%d", addr, defaultPort)
		dc, _ := stringColumn(row, "data_center")
		rack, _ := stringColumn(row, "rack")
		tokens, err := tokensColumn(row, "tokens")
		if err != nil {
			return fmt.Errorf("cqldrv: parsing peer %s tokens: %w", endpoint, err)
		}
		nodes[endpoint] = newNode(endpoint, addr, dc, rack, tokens)
	}

	ring := NewRing()
	ring.Rebuild(mapValues(nodes))

	cs.mu.Lock()
	// Preserve liveness state for nodes that survive the refresh.
	for endpoint, prev := range cs.nodes {
		if n, ok := nodes[endpoint]; ok {
			n.setStatus(prev.Status())
			n.setDistance(prev.Distance())
		}
	}
	cs.nodes = nodes
	cs.ring = ring
	cs.localDC = localDC
	cs.mu.Unlock()
	return nil
}

func mapValues(m map[string]*Node) []*Node {
	out := make([]*Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	return out
}

// applyEvent updates node liveness or triggers a full refresh in response
// to a server-pushed EVENT frame; it never blocks on the network beyond the
// refresh it may itself schedule.
func (cs *ClusterState) applyEvent(ctx context.Context, ev *cqlproto.EventBody, refreshConn func(context.Context) *conn, defaultPort int) {
	switch ev.Type {
	case cqlproto.EventStatusChange:
		endpoint := fmt.Sprintf("%s:%d", ev.Address, defaultPort)
		if n, ok := cs.node(endpoint); ok {
			if ev.StatusChangeType == "UP" {
				n.setStatus(NodeUp)
			} else {
				n.setStatus(NodeDown)
			}
		}
	case cqlproto.EventTopologyChange:
		if c := refreshConn(ctx); c != nil {
			cs.refresh(ctx, c, defaultPort)
		}
	}
}

// queryOne runs query at consistency ONE and returns its single row, or nil
// if the result set was empty.
func queryOne(ctx context.Context, c *conn, v cqlproto.Version, query string) (row, error) {
	rows, err := queryAll(ctx, c, v, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// row is one decoded result row, keyed by column name for the bootstrap
// queries' small, known-shape result sets.
type row map[string]*cqlproto.Value

func queryAll(ctx context.Context, c *conn, v cqlproto.Version, query string) ([]row, error) {
	w := &cqlproto.Writer{}
	params := cqlproto.QueryParams{Consistency: cqlproto.ConsistencyOne}
	cqlproto.EncodeQuery(w, &cqlproto.QueryBody{Query: query, Params: params}, v)

	frame, err := c.sendRequest(ctx, cqlproto.OpQuery, 0, w.Out)
	if err != nil {
		return nil, err
	}
	if frame.Opcode == cqlproto.OpError {
		return nil, newServerError(cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body}))
	}
	if frame.Opcode != cqlproto.OpResult {
		return nil, fmt.Errorf("cqldrv: unexpected opcode %v for query", frame.Opcode)
	}

	r := &cqlproto.Reader{Src: frame.Body}
	result, err := cqlproto.DecodeResult(r, v)
	if err != nil {
		return nil, err
	}
	if result.Kind != cqlproto.ResultRows {
		return nil, nil
	}

	cols := result.Rows.Metadata.Columns
	out := make([]row, len(result.Rows.Rows))
	for i, cells := range result.Rows.Rows {
		rw := make(row, len(cols))
		for j, cell := range cells {
			if j >= len(cols) {
				break
			}
			if cell == nil {
				continue
			}
			val, err := cqlproto.DecodeValue(cell, cols[j].Type)
			if err != nil {
				return nil, err
			}
			rw[cols[j].Name] = val
		}
		out[i] = rw
	}
	return out, nil
}

func stringColumn(r row, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[name]
	if !ok || v.Null {
		return "", false
	}
	return v.Str, true
}

func inetColumn(r row, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[name]
	if !ok || v.Null {
		return "", false
	}
	if v.Inet.IsV6 {
		return net.IP(v.Inet.Addr[:]).String(), true
	}
	return net.IP(v.Inet.Addr[:4]).String(), true
}

// tokensColumn parses the set<text> tokens column into int64s; Murmur3
// partitioner tokens are always decimal-formatted strings on the wire.
func tokensColumn(r row, name string) ([]int64, error) {
	if r == nil {
		return nil, nil
	}
	v, ok := r[name]
	if !ok || v.Null {
		return nil, nil
	}
	out := make([]int64, 0, len(v.Elems))
	for _, e := range v.Elems {
		tok, err := strconv.ParseInt(e.Str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing token %q: %w", e.Str, err)
		}
		out = append(out, tok)
	}
	return out, nil
}
