package cqldrv

import (
	"context"
	"sync"
	"time"
)

// nodePool owns every live connection to one node and the reconnection
// loop that replaces connections as they die. It never blocks a caller on
// a reconnect: pick() returns whatever is currently connected, possibly
// nothing.
type nodePool struct {
	node   *Node
	cfg    *ClusterConfig
	dialer Dialer

	mu    sync.Mutex
	conns []*conn
	next  int // not read by pick(), which selects the least-loaded conn

	closed    bool
	closeCh   chan struct{}
	reconnect ReconnectionPolicy
}

func newNodePool(node *Node, cfg *ClusterConfig, dialer Dialer) *nodePool {
	return &nodePool{
		node:      node,
		cfg:       cfg,
		dialer:    dialer,
		closeCh:   make(chan struct{}),
		reconnect: cfg.Reconnection,
	}
}

// start dials ConnsPerNode connections, each maintained by its own
// reconnect loop for the lifetime of the pool.
func (p *nodePool) start() {
	for i := 0; i < p.cfg.ConnsPerNode; i++ {
		go p.maintainSlot()
	}
}

// maintainSlot owns one connection slot: dial, serve, and on death
// reconnect per the configured ReconnectionPolicy, forever until the pool
// is closed.
func (p *nodePool) maintainSlot() {
	schedule := p.reconnect.NewSchedule()
	for {
		if p.isClosed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		c, err := dial(ctx, p.dialer, p.node, p.cfg)
		cancel()
		if err != nil {
			delay, ok := schedule.NextDelay()
			if !ok {
				return
			}
			select {
			case <-time.After(delay):
				continue
			case <-p.closeCh:
				return
			}
		}

		schedule = p.reconnect.NewSchedule()
		p.addConn(c)
		p.node.setStatus(NodeUp)

		select {
		case <-c.deadCh:
		case <-p.closeCh:
			c.close()
			p.removeConn(c)
			return
		}
		p.removeConn(c)
	}
}

func (p *nodePool) addConn(c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.close()
		return
	}
	p.conns = append(p.conns, c)
}

func (p *nodePool) removeConn(dead *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.conns {
		if c == dead {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
}

// pick returns the least-loaded live connection, or ok=false if the pool
// currently has none. Load is approximated by outstanding stream count so
// a node with more free capacity is preferred over simple round robin.
func (p *nodePool) pick() (*conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil, false
	}
	best := p.conns[0]
	bestLoad := best.streams.outstanding()
	for _, c := range p.conns[1:] {
		if l := c.streams.outstanding(); l < bestLoad {
			best, bestLoad = c, l
		}
	}
	return best, true
}

func (p *nodePool) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *nodePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *nodePool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	close(p.closeCh)
	for _, c := range conns {
		c.close()
	}
}

// connManager owns one nodePool per cluster member and is the pipeline's
// entry point for turning a *Node into a usable *conn.
type connManager struct {
	cfg    *ClusterConfig
	dialer Dialer

	mu    sync.Mutex
	pools map[string]*nodePool
}

func newConnManager(cfg *ClusterConfig, dialer Dialer) *connManager {
	return &connManager{cfg: cfg, dialer: dialer, pools: make(map[string]*nodePool)}
}

// ensure starts (if necessary) and returns the pool for node.
func (m *connManager) ensure(node *Node) *nodePool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[node.Endpoint]; ok {
		return p
	}
	p := newNodePool(node, m.cfg, m.dialer)
	m.pools[node.Endpoint] = p
	p.start()
	return p
}

// pick returns a connection to node with spare capacity under
// MaxInFlightPerConn, or ok=false if the node has no live connection or
// every connection is saturated.
func (m *connManager) pick(node *Node) (*conn, bool) {
	p := m.ensure(node)
	c, ok := p.pick()
	if !ok {
		return nil, false
	}
	if m.cfg.MaxInFlightPerConn > 0 && c.streams.outstanding() >= m.cfg.MaxInFlightPerConn {
		return nil, false
	}
	return c, true
}

func (m *connManager) removeNode(endpoint string) {
	m.mu.Lock()
	p, ok := m.pools[endpoint]
	if ok {
		delete(m.pools, endpoint)
	}
	m.mu.Unlock()
	if ok {
		p.close()
	}
}

func (m *connManager) closeAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*nodePool)
	m.mu.Unlock()
	for _, p := range pools {
		p.close()
	}
}
