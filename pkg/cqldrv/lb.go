package cqldrv

import (
	"math/rand"
	"sync/atomic"
)

// QueryPlan is a lazy finite ordered sequence of nodes, producing no
// duplicates, that the pipeline walks on retryable failures.
type QueryPlan interface {
	// Next returns the next node to try, or ok=false when the plan is
	// exhausted.
	Next() (*Node, bool)
}

// RoutingHint carries the statement-level information TokenAware needs
// to compute a replica set; a statement with neither field set falls
// straight through to the wrapped policy.
type RoutingHint struct {
	Keyspace   string
	RoutingKey []byte
	HasToken   bool
	Token      int64
}

// LoadBalancer builds a QueryPlan for one request, given the current
// snapshot of UP nodes and an optional routing hint.
type LoadBalancer interface {
	Plan(nodes []*Node, hint RoutingHint) QueryPlan
}

// slicePlan is a QueryPlan backed by a precomputed, already-ordered node
// slice; every LoadBalancer implementation below builds one of these
// rather than generating nodes lazily, since the candidate set is small
// enough that precomputing is simpler and still satisfies the
// no-duplicates / finite contract.
type slicePlan struct {
	nodes []*Node
	pos   int
}

func (p *slicePlan) Next() (*Node, bool) {
	if p.pos >= len(p.nodes) {
		return nil, false
	}
	n := p.nodes[p.pos]
	p.pos++
	return n, true
}

// RoundRobinPolicy iterates all UP nodes in rotated order, advancing the
// rotation point on every Plan call so consecutive requests fan out
// across the cluster.
type RoundRobinPolicy struct {
	counter uint64
}

func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{}
}

func (p *RoundRobinPolicy) Plan(nodes []*Node, _ RoutingHint) QueryPlan {
	up := filterUp(nodes)
	if len(up) == 0 {
		return &slicePlan{}
	}
	start := int(atomic.AddUint64(&p.counter, 1)-1) % len(up)
	rotated := make([]*Node, len(up))
	for i := range up {
		rotated[i] = up[(start+i)%len(up)]
	}
	return &slicePlan{nodes: rotated}
}

// DCAwareRoundRobinPolicy orders the local datacenter's UP nodes first
// (round-robin among them), then optionally the remote datacenters'
// nodes.
type DCAwareRoundRobinPolicy struct {
	LocalDC          string
	MaxRemoteNodes   int
	AllowRemoteHosts bool

	localCounter  uint64
	remoteCounter uint64
}

func NewDCAwareRoundRobinPolicy(localDC string, allowRemote bool, maxRemoteNodes int) *DCAwareRoundRobinPolicy {
	return &DCAwareRoundRobinPolicy{LocalDC: localDC, AllowRemoteHosts: allowRemote, MaxRemoteNodes: maxRemoteNodes}
}

func (p *DCAwareRoundRobinPolicy) Plan(nodes []*Node, _ RoutingHint) QueryPlan {
	var local, remote []*Node
	for _, n := range filterUp(nodes) {
		if n.Datacenter == p.LocalDC {
			local = append(local, n)
		} else {
			remote = append(remote, n)
		}
	}

	out := make([]*Node, 0, len(local)+len(remote))
	if len(local) > 0 {
		start := int(atomic.AddUint64(&p.localCounter, 1)-1) % len(local)
		for i := range local {
			out = append(out, local[(start+i)%len(local)])
		}
	}
	if p.AllowRemoteHosts && len(remote) > 0 {
		start := int(atomic.AddUint64(&p.remoteCounter, 1)-1) % len(remote)
		max := len(remote)
		if p.MaxRemoteNodes > 0 && p.MaxRemoteNodes < max {
			max = p.MaxRemoteNodes
		}
		for i := 0; i < max; i++ {
			out = append(out, remote[(start+i)%len(remote)])
		}
	}
	return &slicePlan{nodes: out}
}

// TokenAwarePolicy computes the replica set for a statement's routing key
// or token (via Ring, the cluster's token ownership map), shuffles it for
// load spread, then defers remaining nodes to Inner.
type TokenAwarePolicy struct {
	Ring      *Ring
	Inner     LoadBalancer
	ReplicaN  int
}

func NewTokenAwarePolicy(ring *Ring, inner LoadBalancer, replicaN int) *TokenAwarePolicy {
	return &TokenAwarePolicy{Ring: ring, Inner: inner, ReplicaN: replicaN}
}

func (p *TokenAwarePolicy) Plan(nodes []*Node, hint RoutingHint) QueryPlan {
	if !hint.HasToken || p.Ring == nil {
		return p.Inner.Plan(nodes, hint)
	}

	replicas := p.Ring.Successors(hint.Token, p.ReplicaN)
	replicas = filterUpNodes(replicas)
	rand.Shuffle(len(replicas), func(i, j int) { replicas[i], replicas[j] = replicas[j], replicas[i] })

	seen := make(map[*Node]bool, len(replicas))
	out := make([]*Node, 0, len(nodes))
	for _, n := range replicas {
		seen[n] = true
		out = append(out, n)
	}

	rest := p.Inner.Plan(nodes, hint)
	for {
		n, ok := rest.Next()
		if !ok {
			break
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return &slicePlan{nodes: out}
}

func filterUp(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsUp() && n.Distance() != DistanceIgnored {
			out = append(out, n)
		}
	}
	return out
}

func filterUpNodes(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsUp() {
			out = append(out, n)
		}
	}
	return out
}
