package cqldrv

import (
	"sync"

	rbtree "github.com/twmb/go-rbtree"
)

// tokenItem is one (token, node) pair stored in the ring's red-black tree,
// satisfying rbtree.Itemer so the tree orders entries by Token, giving an
// ordered successor search for the token ring's "first node with token >=
// key" lookup.
type tokenItem struct {
	token int64
	node  *Node
}

func (t tokenItem) Less(r rbtree.Itemer) bool {
	return t.token < r.(tokenItem).token
}

// Ring is the ordered token ring: a red-black tree of (token, node) pairs
// supporting primary-replica and successor-replica lookups by token.
type Ring struct {
	mu   sync.RWMutex
	tree *rbtree.Tree
	// ordered is a flattened ascending snapshot rebuilt on each mutation,
	// used for the successor-walk replica placement (SimpleStrategy /
	// NetworkTopologyStrategy) which needs "next N distinct nodes" rather
	// than single-key lookups.
	ordered []tokenItem
}

func NewRing() *Ring {
	return &Ring{tree: rbtree.New()}
}

// Rebuild replaces the ring's contents with the token ownership declared
// by nodes, called whenever ClusterState refreshes topology.
func (r *Ring) Rebuild(nodes []*Node) {
	tree := rbtree.New()
	ordered := make([]tokenItem, 0, 64)
	for _, n := range nodes {
		for _, tok := range n.Tokens {
			item := tokenItem{token: tok, node: n}
			tree.Insert(item)
			ordered = append(ordered, item)
		}
	}
	sortTokenItems(ordered)

	r.mu.Lock()
	r.tree = tree
	r.ordered = ordered
	r.mu.Unlock()
}

func sortTokenItems(items []tokenItem) {
	// Small-to-moderate N (tokens per cluster, typically in the low
	// thousands even with vnodes), so a plain insertion sort is enough.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].token < items[j-1].token; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// PrimaryReplica returns the first node whose token is >= key, wrapping
// around to the ring's first entry if key is greater than every token.
func (r *Ring) PrimaryReplica(key int64) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil
	}
	found, ok := r.tree.FindWithFallback(tokenItem{token: key}, rbtree.GreaterEqual)
	if !ok {
		return r.ordered[0].node
	}
	return found.Item.(tokenItem).node
}

// Successors returns up to n distinct nodes starting at and following the
// primary replica for key, walking the ring forward (SimpleStrategy's
// "next N-1 distinct nodes" placement rule).
func (r *Ring) Successors(key int64, n int) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 || n <= 0 {
		return nil
	}

	start := 0
	for i, item := range r.ordered {
		if item.token >= key {
			start = i
			break
		}
	}

	out := make([]*Node, 0, n)
	seen := make(map[*Node]bool, n)
	for i := 0; i < len(r.ordered) && len(out) < n; i++ {
		item := r.ordered[(start+i)%len(r.ordered)]
		if seen[item.node] {
			continue
		}
		seen[item.node] = true
		out = append(out, item.node)
	}
	return out
}

// SuccessorsNetworkAware returns replicas per NetworkTopologyStrategy: it
// walks the ring (as Successors does) but stops taking nodes from a
// datacenter once repPerDC[dc] nodes from that DC have been selected,
// preferring rack diversity within a DC before repeating a rack.
func (r *Ring) SuccessorsNetworkAware(key int64, repPerDC map[string]int) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 || len(repPerDC) == 0 {
		return nil
	}

	total := 0
	for _, n := range repPerDC {
		total += n
	}

	start := 0
	for i, item := range r.ordered {
		if item.token >= key {
			start = i
			break
		}
	}

	perDC := make(map[string]int, len(repPerDC))
	racksSeenPerDC := make(map[string]map[string]bool, len(repPerDC))
	seen := make(map[*Node]bool)
	out := make([]*Node, 0, total)

	// First pass: prefer a node from each DC's unseen rack before
	// repeating a rack (rack diversity), second pass: fill remaining
	// per-DC slots regardless of rack.
	for pass := 0; pass < 2 && len(out) < total; pass++ {
		for i := 0; i < len(r.ordered) && len(out) < total; i++ {
			item := r.ordered[(start+i)%len(r.ordered)]
			node := item.node
			if seen[node] {
				continue
			}
			dc := node.Datacenter
			want, ok := repPerDC[dc]
			if !ok || perDC[dc] >= want {
				continue
			}
			if pass == 0 {
				racks := racksSeenPerDC[dc]
				if racks == nil {
					racks = map[string]bool{}
					racksSeenPerDC[dc] = racks
				}
				if racks[node.Rack] {
					continue
				}
				racks[node.Rack] = true
			}
			seen[node] = true
			perDC[dc]++
			out = append(out, node)
		}
	}
	return out
}
