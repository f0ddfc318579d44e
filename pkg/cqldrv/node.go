package cqldrv

import "sync/atomic"

// NodeStatus tracks whether a node is currently reachable.
type NodeStatus int32

const (
	NodeUp NodeStatus = iota
	NodeDown
)

// NodeDistance classifies a node relative to the driver's configured local
// datacenter, used by DCAwareRoundRobin to decide local-first ordering.
type NodeDistance int32

const (
	DistanceLocal NodeDistance = iota
	DistanceRemote
	DistanceIgnored
)

// Node is one cluster member, as tracked by ClusterState.
type Node struct {
	Endpoint         string // host:port used to dial
	BroadcastAddress string
	Datacenter       string
	Rack             string
	Tokens           []int64 // ordered ascending

	status   int32 // atomic NodeStatus
	distance int32 // atomic NodeDistance
}

func newNode(endpoint, broadcastAddr, dc, rack string, tokens []int64) *Node {
	return &Node{
		Endpoint:         endpoint,
		BroadcastAddress: broadcastAddr,
		Datacenter:       dc,
		Rack:             rack,
		Tokens:           tokens,
		status:           int32(NodeUp),
	}
}

func (n *Node) Status() NodeStatus     { return NodeStatus(atomic.LoadInt32(&n.status)) }
func (n *Node) setStatus(s NodeStatus) { atomic.StoreInt32(&n.status, int32(s)) }

func (n *Node) Distance() NodeDistance     { return NodeDistance(atomic.LoadInt32(&n.distance)) }
func (n *Node) setDistance(d NodeDistance) { atomic.StoreInt32(&n.distance, int32(d)) }

func (n *Node) IsUp() bool { return n.Status() == NodeUp }
