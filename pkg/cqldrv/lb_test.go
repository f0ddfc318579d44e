package cqldrv

import "testing"

func planNodes(plan QueryPlan) []*Node {
	var out []*Node
	for {
		n, ok := plan.Next()
		if !ok {
			return out
		}
		out = append(out, n)
	}
}

func TestRoundRobinPolicy_RotatesAcrossCalls(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1")
	b := ringNode("b:9042", "dc1", "r1")
	c := ringNode("c:9042", "dc1", "r1")
	nodes := []*Node{a, b, c}

	p := NewRoundRobinPolicy()
	first := planNodes(p.Plan(nodes, RoutingHint{}))
	second := planNodes(p.Plan(nodes, RoutingHint{}))

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("plan lengths = %d, %d, want 3, 3", len(first), len(second))
	}
	if first[0] == second[0] {
		t.Fatalf("expected rotation point to advance between calls, got %s both times", first[0].Endpoint)
	}
}

func TestRoundRobinPolicy_SkipsDownNodes(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1")
	b := ringNode("b:9042", "dc1", "r1")
	b.setStatus(NodeDown)

	p := NewRoundRobinPolicy()
	got := planNodes(p.Plan([]*Node{a, b}, RoutingHint{}))
	if len(got) != 1 || got[0] != a {
		t.Fatalf("plan = %v, want [a] only", got)
	}
}

func TestDCAwareRoundRobinPolicy_LocalFirst(t *testing.T) {
	local := ringNode("local:9042", "dc1", "r1")
	remote := ringNode("remote:9042", "dc2", "r1")

	p := NewDCAwareRoundRobinPolicy("dc1", true, 0)
	got := planNodes(p.Plan([]*Node{remote, local}, RoutingHint{}))
	if len(got) != 2 || got[0] != local || got[1] != remote {
		t.Fatalf("plan = %v, want [local, remote]", got)
	}
}

func TestDCAwareRoundRobinPolicy_DisallowsRemoteByDefault(t *testing.T) {
	local := ringNode("local:9042", "dc1", "r1")
	remote := ringNode("remote:9042", "dc2", "r1")

	p := NewDCAwareRoundRobinPolicy("dc1", false, 0)
	got := planNodes(p.Plan([]*Node{remote, local}, RoutingHint{}))
	if len(got) != 1 || got[0] != local {
		t.Fatalf("plan = %v, want [local] only", got)
	}
}

func TestTokenAwarePolicy_PrefersReplicasThenFallsThroughToInner(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1", 10)
	b := ringNode("b:9042", "dc1", "r1", 20)
	c := ringNode("c:9042", "dc1", "r1", 30)
	nodes := []*Node{a, b, c}

	ring := NewRing()
	ring.Rebuild(nodes)

	inner := NewRoundRobinPolicy()
	p := NewTokenAwarePolicy(ring, inner, 1)

	got := planNodes(p.Plan(nodes, RoutingHint{HasToken: true, Token: 5}))
	if len(got) != 3 {
		t.Fatalf("plan length = %d, want 3 (1 replica then 2 via inner)", len(got))
	}
	if got[0] != a {
		t.Fatalf("plan[0] = %s, want a (primary replica for token 5)", got[0].Endpoint)
	}
	seen := map[*Node]bool{}
	for _, n := range got {
		if seen[n] {
			t.Fatalf("duplicate node %s in plan", n.Endpoint)
		}
		seen[n] = true
	}
}

func TestTokenAwarePolicy_NoTokenFallsThroughEntirely(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1", 10)
	ring := NewRing()
	ring.Rebuild([]*Node{a})

	inner := NewRoundRobinPolicy()
	p := NewTokenAwarePolicy(ring, inner, 1)

	got := planNodes(p.Plan([]*Node{a}, RoutingHint{}))
	if len(got) != 1 || got[0] != a {
		t.Fatalf("plan = %v, want [a] via inner policy", got)
	}
}
