package cqldrv

import "testing"

func ringNode(endpoint, dc, rack string, tokens ...int64) *Node {
	return newNode(endpoint, endpoint, dc, rack, tokens)
}

func TestRing_PrimaryReplica_WrapsAround(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1", 10)
	b := ringNode("b:9042", "dc1", "r1", 20)
	c := ringNode("c:9042", "dc1", "r1", 30)

	r := NewRing()
	r.Rebuild([]*Node{a, b, c})

	if got := r.PrimaryReplica(5); got != a {
		t.Fatalf("PrimaryReplica(5) = %v, want a", got.Endpoint)
	}
	if got := r.PrimaryReplica(15); got != b {
		t.Fatalf("PrimaryReplica(15) = %v, want b", got.Endpoint)
	}
	if got := r.PrimaryReplica(30); got != c {
		t.Fatalf("PrimaryReplica(30) = %v, want c", got.Endpoint)
	}
	if got := r.PrimaryReplica(35); got != a {
		t.Fatalf("PrimaryReplica(35) = %v, want a (wraps to first)", got.Endpoint)
	}
}

func TestRing_Successors_DedupsByNode(t *testing.T) {
	a := ringNode("a:9042", "dc1", "r1", 10, 40)
	b := ringNode("b:9042", "dc1", "r1", 20)
	c := ringNode("c:9042", "dc1", "r1", 30)

	r := NewRing()
	r.Rebuild([]*Node{a, b, c})

	got := r.Successors(5, 3)
	if len(got) != 3 {
		t.Fatalf("Successors(5, 3) = %v, want 3 distinct nodes", got)
	}
	want := []*Node{a, b, c}
	for i, n := range want {
		if got[i] != n {
			t.Fatalf("Successors[%d] = %s, want %s", i, got[i].Endpoint, n.Endpoint)
		}
	}
}

func TestRing_SuccessorsNetworkAware_PerDCCounts(t *testing.T) {
	a1 := ringNode("a1:9042", "dc1", "r1", 10)
	a2 := ringNode("a2:9042", "dc1", "r2", 20)
	a3 := ringNode("a3:9042", "dc1", "r1", 30)
	b1 := ringNode("b1:9042", "dc2", "r1", 15)
	b2 := ringNode("b2:9042", "dc2", "r1", 25)

	r := NewRing()
	r.Rebuild([]*Node{a1, a2, a3, b1, b2})

	got := r.SuccessorsNetworkAware(0, map[string]int{"dc1": 2, "dc2": 1})
	if len(got) != 3 {
		t.Fatalf("SuccessorsNetworkAware = %d nodes, want 3", len(got))
	}
	dcCount := map[string]int{}
	for _, n := range got {
		dcCount[n.Datacenter]++
	}
	if dcCount["dc1"] != 2 || dcCount["dc2"] != 1 {
		t.Fatalf("per-DC counts = %v, want dc1=2 dc2=1", dcCount)
	}
}

func TestRing_EmptyRing(t *testing.T) {
	r := NewRing()
	if got := r.PrimaryReplica(1); got != nil {
		t.Fatalf("PrimaryReplica on empty ring = %v, want nil", got)
	}
	if got := r.Successors(1, 3); got != nil {
		t.Fatalf("Successors on empty ring = %v, want nil", got)
	}
}
