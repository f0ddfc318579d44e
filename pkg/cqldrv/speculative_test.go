package cqldrv

import "testing"

func TestNoSpeculativeExecution_NeverEnabled(t *testing.T) {
	p := NoSpeculativeExecution{}
	if d := p.Decide(true); d.Enabled {
		t.Fatalf("NoSpeculativeExecution.Decide(true).Enabled = true, want false")
	}
	if d := p.Decide(false); d.Enabled {
		t.Fatalf("NoSpeculativeExecution.Decide(false).Enabled = true, want false")
	}
}

func TestConstantSpeculativeExecution_GatesOnIdempotent(t *testing.T) {
	p := NewConstantSpeculativeExecution(0, 2)

	if d := p.Decide(false); d.Enabled {
		t.Fatalf("non-idempotent Decide().Enabled = true, want false (racing a write risks a duplicate)")
	}

	d := p.Decide(true)
	if !d.Enabled || d.MaxSpec != 2 {
		t.Fatalf("idempotent Decide() = %+v, want Enabled with MaxSpec 2", d)
	}
}

func TestConstantSpeculativeExecution_ZeroMaxSpecNeverEnabled(t *testing.T) {
	p := NewConstantSpeculativeExecution(0, 0)
	if d := p.Decide(true); d.Enabled {
		t.Fatalf("MaxSpec 0: Decide(true).Enabled = true, want false")
	}
}
