package ops

import "testing"

func TestBoundsMorph(t *testing.T) {
	b := Bounds[int64]{Min: 10, Max: 20}
	changed := b.Morph(Bounds[int64]{Min: 5, Max: 25})
	if !changed {
		t.Fatal("expected bounds to widen")
	}
	if b.Min != 5 || b.Max != 25 {
		t.Fatalf("unexpected widened bounds: %+v", b)
	}
	if b.Morph(Bounds[int64]{Min: 6, Max: 24}) {
		t.Fatal("expected no change for a narrower range")
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds[float64]{Min: -1.2, Max: 9.9}
	if !b.Contains(0) || !b.Contains(-1.2) || !b.Contains(9.9) {
		t.Fatalf("expected bounds to contain values within [Min, Max]")
	}
	if b.Contains(10) || b.Contains(-2) {
		t.Fatalf("expected bounds to exclude values outside [Min, Max]")
	}
}
