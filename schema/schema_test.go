package schema

import "testing"

func connLayout() Layout {
	return Layout{
		Name: "conn",
		Type: Record(
			Field{Name: "ts", Type: Timestamp().WithAttr(AttrTimestamp, "")},
			Field{Name: "src", Type: Address()},
			Field{Name: "dst", Type: Address()},
			Field{Name: "service", Type: String()},
			Field{Name: "internal_note", Type: String().WithAttr(AttrSkip, "")},
			Field{Name: "bytes", Type: Record(
				Field{Name: "in", Type: Uint()},
				Field{Name: "out", Type: Uint()},
			)},
		),
	}
}

func TestFlattenDottedPaths(t *testing.T) {
	leaves := connLayout().Flatten()

	want := []string{"ts", "src", "dst", "service", "internal_note", "bytes.in", "bytes.out"}
	if len(leaves) != len(want) {
		t.Fatalf("expected %d leaves, got %d: %+v", len(want), len(leaves), leaves)
	}
	for i, w := range want {
		if leaves[i].Path != w {
			t.Fatalf("leaf %d: expected %q, got %q", i, w, leaves[i].Path)
		}
	}

	if leaves[4].Type.Skip() != true {
		t.Fatalf("internal_note should be marked skip")
	}

	if got := leaves[5].ColumnFile(); got != "bytes/in" {
		t.Fatalf("expected column file bytes/in, got %q", got)
	}
}

func TestTimestampColumn(t *testing.T) {
	col, ok := connLayout().TimestampColumn()
	if !ok || col != "ts" {
		t.Fatalf("expected timestamp column 'ts', got %q ok=%v", col, ok)
	}
}

func TestDigestStableAndDiscriminating(t *testing.T) {
	a := ComputeDigest(connLayout())
	b := ComputeDigest(connLayout())
	if a != b {
		t.Fatalf("expected stable digest across identical layouts, got %v vs %v", a, b)
	}

	other := connLayout()
	other.Name = "dns"
	if ComputeDigest(other) == a {
		t.Fatalf("expected different digest for a renamed layout")
	}
}

func TestTypeEqual(t *testing.T) {
	a := Record(Field{Name: "x", Type: Int()})
	b := Record(Field{Name: "x", Type: Int()})
	if !a.Equal(b) {
		t.Fatalf("expected structurally identical records to be equal")
	}

	c := Record(Field{Name: "x", Type: Int().WithAttr(AttrSkip, "")})
	if a.Equal(c) {
		t.Fatalf("expected attribute difference to break equality")
	}
}

func TestTableSliceAccess(t *testing.T) {
	layout := Layout{Name: "ping", Type: Record(
		Field{Name: "rtt", Type: Real()},
		Field{Name: "host", Type: String()},
	)}

	slice, err := NewTableSlice(layout, 100, 2, [][]any{
		{1.5, 2.5},
		{"a", "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if slice.At(1, 0) != 2.5 {
		t.Fatalf("expected 2.5, got %v", slice.At(1, 0))
	}
	if slice.End() != 102 {
		t.Fatalf("expected end 102, got %d", slice.End())
	}

	idx, col, ok := slice.ColumnByPath("host")
	if !ok || idx != 1 || col[0] != "a" {
		t.Fatalf("unexpected column lookup result: idx=%d col=%v ok=%v", idx, col, ok)
	}
}
