package valueindex

import (
	"errors"
	"testing"

	"github.com/evtdb/eventindex/errs"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
)

func toArray(bm interface{ ToArray() []uint64 }) []uint64 {
	return bm.ToArray()
}

func TestIntIndexEqualityAndRange(t *testing.T) {
	idx, err := New(schema.Int(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vals := []int64{10, 20, 20, 5, 30}
	for id, v := range vals {
		if err := idx.Append(v, uint64(id)); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}

	eq, err := idx.Lookup(query.Equal, int64(20))
	if err != nil {
		t.Fatalf("lookup equal: %v", err)
	}
	if got := toArray(eq); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected ids [1 2], got %v", got)
	}

	lt, err := idx.Lookup(query.Less, int64(20))
	if err != nil {
		t.Fatalf("lookup less: %v", err)
	}
	if got := toArray(lt); len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Fatalf("expected ids [0 3], got %v", got)
	}

	ge, err := idx.Lookup(query.GreaterEqual, int64(20))
	if err != nil {
		t.Fatalf("lookup ge: %v", err)
	}
	if got := toArray(ge); len(got) != 3 {
		t.Fatalf("expected 3 ids >= 20, got %v", got)
	}

	if idx.Offset() != uint64(len(vals)) {
		t.Fatalf("expected offset %d, got %d", len(vals), idx.Offset())
	}
}

func TestGapIdsExcludedFromNegation(t *testing.T) {
	idx, err := New(schema.Int(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Append id 0 and then skip straight to id 5, leaving ids 1-4 as gaps.
	if err := idx.Append(int64(1), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := idx.Append(int64(2), 5); err != nil {
		t.Fatalf("append: %v", err)
	}

	ne, err := idx.Lookup(query.NotEqual, int64(1))
	if err != nil {
		t.Fatalf("lookup not equal: %v", err)
	}
	got := toArray(ne)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected only id 5 (gap ids 1-4 must not satisfy !=), got %v", got)
	}

	if idx.Offset() != 6 {
		t.Fatalf("expected offset 6, got %d", idx.Offset())
	}
}

func TestStringIndexMatch(t *testing.T) {
	idx, err := New(schema.String(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := []string{"http-get", "http-post", "dns-query"}
	for id, v := range values {
		if err := idx.Append(v, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hits, err := idx.Lookup(query.Match, "^http-")
	if err != nil {
		t.Fatalf("lookup match: %v", err)
	}
	got := toArray(hits)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected ids [0 1], got %v", got)
	}
}

func TestBoolIndex(t *testing.T) {
	idx, err := New(schema.Bool(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for id, v := range []bool{true, false, true, true} {
		if err := idx.Append(v, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hits, err := idx.Lookup(query.Equal, true)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got := toArray(hits); len(got) != 3 {
		t.Fatalf("expected 3 true rows, got %v", got)
	}
}

func TestAddressContains(t *testing.T) {
	idx, err := New(schema.Address(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	addrs := []string{"10.0.0.1", "10.0.0.2", "192.168.1.1"}
	for id, v := range addrs {
		if err := idx.Append(v, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hits, err := idx.Lookup(query.Contains, "10.0.0.0/24")
	if err != nil {
		t.Fatalf("lookup contains: %v", err)
	}
	if got := toArray(hits); len(got) != 2 {
		t.Fatalf("expected 2 addresses in 10.0.0.0/24, got %v", got)
	}
}

func TestContainerIndexElementWise(t *testing.T) {
	idx, err := New(schema.Vector(schema.String()), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := [][]any{
		{"a", "b", "c"},
		{"d", "e"},
		{"a", "f"},
	}
	for id, row := range rows {
		if err := idx.Append(row, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hits, err := idx.Lookup(query.Equal, "a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	got := toArray(hits)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("expected ids [0 2] to contain element 'a', got %v", got)
	}
}

func TestMapIndexMatchesEitherKeyOrValue(t *testing.T) {
	idx, err := New(schema.Map(schema.String(), schema.String()), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := []map[any]any{
		{"service": "http"},
		{"method": "GET"},
		{"env": "service"},
	}
	for id, row := range rows {
		if err := idx.Append(row, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hits, err := idx.Lookup(query.Equal, "service")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	got := toArray(hits)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("expected ids [0 2] to match 'service' on either side, got %v", got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	idx, err := New(schema.Uint(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, v := range []uint64{1, 2, 2, 3} {
		if err := idx.Append(v, uint64(id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	payload, err := idx.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	reloaded, err := Load(schema.Uint(), DefaultLimits(), payload)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if reloaded.Offset() != idx.Offset() {
		t.Fatalf("expected offset %d, got %d", idx.Offset(), reloaded.Offset())
	}

	hits, err := reloaded.Lookup(query.Equal, uint64(2))
	if err != nil {
		t.Fatalf("lookup after reload: %v", err)
	}
	if got := toArray(hits); len(got) != 2 {
		t.Fatalf("expected 2 hits for value 2 after reload, got %v", got)
	}
}

func TestUnsupportedOperatorReturnsSentinel(t *testing.T) {
	idx, err := New(schema.Bool(), DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := idx.Append(true, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = idx.Lookup(query.Less, true)
	if !errors.Is(err, errs.ErrUnsupportedOperator) {
		t.Fatalf("expected ErrUnsupportedOperator for unsupported operator on bool index, got %v", err)
	}
}
