package evaluator

import (
	"testing"

	"github.com/evtdb/eventindex/partition"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/valueindex"

	"github.com/google/uuid"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

func connLayout() schema.Layout {
	return schema.Layout{Name: "conn", Type: schema.Record(
		schema.Field{Name: "bytes", Type: schema.Uint()},
		schema.Field{Name: "service", Type: schema.String()},
	)}
}

func buildPartition(t *testing.T) *partition.Partition {
	t.Helper()
	dir := t.TempDir()
	p := partition.New(dir, uuid.New(), 1000, valueindex.DefaultLimits())
	slice, err := schema.NewTableSlice(connLayout(), 0, 4, [][]any{
		{uint64(10), uint64(200), uint64(30), uint64(400)},
		{"http", "dns", "http", "ssh"},
	})
	if err != nil {
		t.Fatalf("new slice: %v", err)
	}
	if err := p.Add(slice); err != nil {
		t.Fatalf("add: %v", err)
	}
	return p
}

func evalConn(t *testing.T, p *partition.Partition, expr *query.Expr) *roaring.Bitmap {
	t.Helper()
	em, err := p.Eval(expr)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	universe := p.RowIDs("conn")
	return Evaluate(expr, em["conn"], universe)
}

func TestEvaluateAndIntersects(t *testing.T) {
	p := buildPartition(t)
	expr := query.And(
		query.Pred(query.Field("service"), query.Equal, "http"),
		query.Pred(query.Field("bytes"), query.Greater, uint64(20)),
	)
	hits := evalConn(t, p, expr)
	if hits.GetCardinality() != 1 || !hits.Contains(2) {
		t.Fatalf("expected only row 2 (bytes=30, service=http), got %v", hits.ToArray())
	}
}

func TestEvaluateOrUnions(t *testing.T) {
	p := buildPartition(t)
	expr := query.Or(
		query.Pred(query.Field("service"), query.Equal, "dns"),
		query.Pred(query.Field("service"), query.Equal, "ssh"),
	)
	hits := evalConn(t, p, expr)
	if hits.GetCardinality() != 2 {
		t.Fatalf("expected 2 hits, got %d", hits.GetCardinality())
	}
}

func TestEvaluateNotComplementsUniverse(t *testing.T) {
	p := buildPartition(t)
	expr := query.Not(query.Pred(query.Field("service"), query.Equal, "http"))
	hits := evalConn(t, p, expr)
	if hits.GetCardinality() != 2 {
		t.Fatalf("expected 2 non-http rows, got %d", hits.GetCardinality())
	}
}

func TestEvaluateUnresolvedPredicateContributesEmpty(t *testing.T) {
	p := buildPartition(t)
	expr := query.Pred(query.Field("nonexistent"), query.Equal, "x")
	hits := evalConn(t, p, expr)
	if !hits.IsEmpty() {
		t.Fatalf("expected empty result for an unresolved field, got %v", hits.ToArray())
	}
}

func taggedLayout() schema.Layout {
	return schema.Layout{Name: "tagged", Type: schema.Record(
		schema.Field{Name: "labels", Type: schema.Map(schema.String(), schema.String())},
	)}
}

func TestEvaluateMapFieldPredicate(t *testing.T) {
	dir := t.TempDir()
	p := partition.New(dir, uuid.New(), 1000, valueindex.DefaultLimits())
	slice, err := schema.NewTableSlice(taggedLayout(), 0, 2, [][]any{
		{map[any]any{"service": "http"}, map[any]any{"env": "prod"}},
	})
	if err != nil {
		t.Fatalf("new slice: %v", err)
	}
	if err := p.Add(slice); err != nil {
		t.Fatalf("add: %v", err)
	}

	expr := query.Pred(query.Field("labels"), query.Equal, "http")
	em, err := p.Eval(expr)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	hits := Evaluate(expr, em["tagged"], p.RowIDs("tagged"))
	if hits.GetCardinality() != 1 || !hits.Contains(0) {
		t.Fatalf("expected only row 0 to match the map field's value side, got %v", hits.ToArray())
	}
}

func TestEvaluateAndShortCircuitsOnEmpty(t *testing.T) {
	p := buildPartition(t)
	expr := query.And(
		query.Pred(query.Field("service"), query.Equal, "nonexistent-value"),
		query.Pred(query.Field("bytes"), query.Greater, uint64(0)),
	)
	hits := evalConn(t, p, expr)
	if !hits.IsEmpty() {
		t.Fatalf("expected empty result, got %v", hits.ToArray())
	}
}
