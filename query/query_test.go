package query

import "testing"

func TestPredicatesFlattensTree(t *testing.T) {
	expr := And(
		Pred(Field("service"), Equal, "http"),
		Or(
			Pred(Field("src"), Equal, "212.227.96.110"),
			Not(Pred(Field("dst"), Equal, "10.0.0.1")),
		),
	)

	preds := expr.Predicates()
	if len(preds) != 3 {
		t.Fatalf("expected 3 predicate leaves, got %d", len(preds))
	}
}

func TestFieldsDeduplicates(t *testing.T) {
	expr := And(
		Pred(Field("service"), Equal, "http"),
		Pred(Field("service"), NotEqual, "ssh"),
		Pred(TypeExtr(), Equal, "conn"),
	)

	fields := expr.Fields()
	if len(fields) != 1 || fields[0] != "service" {
		t.Fatalf("expected single deduplicated field 'service', got %v", fields)
	}
}

func TestOperatorNegate(t *testing.T) {
	neg, ok := Equal.Negate()
	if !ok || neg != NotEqual {
		t.Fatalf("expected Equal to negate to NotEqual, got %v ok=%v", neg, ok)
	}

	if _, ok := Match.Negate(); ok {
		t.Fatalf("expected Match to have no direct negation")
	}
}
