// Package evaluator folds a partition's resolved evaluation map back
// into a row-id bitmap: AND intersects, OR unions, NOT complements
// against the layout's row universe, and a predicate a layout could not
// resolve (absent from the evaluation map's triples) contributes an
// empty bitmap rather than aborting the fold. AND/OR short-circuit, so a
// triple whose sibling already decided the outcome is never looked up.
// A single predicate's lookup failure is logged and treated as empty --
// one bad column does not sink the whole query.
package evaluator

import (
	"log/slog"

	"github.com/evtdb/eventindex/partition"
	"github.com/evtdb/eventindex/query"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

type folder struct {
	triples  map[*query.Expr]partition.Triple
	resolved map[*query.Expr]*roaring.Bitmap
	universe *roaring.Bitmap
}

// Evaluate folds expr against one layout's resolved triples, returning
// the matching row ids for that layout alone. universe is every row id
// known for this layout, used as NOT's complement base.
func Evaluate(expr *query.Expr, triples []partition.Triple, universe *roaring.Bitmap) *roaring.Bitmap {
	f := &folder{
		triples:  make(map[*query.Expr]partition.Triple, len(triples)),
		resolved: make(map[*query.Expr]*roaring.Bitmap, len(triples)),
		universe: universe,
	}
	for _, t := range triples {
		f.triples[t.Leaf] = t
	}
	return f.fold(expr)
}

func (f *folder) hit(leaf *query.Expr) *roaring.Bitmap {
	if bm, ok := f.resolved[leaf]; ok {
		return bm
	}
	t, ok := f.triples[leaf]
	if !ok {
		// not resolved against this layout (field absent, or #timestamp
		// with no tagged column): contributes nothing.
		bm := roaring.New()
		f.resolved[leaf] = bm
		return bm
	}
	bm, err := t.Handle.Lookup(t.Curried.Op, t.Curried.RHS)
	if err != nil {
		slog.Warn("predicate lookup failed, contributing empty", "op", t.Curried.Op, "error", err)
		bm = roaring.New()
	}
	if bm == nil {
		bm = roaring.New()
	}
	f.resolved[leaf] = bm
	return bm
}

func (f *folder) fold(expr *query.Expr) *roaring.Bitmap {
	switch expr.Kind {
	case query.PredicateNode:
		return f.hit(expr)

	case query.AndNode:
		var acc *roaring.Bitmap
		for _, c := range expr.Children {
			cur := f.fold(c)
			if acc == nil {
				acc = cur.Clone()
			} else {
				acc.And(cur)
			}
			if acc.IsEmpty() {
				return acc // short circuit: remaining children cannot add rows
			}
		}
		if acc == nil {
			return f.universe.Clone()
		}
		return acc

	case query.OrNode:
		acc := roaring.New()
		for _, c := range expr.Children {
			cur := f.fold(c)
			acc.Or(cur)
			if acc.GetCardinality() == f.universe.GetCardinality() {
				return acc // short circuit: already covers the whole universe
			}
		}
		return acc

	case query.NotNode:
		inner := f.fold(expr.Children[0])
		out := f.universe.Clone()
		out.AndNot(inner)
		return out

	default:
		return roaring.New()
	}
}
