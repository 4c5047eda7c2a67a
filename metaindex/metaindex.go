// Package metaindex implements the process-wide pruning structure: a
// compact per-partition summary (numeric bounds, string membership
// filters, boolean and layout presence) sufficient to decide "this
// partition cannot contain any row matching expression E" without
// touching the partition itself. Lookup never produces a false negative;
// false positives (an included partition that turns out empty once
// evaluated) are expected and cheap.
package metaindex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/ops"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	bloomEstimatedItems = 4096
	bloomFalsePositive  = 0.01
)

type boolSeen struct {
	hasTrue  bool
	hasFalse bool
}

// entry is one partition's pruning summary.
type entry struct {
	types   map[string]bool
	bounds  map[string]*ops.Bounds[float64]
	strings map[string]*bloom.BloomFilter
	bools   map[string]*boolSeen
	present map[string]bool // container/record leaves: seen, but no finer structure
}

func newEntry() *entry {
	return &entry{
		types:   make(map[string]bool),
		bounds:  make(map[string]*ops.Bounds[float64]),
		strings: make(map[string]*bloom.BloomFilter),
		bools:   make(map[string]*boolSeen),
		present: make(map[string]bool),
	}
}

// MetaIndex maps partition id to its pruning entry.
type MetaIndex struct {
	entries map[string]*entry
}

func New() *MetaIndex {
	return &MetaIndex{entries: make(map[string]*entry)}
}

// Add incrementally folds slice's rows into partitionID's pruning entry.
func (m *MetaIndex) Add(partitionID string, slice *schema.TableSlice) {
	e, ok := m.entries[partitionID]
	if !ok {
		e = newEntry()
		m.entries[partitionID] = e
	}
	e.types[slice.Layout.Name] = true

	tsCol, hasTS := slice.Layout.TimestampColumn()

	for i, leaf := range slice.Layout.Flatten() {
		col := slice.Column(i)
		for _, v := range col {
			e.observe(leaf.Path, leaf.Type, v)
			if hasTS && leaf.Path == tsCol {
				e.observe("#timestamp", leaf.Type, v)
			}
		}
	}
}

func (e *entry) observe(path string, t schema.Type, v any) {
	switch t.Kind {
	case schema.BoolType:
		b, ok := v.(bool)
		if !ok {
			return
		}
		bs, ok := e.bools[path]
		if !ok {
			bs = &boolSeen{}
			e.bools[path] = bs
		}
		if b {
			bs.hasTrue = true
		} else {
			bs.hasFalse = true
		}
	case schema.IntType, schema.UintType, schema.RealType, schema.DurationType, schema.TimestampType, schema.PortType:
		f, ok := toFloat(v)
		if !ok {
			return
		}
		b, ok := e.bounds[path]
		if !ok {
			e.bounds[path] = &ops.Bounds[float64]{Min: f, Max: f}
			return
		}
		b.Morph(ops.Bounds[float64]{Min: f, Max: f})
	case schema.StringType, schema.PatternType, schema.AddressType, schema.SubnetType:
		s, ok := v.(string)
		if !ok {
			return
		}
		bf, ok := e.strings[path]
		if !ok {
			bf = bloom.NewWithEstimates(bloomEstimatedItems, bloomFalsePositive)
			e.strings[path] = bf
		}
		bf.AddString(s)
	default:
		// containers/records: no bounds/bloom/bool structure fits a
		// vector, set, or map value, but the field was still seen -- a
		// witness that must prevent the "never observed" prune below.
		e.present[path] = true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Lookup returns every partition id whose entry cannot rule out expr.
func (m *MetaIndex) Lookup(expr *query.Expr) []string {
	var out []string
	for id, e := range m.entries {
		if e.mayMatch(expr) {
			out = append(out, id)
		}
	}
	sort.Strings(out) // deterministic order for tests; lookup order is otherwise unspecified
	return out
}

func (e *entry) mayMatch(expr *query.Expr) bool {
	switch expr.Kind {
	case query.PredicateNode:
		return e.mayMatchPredicate(expr.Predicate)
	case query.AndNode:
		for _, c := range expr.Children {
			if !e.mayMatch(c) {
				return false
			}
		}
		return true
	case query.OrNode:
		for _, c := range expr.Children {
			if e.mayMatch(c) {
				return true
			}
		}
		return len(expr.Children) == 0
	case query.NotNode:
		if len(expr.Children) == 1 {
			if mm, ok := e.negatedPredicateMatch(expr.Children[0]); ok {
				return mm
			}
		}
		// No structure distinguishes "child matches everything" from
		// "child matches nothing" for anything coarser than a single
		// directly negatable primitive, so NOT otherwise can never safely
		// exclude a partition (spec section 4.5).
		return true
	default:
		return true
	}
}

// negatedPredicateMatch handles NOT of a single predicate child whose
// operator negates cleanly (query.Operator.Negate) against a field precise
// enough to prune on: a numeric-bounds or bool field. Anything else --
// strings (a bloom filter only ever answers "maybe present", never "maybe
// absent"), containers, #type, or an operator with no clean negation --
// reports ok=false so the caller falls back to the conservative answer.
func (e *entry) negatedPredicateMatch(child *query.Expr) (matched, ok bool) {
	if child.Kind != query.PredicateNode {
		return false, false
	}
	p := child.Predicate
	if p.LHS.Kind != query.FieldExtractor && p.LHS.Kind != query.TimestampExtractor {
		return false, false
	}
	negated, ok := p.Op.Negate()
	if !ok {
		return false, false
	}
	path := p.LHS.Field
	if p.LHS.Kind == query.TimestampExtractor {
		path = "#timestamp"
	}
	if b, ok := e.bounds[path]; ok {
		return mayMatchNumeric(b, negated, p.RHS), true
	}
	if bs, ok := e.bools[path]; ok {
		return mayMatchBool(bs, negated, p.RHS), true
	}
	return false, false
}

func (e *entry) mayMatchPredicate(p query.Predicate) bool {
	switch p.LHS.Kind {
	case query.TypeExtractor:
		return e.mayMatchType(p.Op, p.RHS)
	case query.TimestampExtractor:
		return e.mayMatchField("#timestamp", p.Op, p.RHS)
	default:
		return e.mayMatchField(p.LHS.Field, p.Op, p.RHS)
	}
}

func (e *entry) mayMatchType(op query.Operator, rhs any) bool {
	name, ok := rhs.(string)
	switch op {
	case query.Equal:
		if !ok {
			return true
		}
		return e.types[name]
	case query.NotEqual:
		if !ok {
			return true
		}
		return len(e.types) != 1 || !e.types[name]
	default:
		return true
	}
}

func (e *entry) mayMatchField(path string, op query.Operator, rhs any) bool {
	if b, ok := e.bounds[path]; ok {
		return mayMatchNumeric(b, op, rhs)
	}
	if bf, ok := e.strings[path]; ok {
		return mayMatchString(bf, op, rhs)
	}
	if bs, ok := e.bools[path]; ok {
		return mayMatchBool(bs, op, rhs)
	}
	if e.present[path] {
		// a container/record leaf: seen, but nothing here can rule out
		// a match against its contents.
		return true
	}
	// never observed in this partition under any layout: no row can
	// possibly carry this field, so no row can satisfy any predicate on it.
	return false
}

func mayMatchNumeric(b *ops.Bounds[float64], op query.Operator, rhs any) bool {
	f, ok := toFloat(rhs)
	switch op {
	case query.Equal:
		if !ok {
			return true
		}
		return b.Contains(f)
	case query.Less:
		if !ok {
			return true
		}
		return b.Min < f
	case query.LessEqual:
		if !ok {
			return true
		}
		return b.Min <= f
	case query.Greater:
		if !ok {
			return true
		}
		return b.Max > f
	case query.GreaterEqual:
		if !ok {
			return true
		}
		return b.Max >= f
	case query.In:
		items, ok := rhs.([]any)
		if !ok {
			return true
		}
		for _, it := range items {
			if fv, ok := toFloat(it); ok && b.Contains(fv) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func mayMatchString(bf *bloom.BloomFilter, op query.Operator, rhs any) bool {
	switch op {
	case query.Equal:
		s, ok := rhs.(string)
		if !ok {
			return true
		}
		return bf.TestString(s)
	case query.In:
		items, ok := rhs.([]any)
		if !ok {
			return true
		}
		for _, it := range items {
			if s, ok := it.(string); ok && bf.TestString(s) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func mayMatchBool(bs *boolSeen, op query.Operator, rhs any) bool {
	v, ok := rhs.(bool)
	if !ok {
		return true
	}
	switch op {
	case query.Equal:
		if v {
			return bs.hasTrue
		}
		return bs.hasFalse
	case query.NotEqual:
		if v {
			return bs.hasFalse
		}
		return bs.hasTrue
	default:
		return true
	}
}

// Serialize encodes the whole meta index.
func (m *MetaIndex) Serialize() ([]byte, error) {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := bits.NewEncodeBuffer(make([]byte, 0, 1024), byteOrder)
	w.EnableGrowing()
	w.PutUint32(uint32(len(ids)))

	for _, id := range ids {
		e := m.entries[id]
		w.PutString(id)
		if err := writeEntry(&w, e); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// Deserialize replaces the meta index's contents with data's.
func (m *MetaIndex) Deserialize(data []byte) error {
	r := bits.NewReader(bytes.NewReader(data), byteOrder)

	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.entries = make(map[string]*entry, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.ReadString()
		if err != nil {
			return err
		}
		e, err := readEntry(r)
		if err != nil {
			return fmt.Errorf("meta index: partition %s: %w", id, err)
		}
		m.entries[id] = e
	}
	return nil
}
