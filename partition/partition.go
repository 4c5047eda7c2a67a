// Package partition implements a bounded-size indexing unit: a uuid, a
// directory, a capacity in events, and one table indexer per record
// layout it has seen. Eval tailors an expression against every known
// layout, binding abstract extractors to concrete column handles.
package partition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/errs"
	"github.com/evtdb/eventindex/fio"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/tableindexer"
	"github.com/evtdb/eventindex/valueindex"

	"github.com/google/uuid"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Handle is what an evaluation-map triple calls to resolve its curried
// predicate -- either a real table indexer column, or a constant bitmap
// (the #type extractor's short-circuit case).
type Handle interface {
	Lookup(op query.Operator, rhs any) (*roaring.Bitmap, error)
}

type columnHandle struct {
	ti   *tableindexer.TableIndexer
	leaf string
}

func (h columnHandle) Lookup(op query.Operator, rhs any) (*roaring.Bitmap, error) {
	return h.ti.Lookup(h.leaf, op, rhs)
}

type constHandle struct{ bm *roaring.Bitmap }

func (h constHandle) Lookup(query.Operator, any) (*roaring.Bitmap, error) {
	return h.bm, nil
}

// Triple is one resolved predicate binding within a layout's evaluation
// entry: the leaf's flatten-order position, the predicate stripped of its
// extractor, and the handle that resolves it.
type Triple struct {
	Offset  int
	Leaf    *query.Expr // the predicate leaf this triple resolves, for tree folding
	Curried query.Curried
	Handle  Handle
}

// EvaluationMap is Partition.Eval's result: layout name to its resolved
// predicate bindings. A layout excluded entirely (by a failed #type
// check, or because it resolves no predicates) is absent from the map.
type EvaluationMap map[string][]Triple

type knownLayout struct {
	layout  schema.Layout
	digest  schema.Digest
	indexer *tableindexer.TableIndexer
}

// Partition owns every table indexer for the layouts it has ingested so
// far, plus the metadata recording which layouts it knows about.
type Partition struct {
	id       uuid.UUID
	dir      string
	capacity uint64
	limits   valueindex.Limits

	layouts map[schema.Digest]*knownLayout
	total   uint64
	dirty   bool
}

// New creates a fresh, empty partition under dir/<id>.
func New(rootDir string, id uuid.UUID, capacity uint64, limits valueindex.Limits) *Partition {
	return &Partition{
		id:       id,
		dir:      filepath.Join(rootDir, id.String()),
		capacity: capacity,
		limits:   limits,
		layouts:  make(map[schema.Digest]*knownLayout),
	}
}

// Open loads a partition's meta file from rootDir/<id>/meta. Returns
// errs.ErrNoSuchFile if the partition has never been flushed -- callers
// should treat that as "this is a brand new partition".
func Open(rootDir string, id uuid.UUID, capacity uint64, limits valueindex.Limits) (*Partition, error) {
	p := New(rootDir, id, capacity, limits)

	metaPath := filepath.Join(p.dir, "meta")
	raw, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return p, fmt.Errorf("partition %s: %w", id, errs.ErrNoSuchFile)
	}
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w: %v", id, errs.ErrIO, err)
	}

	entries, total, err := decodeMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w: %v", id, errs.ErrInvalidFormat, err)
	}
	p.total = total

	for _, e := range entries {
		digest := schema.ComputeDigest(e)
		dir := filepath.Join(p.dir, digest.String())
		ti, err := tableindexer.Open(filepath.Join(dir, "data"), e, limits)
		if err != nil {
			return nil, fmt.Errorf("partition %s: layout %s: %w", id, e.Name, err)
		}
		p.layouts[digest] = &knownLayout{layout: e, digest: digest, indexer: ti}
	}

	return p, nil
}

func (p *Partition) ID() uuid.UUID  { return p.id }
func (p *Partition) Dir() string    { return p.dir }
func (p *Partition) Total() uint64  { return p.total }
func (p *Partition) Full() bool     { return p.total >= p.capacity }

// RowIDs returns every row id ingested under the named layout, or an
// empty bitmap if the layout is unknown. Used by the evaluator to
// resolve NOT against this layout's row universe.
func (p *Partition) RowIDs(layoutName string) *roaring.Bitmap {
	for _, kl := range p.layouts {
		if kl.layout.Name == layoutName {
			return kl.indexer.RowIDs()
		}
	}
	return roaring.New()
}

// Layouts returns the set of layouts this partition has ingested.
func (p *Partition) Layouts() []schema.Layout {
	out := make([]schema.Layout, 0, len(p.layouts))
	for _, kl := range p.layouts {
		out = append(out, kl.layout)
	}
	return out
}

// Add routes slice to its layout's table indexer, creating it on first
// sight of that layout.
func (p *Partition) Add(slice *schema.TableSlice) error {
	digest := schema.ComputeDigest(slice.Layout)
	kl, ok := p.layouts[digest]
	if !ok {
		dir := filepath.Join(p.dir, digest.String(), "data")
		ti, err := tableindexer.Open(dir, slice.Layout, p.limits)
		if err != nil {
			return fmt.Errorf("partition %s: new layout %s: %w", p.id, slice.Layout.Name, err)
		}
		kl = &knownLayout{layout: slice.Layout, digest: digest, indexer: ti}
		p.layouts[digest] = kl
		p.dirty = true
	}

	if err := kl.indexer.AddSlice(slice); err != nil {
		return fmt.Errorf("partition %s: %w", p.id, err)
	}
	p.total += uint64(slice.Rows)
	return nil
}

// Eval tailors expr against every known layout and returns the resulting
// evaluation map.
func (p *Partition) Eval(expr *query.Expr) (EvaluationMap, error) {
	out := make(EvaluationMap)

	for _, kl := range p.layouts {
		triples, include, err := p.resolveLayout(kl, expr)
		if err != nil {
			return nil, err
		}
		if include && len(triples) > 0 {
			out[kl.layout.Name] = triples
		}
	}
	return out, nil
}

func (p *Partition) resolveLayout(kl *knownLayout, expr *query.Expr) ([]Triple, bool, error) {
	leaves := kl.layout.Flatten()
	leafIndex := make(map[string]int, len(leaves))
	for i, l := range leaves {
		leafIndex[l.Path] = i
	}

	var triples []Triple
	for _, pred := range expr.Predicates() {
		switch pred.Predicate.LHS.Kind {
		case query.TypeExtractor:
			satisfied, err := evalTypePredicate(kl.layout.Name, pred.Predicate.Op, pred.Predicate.RHS)
			if err != nil {
				return nil, false, err
			}
			if !satisfied {
				return nil, false, nil // layout excluded entirely
			}
			triples = append(triples, Triple{
				Offset:  -1,
				Leaf:    pred,
				Curried: pred.Predicate.Curry(),
				Handle:  constHandle{bm: kl.indexer.RowIDs()},
			})
		case query.TimestampExtractor:
			col, ok := kl.layout.TimestampColumn()
			if !ok {
				continue // no tagged column: this predicate contributes empty
			}
			idx, ok := leafIndex[col]
			if !ok {
				continue
			}
			triples = append(triples, Triple{
				Offset:  idx,
				Leaf:    pred,
				Curried: pred.Predicate.Curry(),
				Handle:  columnHandle{ti: kl.indexer, leaf: col},
			})
		default: // FieldExtractor
			idx, ok := leafIndex[pred.Predicate.LHS.Field]
			if !ok {
				continue // field not present in this layout: contributes empty
			}
			triples = append(triples, Triple{
				Offset:  idx,
				Leaf:    pred,
				Curried: pred.Predicate.Curry(),
				Handle:  columnHandle{ti: kl.indexer, leaf: pred.Predicate.LHS.Field},
			})
		}
	}
	return triples, true, nil
}

func evalTypePredicate(name string, op query.Operator, rhs any) (bool, error) {
	switch op {
	case query.Equal:
		return name == rhs, nil
	case query.NotEqual:
		return name != rhs, nil
	case query.In:
		return stringInSlice(name, rhs), nil
	case query.NotIn:
		return !stringInSlice(name, rhs), nil
	default:
		return false, fmt.Errorf("#type: %w", errs.ErrUnsupportedOperator)
	}
}

func stringInSlice(s string, rhs any) bool {
	switch v := rhs.(type) {
	case []string:
		for _, c := range v {
			if c == s {
				return true
			}
		}
	case []any:
		for _, c := range v {
			if cs, ok := c.(string); ok && cs == s {
				return true
			}
		}
	}
	return false
}

// FlushToDisk writes the meta file if dirty, then flushes every table
// indexer (best effort -- the first error encountered is returned, but
// every indexer is still attempted).
func (p *Partition) FlushToDisk() error {
	if p.dirty {
		layouts := make([]schema.Layout, 0, len(p.layouts))
		for _, kl := range p.layouts {
			layouts = append(layouts, kl.layout)
		}
		blob := encodeMeta(layouts, p.total)
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			return fmt.Errorf("partition %s: %w: %v", p.id, errs.ErrIO, err)
		}
		if err := fio.WriteFileAtomic(filepath.Join(p.dir, "meta"), blob); err != nil {
			return fmt.Errorf("partition %s: %w: %v", p.id, errs.ErrIO, err)
		}
		p.dirty = false
	}

	var first error
	for _, kl := range p.layouts {
		if err := kl.indexer.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func encodeMeta(layouts []schema.Layout, total uint64) []byte {
	w := bits.NewEncodeBuffer(make([]byte, 0, 256), defaultByteOrder)
	w.EnableGrowing()
	w.PutUint64(total)
	w.PutUint32(uint32(len(layouts)))
	for _, l := range layouts {
		writeLayout(&w, l)
	}
	return w.Bytes()
}

func decodeMeta(raw []byte) ([]schema.Layout, uint64, error) {
	r := bits.NewReader(bytes.NewReader(raw), defaultByteOrder)

	total, err := r.ReadU64()
	if err != nil {
		return nil, 0, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, 0, err
	}

	layouts := make([]schema.Layout, 0, count)
	for i := uint32(0); i < count; i++ {
		l, err := readLayout(r)
		if err != nil {
			return nil, 0, err
		}
		layouts = append(layouts, l)
	}
	return layouts, total, nil
}
