package valueindex

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ordered is the shared postings structure backing every index whose value
// domain is totally ordered (numbers, durations, timestamps, ports,
// strings). It keeps one bitmap per distinct value plus a running union of
// every id that carries any value, and lazily maintains a sorted key slice
// so range predicates can binary-search the boundary and union only the
// matching postings instead of scanning the whole domain.
type orderedIndex[T cmp.Ordered] struct {
	typ      schema.Type
	offset   uint64
	postings map[T]*roaring64.Bitmap
	present  *roaring64.Bitmap // union of every posting: ids that carry a value at all

	sorted      []T
	sortedDirty bool

	encode func(*bits.BitWriter, T)
	decode func(*bits.BitsReader) (T, error)
}

func newOrderedIndex[T cmp.Ordered](t schema.Type, enc func(*bits.BitWriter, T), dec func(*bits.BitsReader) (T, error)) *orderedIndex[T] {
	return &orderedIndex[T]{
		typ:      t,
		postings: map[T]*roaring64.Bitmap{},
		present:  roaring64.New(),
		encode:   enc,
		decode:   dec,
	}
}

func (o *orderedIndex[T]) Type() schema.Type { return o.typ }
func (o *orderedIndex[T]) Offset() uint64    { return o.offset }

func (o *orderedIndex[T]) appendValue(v T, id uint64) {
	bm, ok := o.postings[v]
	if !ok {
		bm = roaring64.New()
		o.postings[v] = bm
		o.sortedDirty = true
	}
	bm.Add(id)
	o.present.Add(id)
	if id+1 > o.offset {
		o.offset = id + 1
	}
}

func (o *orderedIndex[T]) Append(value any, id uint64) error {
	v, ok := coerce[T](value)
	if !ok {
		return unsupportedValue(o.typ, value)
	}
	o.appendValue(v, id)
	return nil
}

func (o *orderedIndex[T]) rebuildSorted() {
	if !o.sortedDirty {
		return
	}
	o.sorted = o.sorted[:0]
	for v := range o.postings {
		o.sorted = append(o.sorted, v)
	}
	slices.Sort(o.sorted)
	o.sortedDirty = false
}

func (o *orderedIndex[T]) unionOf(values []T) *roaring64.Bitmap {
	out := roaring64.New()
	for _, v := range values {
		if bm, ok := o.postings[v]; ok {
			out.Or(bm)
		}
	}
	return out
}

// lookupOrdered implements every operator a totally-ordered index supports.
// rhs must already have been coerced to T or []T by the caller.
func (o *orderedIndex[T]) lookupOrdered(op query.Operator, v T, in []T) (*roaring64.Bitmap, error) {
	switch op {
	case query.Equal:
		if bm, ok := o.postings[v]; ok {
			return bm.Clone(), nil
		}
		return roaring64.New(), nil
	case query.NotEqual:
		out := o.present.Clone()
		if bm, ok := o.postings[v]; ok {
			out.AndNot(bm)
		}
		return out, nil
	case query.In:
		return o.unionOf(in), nil
	case query.NotIn:
		out := o.present.Clone()
		out.AndNot(o.unionOf(in))
		return out, nil
	case query.Less, query.LessEqual, query.Greater, query.GreaterEqual:
		o.rebuildSorted()
		lo, hi := rangeBounds(o.sorted, op, v)
		return o.unionOf(o.sorted[lo:hi]), nil
	default:
		return nil, unsupported(o.typ, op)
	}
}

// rangeBounds returns the [lo,hi) slice bounds of sorted matching op v,
// using binary search so only the matching tail/head is touched.
func rangeBounds[T cmp.Ordered](sorted []T, op query.Operator, v T) (int, int) {
	idx, found := slices.BinarySearch(sorted, v)
	switch op {
	case query.Less:
		return 0, idx
	case query.LessEqual:
		if found {
			idx++
		}
		return 0, idx
	case query.Greater:
		if found {
			idx++
		}
		return idx, len(sorted)
	case query.GreaterEqual:
		return idx, len(sorted)
	default:
		return 0, 0
	}
}

func (o *orderedIndex[T]) serializePayload(w *bits.BitWriter) {
	w.PutUint64(o.offset)
	w.PutUint32(uint32(len(o.postings)))

	o.rebuildSorted()
	for _, v := range o.sorted {
		o.encode(w, v)
		bm := o.postings[v]
		buf, _ := bm.ToBytes()
		w.PutUint32(uint32(len(buf)))
		w.Write(buf)
	}
}

func (o *orderedIndex[T]) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	switch op {
	case query.In, query.NotIn:
		in, ok := coerceSlice[T](rhs)
		if !ok {
			return nil, unsupportedValue(o.typ, rhs)
		}
		return o.lookupOrdered(op, *new(T), in)
	default:
		v, ok := coerce[T](rhs)
		if !ok {
			return nil, unsupportedValue(o.typ, rhs)
		}
		return o.lookupOrdered(op, v, nil)
	}
}

func (o *orderedIndex[T]) Serialize() ([]byte, error) {
	w := bits.NewEncodeBuffer(make([]byte, 0, 256), defaultByteOrder)
	w.EnableGrowing()
	o.serializePayload(&w)
	return w.Bytes(), nil
}

func (o *orderedIndex[T]) deserialize(data []byte) error {
	r := bits.NewReader(bytes.NewReader(data), defaultByteOrder)
	return o.deserializePayload(r)
}

func (o *orderedIndex[T]) deserializePayload(r *bits.BitsReader) error {
	offset, err := r.ReadU64()
	if err != nil {
		return err
	}
	count, err := r.ReadU32()
	if err != nil {
		return err
	}

	o.offset = offset
	o.postings = make(map[T]*roaring64.Bitmap, count)
	o.present = roaring64.New()
	o.sortedDirty = true

	for i := uint32(0); i < count; i++ {
		v, err := o.decode(r)
		if err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if n > 0 {
			if err := r.ReadBytes(int(n), buf); err != nil {
				return err
			}
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return err
		}
		o.postings[v] = bm
		o.present.Or(bm)
	}
	return nil
}
