package valueindex

import (
	"bytes"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// boolIndex has exactly two possible postings, so it skips the sorted-key
// machinery ordered[T] needs for range queries.
type boolIndex struct {
	typ     schema.Type
	offset  uint64
	trueBM  *roaring64.Bitmap
	falseBM *roaring64.Bitmap
}

func newBoolIndex(t schema.Type) *boolIndex {
	return &boolIndex{typ: t, trueBM: roaring64.New(), falseBM: roaring64.New()}
}

func (b *boolIndex) Type() schema.Type { return b.typ }
func (b *boolIndex) Offset() uint64    { return b.offset }

func (b *boolIndex) Append(value any, id uint64) error {
	v, ok := value.(bool)
	if !ok {
		return unsupportedValue(b.typ, value)
	}
	if v {
		b.trueBM.Add(id)
	} else {
		b.falseBM.Add(id)
	}
	if id+1 > b.offset {
		b.offset = id + 1
	}
	return nil
}

func (b *boolIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	switch op {
	case query.Equal:
		v, ok := rhs.(bool)
		if !ok {
			return nil, unsupportedValue(b.typ, rhs)
		}
		if v {
			return b.trueBM.Clone(), nil
		}
		return b.falseBM.Clone(), nil
	case query.NotEqual:
		v, ok := rhs.(bool)
		if !ok {
			return nil, unsupportedValue(b.typ, rhs)
		}
		if v {
			return b.falseBM.Clone(), nil
		}
		return b.trueBM.Clone(), nil
	default:
		return nil, unsupported(b.typ, op)
	}
}

func (b *boolIndex) Serialize() ([]byte, error) {
	w := bits.NewEncodeBuffer(make([]byte, 0, 64), defaultByteOrder)
	w.EnableGrowing()
	w.PutUint64(b.offset)

	trueBuf, _ := b.trueBM.ToBytes()
	falseBuf, _ := b.falseBM.ToBytes()
	w.PutUint32(uint32(len(trueBuf)))
	w.Write(trueBuf)
	w.PutUint32(uint32(len(falseBuf)))
	w.Write(falseBuf)
	return w.Bytes(), nil
}

func (b *boolIndex) deserialize(data []byte) error {
	r := bits.NewReader(bytes.NewReader(data), defaultByteOrder)

	offset, err := r.ReadU64()
	if err != nil {
		return err
	}
	b.offset = offset

	readBM := func() (*roaring64.Bitmap, error) {
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if n > 0 {
			if err := r.ReadBytes(int(n), buf); err != nil {
				return nil, err
			}
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		return bm, nil
	}

	trueBM, err := readBM()
	if err != nil {
		return err
	}
	falseBM, err := readBM()
	if err != nil {
		return err
	}
	b.trueBM, b.falseBM = trueBM, falseBM
	return nil
}
