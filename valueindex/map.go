package valueindex

import (
	"bytes"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// mapIndex backs map columns with two inner indexes, one over the keys
// observed and one over the values, each following the same one-posting-
// per-row-id-per-element discipline as containerIndex. Lookup matches a
// row if either side matches -- the query language has no syntax to
// target just the key or just the value side of a map field.
type mapIndex struct {
	typ    schema.Type
	keys   ValueIndex
	values ValueIndex
	limits Limits
}

func newMapIndex(t schema.Type, keys, values ValueIndex, limits Limits) *mapIndex {
	return &mapIndex{typ: t, keys: keys, values: values, limits: limits}
}

func (m *mapIndex) Type() schema.Type { return m.typ }

func (m *mapIndex) Offset() uint64 {
	if a, b := m.keys.Offset(), m.values.Offset(); a > b {
		return a
	} else {
		return b
	}
}

func (m *mapIndex) Append(value any, id uint64) error {
	pairs, ok := value.(map[any]any)
	if !ok {
		return unsupportedValue(m.typ, value)
	}
	n := 0
	for k, v := range pairs {
		if m.limits.MaxContainerElems > 0 && n >= m.limits.MaxContainerElems {
			break
		}
		if err := m.keys.Append(k, id); err != nil {
			return err
		}
		if err := m.values.Append(v, id); err != nil {
			return err
		}
		n++
	}
	return nil
}

func (m *mapIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	keyHits, kErr := m.keys.Lookup(op, rhs)
	valHits, vErr := m.values.Lookup(op, rhs)
	if kErr != nil && vErr != nil {
		return nil, kErr
	}
	out := roaring64.New()
	if kErr == nil {
		out.Or(keyHits)
	}
	if vErr == nil {
		out.Or(valHits)
	}
	return out, nil
}

func (m *mapIndex) Serialize() ([]byte, error) {
	keyBuf, err := m.keys.Serialize()
	if err != nil {
		return nil, err
	}
	valBuf, err := m.values.Serialize()
	if err != nil {
		return nil, err
	}

	w := bits.NewEncodeBuffer(make([]byte, 0, len(keyBuf)+len(valBuf)+8), defaultByteOrder)
	w.EnableGrowing()
	w.PutUint32(uint32(len(keyBuf)))
	w.Write(keyBuf)
	w.PutUint32(uint32(len(valBuf)))
	w.Write(valBuf)
	return w.Bytes(), nil
}

func (m *mapIndex) deserialize(data []byte) error {
	r := bits.NewReader(bytes.NewReader(data), defaultByteOrder)

	keyLen, err := r.ReadU32()
	if err != nil {
		return err
	}
	keyBuf := make([]byte, keyLen)
	if keyLen > 0 {
		if err := r.ReadBytes(int(keyLen), keyBuf); err != nil {
			return err
		}
	}
	valLen, err := r.ReadU32()
	if err != nil {
		return err
	}
	valBuf := make([]byte, valLen)
	if valLen > 0 {
		if err := r.ReadBytes(int(valLen), valBuf); err != nil {
			return err
		}
	}

	if loader, ok := m.keys.(loadable); ok {
		if err := loader.deserialize(keyBuf); err != nil {
			return err
		}
	}
	if loader, ok := m.values.(loadable); ok {
		if err := loader.deserialize(valBuf); err != nil {
			return err
		}
	}
	return nil
}
