package partition

import (
	"encoding/binary"
	"sort"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/schema"
)

var defaultByteOrder = binary.LittleEndian

// writeLayout/readLayout and the schema.Type codec below exist because a
// partition's meta file has to name every layout it has seen well enough
// to reopen each layout's table indexer -- schema itself has no reason to
// know about on-disk framing, so the codec lives here instead.

func writeLayout(w *bits.BitWriter, l schema.Layout) {
	w.PutString(l.Name)
	writeType(w, l.Type)
}

func readLayout(r *bits.BitsReader) (schema.Layout, error) {
	name, err := r.ReadString()
	if err != nil {
		return schema.Layout{}, err
	}
	t, err := readType(r)
	if err != nil {
		return schema.Layout{}, err
	}
	return schema.Layout{Name: name, Type: t}, nil
}

func writeType(w *bits.BitWriter, t schema.Type) {
	w.WriteByte(byte(t.Kind))
	writeAttrs(w, t.Attr)

	switch t.Kind {
	case schema.RecordType:
		w.PutUint32(uint32(len(t.Fields)))
		for _, f := range t.Fields {
			w.PutString(f.Name)
			writeType(w, f.Type)
		}
	case schema.VectorType, schema.SetType:
		writeType(w, *t.Elem)
	case schema.MapType:
		writeType(w, *t.Key)
		writeType(w, *t.Val)
	}
}

func readType(r *bits.BitsReader) (schema.Type, error) {
	kindByte, err := r.ReadU8()
	if err != nil {
		return schema.Type{}, err
	}
	attr, err := readAttrs(r)
	if err != nil {
		return schema.Type{}, err
	}

	t := schema.Type{Kind: schema.Kind(kindByte), Attr: attr}

	switch t.Kind {
	case schema.RecordType:
		n, err := r.ReadU32()
		if err != nil {
			return schema.Type{}, err
		}
		fields := make([]schema.Field, 0, n)
		for i := uint32(0); i < n; i++ {
			name, err := r.ReadString()
			if err != nil {
				return schema.Type{}, err
			}
			ft, err := readType(r)
			if err != nil {
				return schema.Type{}, err
			}
			fields = append(fields, schema.Field{Name: name, Type: ft})
		}
		t.Fields = fields
	case schema.VectorType, schema.SetType:
		elem, err := readType(r)
		if err != nil {
			return schema.Type{}, err
		}
		t.Elem = &elem
	case schema.MapType:
		key, err := readType(r)
		if err != nil {
			return schema.Type{}, err
		}
		val, err := readType(r)
		if err != nil {
			return schema.Type{}, err
		}
		t.Key = &key
		t.Val = &val
	}

	return t, nil
}

func writeAttrs(w *bits.BitWriter, attr schema.Attributes) {
	keys := make([]string, 0, len(attr))
	for k := range attr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.PutUint32(uint32(len(keys)))
	for _, k := range keys {
		w.PutString(k)
		w.PutString(attr[k])
	}
}

func readAttrs(r *bits.BitsReader) (schema.Attributes, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	attr := make(schema.Attributes, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		attr[k] = v
	}
	return attr, nil
}
