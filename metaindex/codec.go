package metaindex

import (
	"encoding/binary"
	"sort"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/ops"

	"github.com/bits-and-blooms/bloom/v3"
)

var byteOrder = binary.LittleEndian

func writeEntry(w *bits.BitWriter, e *entry) error {
	typeNames := sortedKeys(e.types)
	w.PutUint32(uint32(len(typeNames)))
	for _, n := range typeNames {
		w.PutString(n)
	}

	boundPaths := sortedBoundKeys(e.bounds)
	w.PutUint32(uint32(len(boundPaths)))
	for _, p := range boundPaths {
		w.PutString(p)
		b := e.bounds[p]
		w.PutFloat64(b.Min)
		w.PutFloat64(b.Max)
	}

	boolPaths := sortedBoolKeys(e.bools)
	w.PutUint32(uint32(len(boolPaths)))
	for _, p := range boolPaths {
		w.PutString(p)
		bs := e.bools[p]
		w.WriteByte(boolByte(bs.hasTrue))
		w.WriteByte(boolByte(bs.hasFalse))
	}

	stringPaths := sortedBloomKeys(e.strings)
	w.PutUint32(uint32(len(stringPaths)))
	for _, p := range stringPaths {
		w.PutString(p)
		buf, err := e.strings[p].MarshalBinary()
		if err != nil {
			return err
		}
		w.PutUint32(uint32(len(buf)))
		w.Write(buf)
	}

	presentPaths := sortedKeys(e.present)
	w.PutUint32(uint32(len(presentPaths)))
	for _, p := range presentPaths {
		w.PutString(p)
	}
	return nil
}

func readEntry(r *bits.BitsReader) (*entry, error) {
	e := newEntry()

	typeCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < typeCount; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		e.types[name] = true
	}

	boundCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < boundCount; i++ {
		path, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		min, err := r.ReadF64()
		if err != nil {
			return nil, err
		}
		max, err := r.ReadF64()
		if err != nil {
			return nil, err
		}
		e.bounds[path] = &ops.Bounds[float64]{Min: min, Max: max}
	}

	boolCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < boolCount; i++ {
		path, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		hasTrue, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		hasFalse, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		e.bools[path] = &boolSeen{hasTrue: hasTrue != 0, hasFalse: hasFalse != 0}
	}

	stringCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < stringCount; i++ {
		path, err := r.ReadString()
		if err != nil {
			return nil, err
		}
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
		bf := &bloom.BloomFilter{}
		if err := bf.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		e.strings[path] = bf
	}

	presentCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < presentCount; i++ {
		path, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		e.present[path] = true
	}

	return e, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBoundKeys(m map[string]*ops.Bounds[float64]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBoolKeys(m map[string]*boolSeen) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBloomKeys(m map[string]*bloom.BloomFilter) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
