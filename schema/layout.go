package schema

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Layout is a record type describing one event schema, plus the name it is
// addressed by (the "#type" extractor value).
type Layout struct {
	Name string
	Type Type
}

// Digest is a stable content-addressed identifier of a layout's structure,
// used as a directory name on disk (spec section 6).
type Digest uint64

func (d Digest) String() string {
	var buf [16]byte
	const hex = "0123456789abcdef"
	for i := 0; i < 16; i++ {
		shift := uint(60 - i*4)
		buf[i] = hex[(uint64(d)>>shift)&0xf]
	}
	return string(buf[:])
}

// LeafColumn is one indexable field of a flattened layout: a dotted path
// (composite members joined by ".") and its leaf type.
type LeafColumn struct {
	Path string
	Type Type
}

// Flatten walks a layout's (possibly composite) type tree and returns every
// leaf column in stable, deterministic order. Record members are expanded
// recursively; vector/set/map members are indexed as a single leaf column
// carrying the container type itself (the value index itself knows how to
// index every element/key/value, per spec section 4.1).
func (l Layout) Flatten() []LeafColumn {
	var out []LeafColumn
	flattenInto(&out, "", l.Type)
	return out
}

func flattenInto(out *[]LeafColumn, prefix string, t Type) {
	if t.Kind != RecordType {
		*out = append(*out, LeafColumn{Path: prefix, Type: t})
		return
	}

	for _, f := range t.Fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		flattenInto(out, path, f.Type)
	}
}

// ColumnFile returns the on-disk path segment for a leaf column, replacing
// dots with the OS path separator per spec section 6.
func (c LeafColumn) ColumnFile() string {
	return strings.ReplaceAll(c.Path, ".", "/")
}

// ComputeDigest hashes the ordered field names, types and attributes of a
// layout into a stable 64-bit id. Two layouts that are structurally Equal
// always hash identically; this is the only soundness property required of
// the digest, collision-freedom is not guaranteed but astronomically
// unlikely at the scale this engine targets.
func ComputeDigest(l Layout) Digest {
	h := xxhash.New()
	h.Write([]byte(l.Name))

	for _, leaf := range l.Flatten() {
		h.Write([]byte{0})
		h.Write([]byte(leaf.Path))
		writeTypeDigest(h, leaf.Type)
	}

	return Digest(h.Sum64())
}

func writeTypeDigest(h *xxhash.Digest, t Type) {
	h.Write([]byte{byte(t.Kind)})

	keys := make([]string, 0, len(t.Attr))
	for k := range t.Attr {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(t.Attr[k]))
	}

	switch t.Kind {
	case VectorType, SetType:
		if t.Elem != nil {
			writeTypeDigest(h, *t.Elem)
		}
	case MapType:
		if t.Key != nil {
			writeTypeDigest(h, *t.Key)
		}
		if t.Val != nil {
			writeTypeDigest(h, *t.Val)
		}
	case RecordType:
		for _, f := range t.Fields {
			h.Write([]byte(f.Name))
			writeTypeDigest(h, f.Type)
		}
	}
}

func sortStrings(s []string) {
	// insertion sort: attribute sets are tiny (skip/timestamp at most).
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// TimestampColumn returns the path of the column bearing the "timestamp"
// attribute, if any, for the #timestamp extractor (spec section 4.4).
func (l Layout) TimestampColumn() (string, bool) {
	for _, leaf := range l.Flatten() {
		if leaf.Type.IsTimestamp() {
			return leaf.Path, true
		}
	}
	return "", false
}
