// Package valueindex implements the per-column value indexes the engine
// builds while ingesting rows: an append-only, in-memory-first structure
// that answers a single relational predicate against one leaf column by
// returning the bitmap of matching row ids, without ever scanning row data.
//
// Every concrete index keeps an inverted posting list, one bitmap per
// distinct value observed, plus the one-past-last-appended id ("offset").
// Row ids that were never appended (gaps left by a skipped or malformed
// cell) never set a bit in any posting, so they correctly fail every
// predicate including "!=".
package valueindex

import (
	"fmt"

	"github.com/evtdb/eventindex/errs"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ValueIndex is the behavior every concrete per-type index implements.
type ValueIndex interface {
	// Append records value at row id. id must be >= Offset(); callers may
	// skip ids (leaving a gap) but never revisit one already passed.
	Append(value any, id uint64) error

	// Lookup returns the bitmap of ids whose stored value satisfies
	// op(value, rhs). Returns errs.ErrUnsupportedOperator if the
	// concrete index's type does not support op.
	Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error)

	// Offset is one past the highest id ever appended.
	Offset() uint64

	// Type is the schema type this index was built for.
	Type() schema.Type

	// Serialize encodes the index's payload (not including the enclosing
	// column-index file framing, which is the caller's responsibility).
	Serialize() ([]byte, error)
}

// New builds the concrete ValueIndex implementation appropriate for t.
func New(t schema.Type, limits Limits) (ValueIndex, error) {
	switch t.Kind {
	case schema.BoolType:
		return newBoolIndex(t), nil
	case schema.IntType:
		return newOrderedIndex[int64](t, encodeInt64, decodeInt64), nil
	case schema.UintType:
		return newOrderedIndex[uint64](t, encodeUint64, decodeUint64), nil
	case schema.RealType:
		return newOrderedIndex[float64](t, encodeFloat64, decodeFloat64), nil
	case schema.DurationType:
		return newOrderedIndex[int64](t, encodeInt64, decodeInt64), nil
	case schema.TimestampType:
		return newOrderedIndex[int64](t, encodeInt64, decodeInt64), nil
	case schema.PortType:
		return newOrderedIndex[uint64](t, encodeUint64, decodeUint64), nil
	case schema.StringType:
		return newStringIndex(t, limits), nil
	case schema.PatternType:
		return newPatternIndex(t, limits), nil
	case schema.AddressType:
		return newAddressIndex(t), nil
	case schema.SubnetType:
		return newSubnetIndex(t), nil
	case schema.VectorType, schema.SetType:
		inner, err := New(*t.Elem, limits)
		if err != nil {
			return nil, err
		}
		return newContainerIndex(t, inner, limits), nil
	case schema.MapType:
		keyIdx, err := New(*t.Key, limits)
		if err != nil {
			return nil, err
		}
		valIdx, err := New(*t.Val, limits)
		if err != nil {
			return nil, err
		}
		return newMapIndex(t, keyIdx, valIdx, limits), nil
	default:
		return nil, fmt.Errorf("value index: no index type for kind %v: %w", t.Kind, errs.ErrInvalidFormat)
	}
}

// Load rebuilds a ValueIndex of the given type from bytes previously
// produced by Serialize.
func Load(t schema.Type, limits Limits, data []byte) (ValueIndex, error) {
	idx, err := New(t, limits)
	if err != nil {
		return nil, err
	}
	loader, ok := idx.(loadable)
	if !ok {
		return nil, fmt.Errorf("value index: %v has no loader: %w", t.Kind, errs.ErrInvalidFormat)
	}
	if err := loader.deserialize(data); err != nil {
		return nil, err
	}
	return idx, nil
}

type loadable interface {
	deserialize(data []byte) error
}

func unsupported(t schema.Type, op query.Operator) error {
	return fmt.Errorf("value index: type %v does not support operator %v: %w", t.Kind, op, errs.ErrUnsupportedOperator)
}
