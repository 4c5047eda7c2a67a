package valueindex

import (
	"regexp"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// stringIndex is an orderedIndex[string] that truncates values to a byte
// limit before indexing and additionally supports regex "match".
type stringIndex struct {
	*orderedIndex[string]
	limits Limits
}

func newStringIndex(t schema.Type, limits Limits) *stringIndex {
	return &stringIndex{orderedIndex: newOrderedIndex[string](t, encodeString, decodeString), limits: limits}
}

func (s *stringIndex) Append(value any, id uint64) error {
	v, ok := value.(string)
	if !ok {
		return unsupportedValue(s.typ, value)
	}
	s.appendValue(s.limits.clampString(v), id)
	return nil
}

func (s *stringIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	if op == query.Match {
		return s.lookupMatch(rhs)
	}
	return s.orderedIndex.Lookup(op, rhs)
}

func (s *stringIndex) lookupMatch(rhs any) (*roaring64.Bitmap, error) {
	pattern, ok := rhs.(string)
	if !ok {
		return nil, unsupportedValue(s.typ, rhs)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	out := roaring64.New()
	for v, bm := range s.postings {
		if re.MatchString(v) {
			out.Or(bm)
		}
	}
	return out, nil
}
