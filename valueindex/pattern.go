package valueindex

import (
	"regexp"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// patternIndex stores pattern-typed values (a regex assigned as the field's
// value, e.g. a firewall rule's match expression). Equality/in compare the
// pattern text verbatim; Match compiles each distinct stored pattern and
// tests it against rhs -- the inverse of stringIndex's match, where the
// compiled side is the stored column rather than the query's operand.
type patternIndex struct {
	*orderedIndex[string]
	limits Limits
}

func newPatternIndex(t schema.Type, limits Limits) *patternIndex {
	return &patternIndex{orderedIndex: newOrderedIndex[string](t, encodeString, decodeString), limits: limits}
}

func (p *patternIndex) Append(value any, id uint64) error {
	v, ok := value.(string)
	if !ok {
		return unsupportedValue(p.typ, value)
	}
	p.appendValue(p.limits.clampString(v), id)
	return nil
}

func (p *patternIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	if op == query.Match {
		return p.lookupMatch(rhs)
	}
	return p.orderedIndex.Lookup(op, rhs)
}

func (p *patternIndex) lookupMatch(rhs any) (*roaring64.Bitmap, error) {
	subject, ok := rhs.(string)
	if !ok {
		return nil, unsupportedValue(p.typ, rhs)
	}

	out := roaring64.New()
	for pattern, bm := range p.postings {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue // a malformed stored pattern matches nothing, not an error
		}
		if re.MatchString(subject) {
			out.Or(bm)
		}
	}
	return out, nil
}
