package valueindex

import (
	"fmt"
	"net"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// addressIndex stores IP addresses in their canonical string form. Equality
// and "in" reuse the ordered postings directly; Contains (CIDR
// containment) has no inverted structure to exploit and scans the distinct
// addresses observed, which is sound since the number of distinct
// addresses in a column is bounded by the partition's row count.
type addressIndex struct {
	*orderedIndex[string]
}

func newAddressIndex(t schema.Type) *addressIndex {
	return &addressIndex{orderedIndex: newOrderedIndex[string](t, encodeString, decodeString)}
}

func (a *addressIndex) Append(value any, id uint64) error {
	ip, err := parseAddress(value)
	if err != nil {
		return fmt.Errorf("%w: %v", unsupportedValue(a.typ, value), err)
	}
	a.appendValue(ip.String(), id)
	return nil
}

func (a *addressIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	if op == query.Contains {
		return a.lookupContains(rhs)
	}
	v, err := normalizeRHS(a.typ, op, rhs)
	if err != nil {
		return nil, err
	}
	return a.orderedIndex.Lookup(op, v)
}

func (a *addressIndex) lookupContains(rhs any) (*roaring64.Bitmap, error) {
	cidr, ok := rhs.(string)
	if !ok {
		return nil, unsupportedValue(a.typ, rhs)
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	out := roaring64.New()
	for s, bm := range a.postings {
		if ip := net.ParseIP(s); ip != nil && network.Contains(ip) {
			out.Or(bm)
		}
	}
	return out, nil
}

func parseAddress(value any) (net.IP, error) {
	switch v := value.(type) {
	case net.IP:
		return v, nil
	case string:
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("not a valid IP address")
		}
		return ip, nil
	default:
		return nil, fmt.Errorf("not an address")
	}
}

// normalizeRHS coerces an equality/in rhs to the index's canonical string
// form, for operators other than Contains which already receives a raw
// CIDR string.
func normalizeRHS(t schema.Type, op query.Operator, rhs any) (any, error) {
	switch op {
	case query.In, query.NotIn:
		switch v := rhs.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, el := range v {
				ip, err := parseAddress(el)
				if err != nil {
					return nil, unsupportedValue(t, el)
				}
				out = append(out, ip.String())
			}
			return out, nil
		default:
			return nil, unsupportedValue(t, rhs)
		}
	default:
		ip, err := parseAddress(rhs)
		if err != nil {
			return nil, unsupportedValue(t, rhs)
		}
		return ip.String(), nil
	}
}
