package valueindex

import (
	"fmt"
	"net"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// subnetIndex stores CIDR values canonicalized to their network form.
// Contains answers "does the stored subnet contain rhs" -- rhs may be a
// single address or a narrower subnet.
type subnetIndex struct {
	*orderedIndex[string]
}

func newSubnetIndex(t schema.Type) *subnetIndex {
	return &subnetIndex{orderedIndex: newOrderedIndex[string](t, encodeString, decodeString)}
}

func (s *subnetIndex) Append(value any, id uint64) error {
	network, err := parseSubnet(value)
	if err != nil {
		return unsupportedValue(s.typ, value)
	}
	s.appendValue(network.String(), id)
	return nil
}

func (s *subnetIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	if op == query.Contains {
		return s.lookupContains(rhs)
	}
	switch op {
	case query.Equal, query.NotEqual:
		network, err := parseSubnet(rhs)
		if err != nil {
			return nil, unsupportedValue(s.typ, rhs)
		}
		return s.orderedIndex.Lookup(op, network.String())
	case query.In, query.NotIn:
		in, ok := rhs.([]any)
		if !ok {
			return nil, unsupportedValue(s.typ, rhs)
		}
		vals := make([]string, 0, len(in))
		for _, el := range in {
			network, err := parseSubnet(el)
			if err != nil {
				return nil, unsupportedValue(s.typ, el)
			}
			vals = append(vals, network.String())
		}
		return s.orderedIndex.Lookup(op, vals)
	default:
		return nil, unsupported(s.typ, op)
	}
}

func (s *subnetIndex) lookupContains(rhs any) (*roaring64.Bitmap, error) {
	out := roaring64.New()

	switch v := rhs.(type) {
	case string:
		if ip := net.ParseIP(v); ip != nil {
			for cidr, bm := range s.postings {
				_, network, err := net.ParseCIDR(cidr)
				if err == nil && network.Contains(ip) {
					out.Or(bm)
				}
			}
			return out, nil
		}
		narrower, err := parseSubnet(v)
		if err != nil {
			return nil, unsupportedValue(s.typ, v)
		}
		for cidr, bm := range s.postings {
			_, network, err := net.ParseCIDR(cidr)
			if err == nil && subnetContainsSubnet(network, narrower) {
				out.Or(bm)
			}
		}
		return out, nil
	default:
		return nil, unsupportedValue(s.typ, rhs)
	}
}

func subnetContainsSubnet(wide, narrow *net.IPNet) bool {
	wideOnes, wideBits := wide.Mask.Size()
	narrowOnes, narrowBits := narrow.Mask.Size()
	if wideBits != narrowBits || wideOnes > narrowOnes {
		return false
	}
	return wide.Contains(narrow.IP)
}

func parseSubnet(value any) (*net.IPNet, error) {
	switch v := value.(type) {
	case *net.IPNet:
		return v, nil
	case string:
		_, network, err := net.ParseCIDR(v)
		if err != nil {
			return nil, err
		}
		return network, nil
	default:
		return nil, fmt.Errorf("not a subnet value: %v", value)
	}
}
