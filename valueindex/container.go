package valueindex

import (
	"fmt"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// containerIndex backs vector/set columns by delegating to a single inner
// ValueIndex of the element type: every element of a row's container is
// appended at the row's id, so a distinct element value's posting bitmap
// ends up holding every row id where that value occurred anywhere in the
// container. Lookup is then exactly "does any element match", which is
// just the inner index's own Lookup -- no extra bookkeeping needed.
type containerIndex struct {
	typ    schema.Type
	inner  ValueIndex
	limits Limits
}

func newContainerIndex(t schema.Type, inner ValueIndex, limits Limits) *containerIndex {
	return &containerIndex{typ: t, inner: inner, limits: limits}
}

func (c *containerIndex) Type() schema.Type { return c.typ }
func (c *containerIndex) Offset() uint64    { return c.inner.Offset() }

func (c *containerIndex) Append(value any, id uint64) error {
	elems, ok := value.([]any)
	if !ok {
		return unsupportedValue(c.typ, value)
	}
	n := len(elems)
	if c.limits.MaxContainerElems > 0 && n > c.limits.MaxContainerElems {
		n = c.limits.MaxContainerElems
	}
	for _, el := range elems[:n] {
		if err := c.inner.Append(el, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *containerIndex) Lookup(op query.Operator, rhs any) (*roaring64.Bitmap, error) {
	return c.inner.Lookup(op, rhs)
}

func (c *containerIndex) Serialize() ([]byte, error) {
	return c.inner.Serialize()
}

func (c *containerIndex) deserialize(data []byte) error {
	loader, ok := c.inner.(loadable)
	if !ok {
		return fmt.Errorf("value index: container element type has no loader")
	}
	return loader.deserialize(data)
}
