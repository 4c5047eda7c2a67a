// Package columnindex wraps a single leaf column's valueindex.ValueIndex
// with the file it's persisted to, a dirty bit, and the versioned,
// self-describing blob framing every persisted index file shares: a
// leading type tag, a last-flush id, and an implementation-defined
// payload (spec section 6).
package columnindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/compression"
	"github.com/evtdb/eventindex/errs"
	"github.com/evtdb/eventindex/fio"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/valueindex"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

var byteOrder = binary.LittleEndian

const blobVersion = 1

// DebugDumpBlobs, when set, spew-dumps the raw and compressed payload on
// every flush. Off by default -- too verbose for routine use.
var DebugDumpBlobs = false

// ColumnIndex owns the on-disk lifecycle of one leaf column's value index:
// lazy load on first touch, in-memory appends, and an explicit Flush that
// only touches disk when something actually changed since the last one.
type ColumnIndex struct {
	path   string
	leaf   schema.LeafColumn
	limits valueindex.Limits

	inner     valueindex.ValueIndex
	lastFlush uint64
	dirty     bool
}

// New creates a fresh, empty column index backed by path (not yet
// written -- the file only appears after the first Flush).
func New(path string, leaf schema.LeafColumn, limits valueindex.Limits) (*ColumnIndex, error) {
	inner, err := valueindex.New(leaf.Type, limits)
	if err != nil {
		return nil, err
	}
	return &ColumnIndex{path: path, leaf: leaf, limits: limits, inner: inner}, nil
}

// Open loads path if it exists, or creates a fresh index if it doesn't.
func Open(path string, leaf schema.LeafColumn, limits valueindex.Limits) (*ColumnIndex, error) {
	compressed, err := readBlob(path)
	if os.IsNotExist(err) {
		return New(path, leaf, limits)
	}
	if err != nil {
		return nil, fmt.Errorf("column index %s: %w: %v", path, errs.ErrIO, err)
	}

	raw, err := compression.DecompressLz4(compressed)
	if err != nil {
		return nil, fmt.Errorf("column index %s: %w: %v", path, errs.ErrInvalidFormat, err)
	}

	if DebugDumpBlobs {
		spew.Dump("column index decompressed on open", path, raw)
	}

	kind, lastFlush, payload, err := decodeBlob(raw)
	if err != nil {
		return nil, fmt.Errorf("column index %s: %w: %v", path, errs.ErrInvalidFormat, err)
	}
	if kind != leaf.Type.Kind {
		return nil, fmt.Errorf("column index %s: on-disk kind %v does not match layout kind %v: %w", path, kind, leaf.Type.Kind, errs.ErrInitFailure)
	}

	inner, err := valueindex.Load(leaf.Type, limits, payload)
	if err != nil {
		return nil, fmt.Errorf("column index %s: %w: %v", path, errs.ErrInvalidFormat, err)
	}

	return &ColumnIndex{path: path, leaf: leaf, limits: limits, inner: inner, lastFlush: lastFlush}, nil
}

func (c *ColumnIndex) Path() string           { return c.path }
func (c *ColumnIndex) Leaf() schema.LeafColumn { return c.leaf }
func (c *ColumnIndex) Offset() uint64         { return c.inner.Offset() }
func (c *ColumnIndex) Dirty() bool            { return c.dirty }

// Add records value at id and marks the index dirty.
func (c *ColumnIndex) Add(value any, id uint64) error {
	if err := c.inner.Append(value, id); err != nil {
		return err
	}
	c.dirty = true
	return nil
}

// Lookup answers a single curried predicate against this column.
func (c *ColumnIndex) Lookup(op query.Operator, rhs any) (*roaring.Bitmap, error) {
	return c.inner.Lookup(op, rhs)
}

// Flush serializes the index to disk atomically, skipping the write
// entirely if nothing has changed since the last flush.
func (c *ColumnIndex) Flush() error {
	if !c.dirty {
		return nil
	}
	payload, err := c.inner.Serialize()
	if err != nil {
		return fmt.Errorf("column index %s: %w: %v", c.path, errs.ErrIO, err)
	}

	blob := encodeBlob(c.leaf.Type.Kind, c.inner.Offset(), payload)

	start := time.Now()
	var compressed bytes.Buffer
	if err := compression.CompressLz4(blob, &compressed); err != nil {
		return fmt.Errorf("column index %s: %w: %v", c.path, errs.ErrIO, err)
	}

	if DebugDumpBlobs {
		spew.Dump("column index raw blob", c.path, blob)
		spew.Dump("column index compressed blob", c.path, compressed.Bytes())
	}

	if err := fio.WriteFileAtomic(c.path, compressed.Bytes()); err != nil {
		return fmt.Errorf("column index %s: %w: %v", c.path, errs.ErrIO, err)
	}

	ratio := float64(compressed.Len()) / float64(len(blob))
	color.Yellow("flushed column index %s: %d -> %d bytes [%.2f%%] %.2fms", c.path, len(blob), compressed.Len(), ratio*100, time.Since(start).Seconds()*1000)

	c.lastFlush = c.inner.Offset()
	c.dirty = false
	return nil
}

func encodeBlob(kind schema.Kind, lastFlush uint64, payload []byte) []byte {
	w := bits.NewEncodeBuffer(make([]byte, 0, len(payload)+16), byteOrder)
	w.EnableGrowing()
	w.WriteByte(blobVersion)
	w.WriteByte(byte(kind))
	w.PutUint64(lastFlush)
	w.Write(payload)
	return w.Bytes()
}

func decodeBlob(raw []byte) (schema.Kind, uint64, []byte, error) {
	r := bits.NewReader(bytes.NewReader(raw), byteOrder)

	version, err := r.ReadU8()
	if err != nil {
		return 0, 0, nil, err
	}
	if version != blobVersion {
		return 0, 0, nil, fmt.Errorf("unsupported blob version %d", version)
	}
	kindByte, err := r.ReadU8()
	if err != nil {
		return 0, 0, nil, err
	}
	lastFlush, err := r.ReadU64()
	if err != nil {
		return 0, 0, nil, err
	}

	payload := raw[10:]
	return schema.Kind(kindByte), lastFlush, payload, nil
}
