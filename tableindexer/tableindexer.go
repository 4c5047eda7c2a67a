// Package tableindexer indexes every non-skipped leaf column of one
// layout, fanning a row out to one columnindex.ColumnIndex per leaf and
// tracking which row ids this layout has actually seen.
package tableindexer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/evtdb/eventindex/columnindex"
	"github.com/evtdb/eventindex/fio"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/valueindex"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

const rowIDsFile = "row_ids.idx"

// TableIndexer owns the set of column indexes for one layout within one
// partition directory.
type TableIndexer struct {
	dir    string
	layout schema.Layout
	limits valueindex.Limits

	leaves  []schema.LeafColumn
	columns map[string]*columnindex.ColumnIndex // keyed by leaf path
	rowIDs  *roaring.Bitmap
	nextID  uint64
	dirty   bool
}

func (ti *TableIndexer) rowIDsPath() string {
	return filepath.Join(ti.dir, rowIDsFile)
}

// Open opens (or creates) every non-skipped leaf column's index under
// dir, one file per leaf.ColumnFile().
func Open(dir string, layout schema.Layout, limits valueindex.Limits) (*TableIndexer, error) {
	leaves := layout.Flatten()
	ti := &TableIndexer{
		dir:     dir,
		layout:  layout,
		limits:  limits,
		leaves:  leaves,
		columns: make(map[string]*columnindex.ColumnIndex),
		rowIDs:  roaring.New(),
	}

	for _, leaf := range leaves {
		if leaf.Type.Skip() {
			continue
		}
		path := filepath.Join(dir, leaf.ColumnFile())
		ci, err := columnindex.Open(path, leaf, limits)
		if err != nil {
			return nil, fmt.Errorf("table indexer %s: column %s: %w", layout.Name, leaf.Path, err)
		}
		ti.columns[leaf.Path] = ci
		if off := ci.Offset(); off > ti.nextID {
			ti.nextID = off
		}
	}

	buf, err := os.ReadFile(ti.rowIDsPath())
	switch {
	case err == nil:
		if err := ti.rowIDs.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("table indexer %s: row ids: %w", layout.Name, err)
		}
	case os.IsNotExist(err):
		// no row-ids snapshot (first run, or a partition written before
		// this file existed): ids are contiguous per slice, but gaps can
		// span slices, so this can only be a best-effort approximation.
		if ti.nextID > 0 {
			ti.rowIDs.AddRange(0, ti.nextID)
		}
	default:
		return nil, fmt.Errorf("table indexer %s: row ids: %w", layout.Name, err)
	}

	return ti, nil
}

func (ti *TableIndexer) Layout() schema.Layout { return ti.layout }
func (ti *TableIndexer) Offset() uint64        { return ti.nextID }
func (ti *TableIndexer) RowIDs() *roaring.Bitmap { return ti.rowIDs.Clone() }

// AddSlice indexes every row of slice. slice.Offset must be at or ahead
// of the indexer's current offset; an offset ahead of it leaves a gap
// that is implicitly zero-extended -- those ids are never seen as set in
// rowIDs or any column posting.
func (ti *TableIndexer) AddSlice(slice *schema.TableSlice) error {
	if slice.Offset < ti.nextID {
		return fmt.Errorf("table indexer %s: slice offset %d precedes current offset %d", ti.layout.Name, slice.Offset, ti.nextID)
	}

	for row := 0; row < slice.Rows; row++ {
		id := slice.Offset + uint64(row)
		for i, leaf := range ti.leaves {
			if leaf.Type.Skip() {
				continue
			}
			ci := ti.columns[leaf.Path]
			if err := ci.Add(slice.At(row, i), id); err != nil {
				return fmt.Errorf("table indexer %s: row %d column %s: %w", ti.layout.Name, id, leaf.Path, err)
			}
		}
		ti.rowIDs.Add(id)
	}
	ti.nextID = slice.End()
	ti.dirty = true
	return nil
}

// Lookup evaluates a single curried predicate against the named leaf
// column.
func (ti *TableIndexer) Lookup(leafPath string, op query.Operator, rhs any) (*roaring.Bitmap, error) {
	ci, ok := ti.columns[leafPath]
	if !ok {
		return nil, fmt.Errorf("table indexer %s: no such column %q", ti.layout.Name, leafPath)
	}
	return ci.Lookup(op, rhs)
}

// Flush persists every dirty column index plus the row-ids snapshot that
// lets a reopen recover exactly which ids were ingested, gaps included.
func (ti *TableIndexer) Flush() error {
	var first error
	for path, ci := range ti.columns {
		if err := ci.Flush(); err != nil && first == nil {
			first = fmt.Errorf("table indexer %s: column %s: %w", ti.layout.Name, path, err)
		}
	}
	if ti.dirty {
		buf, err := ti.rowIDs.ToBytes()
		if err != nil {
			if first == nil {
				first = fmt.Errorf("table indexer %s: row ids: %w", ti.layout.Name, err)
			}
			return first
		}
		if err := fio.WriteFileAtomic(ti.rowIDsPath(), buf); err != nil {
			if first == nil {
				first = fmt.Errorf("table indexer %s: row ids: %w", ti.layout.Name, err)
			}
			return first
		}
		ti.dirty = false
	}
	return first
}

// Dirty reports whether any column, or the row-ids snapshot itself, has
// unflushed writes.
func (ti *TableIndexer) Dirty() bool {
	if ti.dirty {
		return true
	}
	for _, ci := range ti.columns {
		if ci.Dirty() {
			return true
		}
	}
	return false
}
