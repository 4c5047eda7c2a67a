package schema

import "fmt"

// TableSlice is an immutable, reference-shared batch of rows sharing one
// fixed layout, carrying the global event id of its first row. Ids of a
// slice form the contiguous range [Offset, Offset+Rows).
type TableSlice struct {
	Layout Layout
	Offset uint64
	Rows   int

	// columns is column-major, one entry per Layout.Flatten() leaf, in the
	// same order. Each entry holds exactly Rows values.
	columns [][]any
}

// NewTableSlice builds a slice over pre-flattened column data. columns must
// have one entry per leaf column of layout, each of length rows.
func NewTableSlice(layout Layout, offset uint64, rows int, columns [][]any) (*TableSlice, error) {
	leaves := layout.Flatten()
	if len(columns) != len(leaves) {
		return nil, fmt.Errorf("table slice: expected %d columns for layout %q, got %d", len(leaves), layout.Name, len(columns))
	}
	for i, col := range columns {
		if len(col) != rows {
			return nil, fmt.Errorf("table slice: column %q has %d values, expected %d rows", leaves[i].Path, len(col), rows)
		}
	}

	return &TableSlice{Layout: layout, Offset: offset, Rows: rows, columns: columns}, nil
}

// At returns the cell value at (row, column), column being a leaf index
// into Layout.Flatten().
func (s *TableSlice) At(row, column int) any {
	return s.columns[column][row]
}

// Column returns the full data view of one leaf column.
func (s *TableSlice) Column(column int) []any {
	return s.columns[column]
}

// ColumnByPath looks a leaf column up by its dotted path, returning its
// index and data view.
func (s *TableSlice) ColumnByPath(path string) (int, []any, bool) {
	for i, leaf := range s.Layout.Flatten() {
		if leaf.Path == path {
			return i, s.columns[i], true
		}
	}
	return -1, nil, false
}

// End returns one past the last id carried by this slice.
func (s *TableSlice) End() uint64 {
	return s.Offset + uint64(s.Rows)
}
