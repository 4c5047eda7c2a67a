package columnindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/valueindex"
)

func TestFlushSkipsWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	leaf := schema.LeafColumn{Path: "service", Type: schema.String()}

	ci, err := New(filepath.Join(dir, "service.col"), leaf, valueindex.DefaultLimits())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := ci.Flush(); err != nil {
		t.Fatalf("flush on clean index: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "service.col")); err == nil {
		t.Fatalf("expected no file written for a flush with no pending writes")
	}
}

func TestAddFlushReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.col")
	leaf := schema.LeafColumn{Path: "service", Type: schema.String()}

	ci, err := New(path, leaf, valueindex.DefaultLimits())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for id, v := range []string{"http", "dns", "http"} {
		if err := ci.Add(v, uint64(id)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if err := ci.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if ci.Dirty() {
		t.Fatalf("expected clean index after flush")
	}

	reopened, err := Open(path, leaf, valueindex.DefaultLimits())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Offset() != 3 {
		t.Fatalf("expected offset 3 after reopen, got %d", reopened.Offset())
	}

	hits, err := reopened.Lookup(query.Equal, "http")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if hits.GetCardinality() != 2 {
		t.Fatalf("expected 2 hits for 'http', got %d", hits.GetCardinality())
	}
}

func TestOpenCreatesFreshWhenMissing(t *testing.T) {
	dir := t.TempDir()
	leaf := schema.LeafColumn{Path: "host", Type: schema.Int()}

	ci, err := Open(filepath.Join(dir, "missing.col"), leaf, valueindex.DefaultLimits())
	if err != nil {
		t.Fatalf("open missing: %v", err)
	}
	if ci.Offset() != 0 {
		t.Fatalf("expected fresh index at offset 0, got %d", ci.Offset())
	}
}
