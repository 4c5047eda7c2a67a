package coordinator

import (
	"testing"
	"time"

	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/valueindex"

	"github.com/google/uuid"
)

func connLayout() schema.Layout {
	return schema.Layout{Name: "conn", Type: schema.Record(
		schema.Field{Name: "bytes", Type: schema.Uint()},
		schema.Field{Name: "service", Type: schema.String()},
	)}
}

func newTestCoordinator(t *testing.T, partitionCap uint64) *Coordinator {
	t.Helper()
	cfg := Config{
		RootDir:       t.TempDir(),
		PartitionCap:  partitionCap,
		Limits:        valueindex.DefaultLimits(),
		CacheCapacity: 4,
		WorkerPool:    2,
		TasteDefault:  4,
	}
	return New(cfg, 1)
}

func sliceOf(t *testing.T, n int, service string) *schema.TableSlice {
	t.Helper()
	bytes := make([]any, n)
	services := make([]any, n)
	for i := 0; i < n; i++ {
		bytes[i] = uint64(i + 1)
		services[i] = service
	}
	slice, err := schema.NewTableSlice(connLayout(), 0, n, [][]any{bytes, services})
	if err != nil {
		t.Fatalf("new slice: %v", err)
	}
	return slice
}

func TestIngestRotatesActiveOnceCapacityExceeded(t *testing.T) {
	c := newTestCoordinator(t, 10)

	seenActive := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		c.mu.Lock()
		seenActive[c.active.ID()] = true
		c.mu.Unlock()
		if err := c.Ingest(sliceOf(t, 10, "http")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	// a rotation happens whenever the slice would push the active partition
	// over capacity, so 3 ingests of 10 rows against a cap of 10 must have
	// rotated to a new active partition id at least once.
	if len(seenActive) < 2 {
		t.Fatalf("expected at least one rotation across 3 full-capacity ingests, saw only %d distinct active ids", len(seenActive))
	}

	snap := c.Status()
	if snap.LayoutsIngested["conn"] != 3 {
		t.Fatalf("expected 3 ingest calls recorded for conn, got %d", snap.LayoutsIngested["conn"])
	}
}

// TestIndexerDoneDrainsUnpersistedOncePerLayout exercises the pending-flush
// counter directly rather than through Ingest's rotation, since the
// background flush goroutine Ingest spawns would otherwise race the
// assertions below.
func TestIndexerDoneDrainsUnpersistedOncePerLayout(t *testing.T) {
	c := newTestCoordinator(t, 100)
	id := c.active.ID()

	c.mu.Lock()
	c.unpersisted[id] = &unpersisted{p: c.active, pendingFlushes: 2}
	c.mu.Unlock()

	c.IndexerDone(id)
	c.mu.Lock()
	_, stillThere := c.unpersisted[id]
	c.mu.Unlock()
	if !stillThere {
		t.Fatalf("expected the partition to remain pending after only 1 of 2 layouts reported done")
	}

	c.IndexerDone(id)
	c.mu.Lock()
	_, stillThere = c.unpersisted[id]
	c.mu.Unlock()
	if stillThere {
		t.Fatalf("expected the partition dropped once every layout reported done")
	}
}

func TestQueryReturnsDoneWhenNoCandidates(t *testing.T) {
	c := newTestCoordinator(t, 100)
	if err := c.Ingest(sliceOf(t, 5, "http")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	expr := query.Pred(query.Field("service"), query.Equal, "nonexistent-service-xyz")
	resp, err := c.Query(expr, 4)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !resp.Done {
		t.Fatalf("expected Done response when the meta index excludes every candidate")
	}
}

func TestQueryDispatchesActivePartition(t *testing.T) {
	c := newTestCoordinator(t, 100)
	if err := c.Ingest(sliceOf(t, 5, "http")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	expr := query.Pred(query.Field("service"), query.Equal, "http")
	resp, err := c.Query(expr, 4)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Done {
		t.Fatalf("expected a schedulable candidate")
	}
	if resp.Scheduled != 1 {
		t.Fatalf("expected exactly 1 scheduled partition, got %d", resp.Scheduled)
	}

	seen := 0
	for res := range resp.Results {
		seen++
		if res.Hits.GetCardinality() != 5 {
			t.Fatalf("expected 5 hits, got %d", res.Hits.GetCardinality())
		}
	}
	if seen != 1 {
		t.Fatalf("expected exactly 1 worker result, got %d", seen)
	}
	c.ReleaseWorker()
}

func TestQueryWithoutIdleWorkerQueuesUntilReleased(t *testing.T) {
	c := newTestCoordinator(t, 100)
	if err := c.Ingest(sliceOf(t, 5, "http")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	c.idleWorkers = 0

	expr := query.Pred(query.Field("service"), query.Equal, "http")
	done := make(chan error, 1)
	go func() {
		_, err := c.Query(expr, 4)
		done <- err
	}()

	select {
	case <-done:
		t.Fatalf("expected Query to block in NoWorker state instead of returning")
	case <-time.After(50 * time.Millisecond):
	}

	c.ReleaseWorker()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("query: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Query to be dispatched once a worker was released")
	}
}

func TestContinueWithUnknownQueryIDIsDoneNotError(t *testing.T) {
	c := newTestCoordinator(t, 100)
	resp, err := c.Continue(999999, 3)
	if err != nil {
		t.Fatalf("expected no error for an unknown query id, got %v", err)
	}
	if !resp.Done {
		t.Fatalf("expected an unknown query id to resolve as Done")
	}
}

func TestContinueWithZeroCancelsRemainderAndReportsDone(t *testing.T) {
	c := newTestCoordinator(t, 10)
	for i := 0; i < 8; i++ {
		if err := c.Ingest(sliceOf(t, 9, "http")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	expr := query.Pred(query.Field("service"), query.Equal, "http")
	resp, err := c.Query(expr, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Done {
		t.Fatalf("expected work scheduled on the first turn")
	}
	if resp.TasteWindow != 2 {
		t.Fatalf("expected taste window of 2, got %d", resp.TasteWindow)
	}
	for range resp.Results {
	}
	c.ReleaseWorker()

	cont, err := c.Continue(resp.QueryID, 0)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !cont.Done {
		t.Fatalf("expected Done once the client cancels with n == 0")
	}

	c.mu.Lock()
	_, stillPending := c.pending[resp.QueryID]
	c.mu.Unlock()
	if stillPending {
		t.Fatalf("expected the pending entry removed after cancellation")
	}
}

func TestSchedulingCapIsMinOfTasteAndRemainingCandidates(t *testing.T) {
	c := newTestCoordinator(t, 10)
	for i := 0; i < 8; i++ {
		if err := c.Ingest(sliceOf(t, 9, "http")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	expr := query.Pred(query.Field("service"), query.Equal, "http")
	resp, err := c.Query(expr, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.TasteWindow != 5 {
		t.Fatalf("expected a taste window of 5 (min(5, candidates)), got %d", resp.TasteWindow)
	}
	for range resp.Results {
	}
	c.ReleaseWorker()

	cont, err := c.Continue(resp.QueryID, 100)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	// 8 candidates total (7 rotated out + 1 active), 5 already taken: 3 remain.
	if cont.TasteWindow != 3 {
		t.Fatalf("expected remaining taste window of min(100, 3) == 3, got %d", cont.TasteWindow)
	}
}

func TestFlushSubscribeClosesOnceIngestQuiesces(t *testing.T) {
	c := newTestCoordinator(t, 100)
	ch := c.FlushSubscribe()
	select {
	case <-ch:
	default:
		t.Fatalf("expected an immediately-closed channel when nothing is inflight")
	}

	if err := c.Ingest(sliceOf(t, 5, "http")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// ingest completed synchronously, so the stream is quiesced again.
	ch = c.FlushSubscribe()
	select {
	case <-ch:
	default:
		t.Fatalf("expected the channel closed once ingest returned")
	}
}

func TestOpenAfterShutdownSeesEveryPartitionAcrossRestart(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		RootDir:       root,
		PartitionCap:  10,
		Limits:        valueindex.DefaultLimits(),
		CacheCapacity: 4,
		WorkerPool:    2,
		TasteDefault:  10,
	}

	c := New(cfg, 1)
	for i := 0; i < 3; i++ {
		if err := c.Ingest(sliceOf(t, 9, "http")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	expr := query.Pred(query.Field("service"), query.Equal, "http")
	before, err := c.Query(expr, 10)
	if err != nil {
		t.Fatalf("query before restart: %v", err)
	}
	hitsBefore := 0
	for res := range before.Results {
		hitsBefore += int(res.Hits.GetCardinality())
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reopened, err := Open(cfg, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	after, err := reopened.Query(expr, 10)
	if err != nil {
		t.Fatalf("query after restart: %v", err)
	}
	if after.Done {
		t.Fatalf("expected the restarted coordinator to still see every flushed partition as a candidate")
	}
	hitsAfter := 0
	for res := range after.Results {
		hitsAfter += int(res.Hits.GetCardinality())
	}

	if hitsAfter != hitsBefore {
		t.Fatalf("expected identical hit counts across restart, got %d before and %d after", hitsBefore, hitsAfter)
	}
}

func TestOpenWithNoPriorMetaIndexBehavesLikeNew(t *testing.T) {
	cfg := Config{
		RootDir:       t.TempDir(),
		PartitionCap:  100,
		Limits:        valueindex.DefaultLimits(),
		CacheCapacity: 4,
		WorkerPool:    2,
		TasteDefault:  4,
	}
	c, err := Open(cfg, 1)
	if err != nil {
		t.Fatalf("open on a fresh root: %v", err)
	}
	snap := c.Status()
	if snap.ActivePartition == (uuid.UUID{}) {
		t.Fatalf("expected a fresh active partition")
	}
}

func TestShutdownFlushesActiveAndUnpersistedPartitions(t *testing.T) {
	c := newTestCoordinator(t, 10)
	for i := 0; i < 3; i++ {
		if err := c.Ingest(sliceOf(t, 10, "http")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
