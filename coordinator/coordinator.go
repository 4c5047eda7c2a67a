// Package coordinator implements the top-level state machine: it routes
// ingest slices into a rotating active partition, dispatches query
// expressions across resident and on-disk partitions via a worker pool,
// and exposes status, flush notification, and telemetry hooks. Every
// inbound event from the spec's coordinator section becomes one
// exported method here, each atomic under the coordinator's lock.
package coordinator

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/evtdb/eventindex/compression"
	"github.com/evtdb/eventindex/errs"
	"github.com/evtdb/eventindex/fio"
	"github.com/evtdb/eventindex/metaindex"
	"github.com/evtdb/eventindex/partcache"
	"github.com/evtdb/eventindex/partition"
	"github.com/evtdb/eventindex/query"
	"github.com/evtdb/eventindex/schema"
	"github.com/evtdb/eventindex/telemetry"
	"github.com/evtdb/eventindex/valueindex"
	"github.com/evtdb/eventindex/worker"

	"github.com/google/uuid"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// Readiness mirrors the spec's NoWorker/HasWorker states: queries are
// deferred while no worker is idle.
type Readiness int

const (
	NoWorker Readiness = iota
	HasWorker
)

type unpersisted struct {
	p              *partition.Partition
	pendingFlushes int
}

type pendingQuery struct {
	expr       *query.Expr
	remaining  []uuid.UUID
}

// Config bundles the coordinator's fixed parameters.
type Config struct {
	RootDir       string
	PartitionCap  uint64
	Limits        valueindex.Limits
	CacheCapacity int
	WorkerPool    int
	TasteDefault  int
}

// Coordinator is the engine's single top-level state machine instance.
type Coordinator struct {
	mu sync.Mutex

	cfg Config

	active      *partition.Partition
	unpersisted map[uuid.UUID]*unpersisted
	cache       *partcache.Cache
	meta        *metaindex.MetaIndex

	idleWorkers int
	pool        *worker.Pool
	waiters     []chan struct{} // FIFO queue of Query/Continue calls blocked on a worker

	pending     map[uint64]*pendingQuery
	nextQueryID uint64

	inflight         int
	flushSubscribers []chan struct{}

	telemetry *telemetry.Registry

	layoutCounts map[string]uint64
}

// New creates a coordinator with a fresh active partition and an empty
// meta index. The idle-worker count starts at idleWorkers, matching a pool
// that has not yet been handed any work.
func New(cfg Config, idleWorkers int) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		unpersisted:  make(map[uuid.UUID]*unpersisted),
		meta:         metaindex.New(),
		idleWorkers:  idleWorkers,
		pool:         worker.New(cfg.WorkerPool),
		pending:      make(map[uint64]*pendingQuery),
		telemetry:    telemetry.NewRegistry(),
		layoutCounts: make(map[string]uint64),
	}
	c.cache = partcache.New(cfg.CacheCapacity, c.loadPartition)
	c.active = partition.New(cfg.RootDir, uuid.New(), cfg.PartitionCap, cfg.Limits)
	return c
}

func (c *Coordinator) loadPartition(id uuid.UUID) (*partition.Partition, error) {
	return partition.Open(c.cfg.RootDir, id, c.cfg.PartitionCap, c.cfg.Limits)
}

// Open restores a coordinator from rootDir's previously flushed meta
// index, if one exists, so that queries issued after a process restart
// see every partition flushed before exit. A missing meta index is not
// an error: it means this root has never been flushed before, and Open
// behaves exactly like New.
func Open(cfg Config, idleWorkers int) (*Coordinator, error) {
	c := New(cfg, idleWorkers)

	path := filepath.Join(cfg.RootDir, "meta_index")
	compressed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator: open: %w: %v", errs.ErrIO, err)
	}

	raw, err := compression.DecompressLz4(compressed)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open: %w: %v", errs.ErrInvalidFormat, err)
	}
	if err := c.meta.Deserialize(raw); err != nil {
		return nil, fmt.Errorf("coordinator: open: %w: %v", errs.ErrInvalidFormat, err)
	}
	return c, nil
}

// Ready reports whether the coordinator currently accepts new queries.
func (c *Coordinator) Ready() Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleWorkers > 0 {
		return HasWorker
	}
	return NoWorker
}

// Ingest routes one table slice into the active partition, rotating it
// out first if the slice would push it over capacity.
func (c *Coordinator) Ingest(slice *schema.TableSlice) error {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		quiesced := c.inflight == 0
		subs := c.flushSubscribers
		if quiesced {
			c.flushSubscribers = nil
		}
		c.mu.Unlock()
		if quiesced {
			for _, ch := range subs {
				close(ch)
			}
		}
	}()

	// The lock stays held across the partition mutation itself: neither
	// partition.Partition nor the tableindexer/columnindex layers beneath
	// it hold their own lock, so two concurrent Ingest calls touching the
	// same active partition would otherwise race on its internal maps.
	c.mu.Lock()
	if c.active.Total()+uint64(slice.Rows) > c.cfg.PartitionCap {
		c.rotateLocked()
	}
	active := c.active
	c.layoutCounts[slice.Layout.Name]++

	if err := active.Add(slice); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: ingest: %w", err)
	}
	c.meta.Add(active.ID().String(), slice)
	c.mu.Unlock()

	for _, field := range slice.Layout.Flatten() {
		c.telemetry.Field(field.Path).Observe(uint64(slice.Rows), 0)
	}
	return nil
}

// rotateLocked retires the active partition into the unpersisted set and
// starts a fresh one. Must be called with mu held.
func (c *Coordinator) rotateLocked() {
	old := c.active
	layouts := old.Layouts()
	c.unpersisted[old.ID()] = &unpersisted{p: old, pendingFlushes: len(layouts)}

	go func(p *partition.Partition, indexers int) {
		if err := p.FlushToDisk(); err != nil {
			slog.Warn("background partition flush failed", "partition", p.ID(), "error", err)
		}
		// one "indexer done" report per table indexer this partition owned,
		// matching the pending-flush counter it was registered with.
		for i := 0; i < indexers; i++ {
			c.IndexerDone(p.ID())
		}
	}(old, len(layouts))

	c.active = partition.New(c.cfg.RootDir, uuid.New(), c.cfg.PartitionCap, c.cfg.Limits)
}

// IndexerDone records that one of a partition's table indexers finished
// its background flush; once every indexer for an unpersisted partition
// has reported done, it is dropped from the unpersisted set (it may
// still be demand-loaded from disk into the LRU cache later).
func (c *Coordinator) IndexerDone(partitionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.unpersisted[partitionID]
	if !ok {
		return
	}
	u.pendingFlushes--
	if u.pendingFlushes <= 0 {
		delete(c.unpersisted, partitionID)
	}
	c.wakeNextWaiterLocked()
}

// ReleaseWorker returns a worker to the idle pool, possibly transitioning
// NoWorker -> HasWorker. If a Query/Continue call is queued waiting for a
// worker, it is handed this one directly rather than left to poll.
func (c *Coordinator) ReleaseWorker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleWorkers++
	c.wakeNextWaiterLocked()
}

// waitForWorkerLocked blocks the caller until an idle worker is available,
// queuing it behind any earlier waiter -- the NoWorker state defers queries
// rather than rejecting them. Must be called with mu held; it may release
// and reacquire mu while waiting, and always returns with mu held and
// c.idleWorkers > 0.
func (c *Coordinator) waitForWorkerLocked() {
	for c.idleWorkers == 0 {
		ch := make(chan struct{})
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
	}
}

// wakeNextWaiterLocked hands the next queued waiter, if any, the worker
// that just became idle. Must be called with mu held.
func (c *Coordinator) wakeNextWaiterLocked() {
	if len(c.waiters) == 0 || c.idleWorkers == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(ch)
}

// QueryResponse is what Query/Continue hand back to the client.
type QueryResponse struct {
	QueryID         uint64
	TotalCandidates int // every partition the meta index could not exclude
	TasteWindow     int // min(taste, remaining candidates) -- this turn's dispatch size
	Scheduled       int // TasteWindow minus any partition dropped for resolving no predicates
	Results         <-chan worker.Result
	Done            bool // true when there is nothing to schedule, ever
}

// Query dispatches expr: it consults the meta index for candidate
// partitions, schedules resident partitions ahead of ones that need a
// disk load, evaluates up to taste of them right away, and remembers any
// remainder under a fresh query id. While no worker is idle (NoWorker),
// the call blocks in a FIFO queue rather than failing; it returns as soon
// as a worker is released to it.
func (c *Coordinator) Query(expr *query.Expr, taste int) (QueryResponse, error) {
	c.mu.Lock()
	c.waitForWorkerLocked()
	candidates := c.meta.Lookup(expr)
	if len(candidates) == 0 {
		c.mu.Unlock()
		return QueryResponse{Done: true}, nil
	}
	ordered := c.orderByResidencyLocked(stringsToUUIDs(candidates))

	if taste <= 0 {
		taste = c.cfg.TasteDefault
	}
	if taste > len(ordered) {
		taste = len(ordered)
	}
	round := ordered[:taste]
	remaining := ordered[taste:]

	batch, err := c.buildBatchLocked(expr, round)
	if err != nil {
		c.mu.Unlock()
		return QueryResponse{}, err
	}

	c.nextQueryID++
	qid := c.nextQueryID
	if len(remaining) > 0 {
		c.pending[qid] = &pendingQuery{expr: expr, remaining: remaining}
	}
	c.idleWorkers--
	c.mu.Unlock()

	results := c.pool.Run(batch)
	return QueryResponse{
		QueryID:         qid,
		TotalCandidates: len(candidates),
		TasteWindow:     len(round),
		Scheduled:       len(batch),
		Results:         results,
	}, nil
}

// Continue fetches up to n more candidates for an already-issued query.
// n == 0 means the client abandoned the query; the pending entry is
// dropped and no work is scheduled.
func (c *Coordinator) Continue(queryID uint64, n int) (QueryResponse, error) {
	c.mu.Lock()
	pq, ok := c.pending[queryID]
	if !ok {
		c.mu.Unlock()
		// an unknown query id is not an error: it is answered the same way
		// as a query with nothing left to schedule.
		return QueryResponse{QueryID: queryID, Done: true}, nil
	}
	if n == 0 {
		delete(c.pending, queryID)
		c.mu.Unlock()
		return QueryResponse{QueryID: queryID, Done: true}, nil
	}
	c.waitForWorkerLocked()

	if n > len(pq.remaining) {
		n = len(pq.remaining)
	}
	round := pq.remaining[:n]
	pq.remaining = pq.remaining[n:]
	if len(pq.remaining) == 0 {
		delete(c.pending, queryID)
	}

	batch, err := c.buildBatchLocked(pq.expr, round)
	if err != nil {
		c.mu.Unlock()
		return QueryResponse{}, err
	}
	c.idleWorkers--
	c.mu.Unlock()

	results := c.pool.Run(batch)
	return QueryResponse{QueryID: queryID, TasteWindow: len(round), Scheduled: len(batch), Results: results}, nil
}

func stringsToUUIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// orderByResidencyLocked places every candidate already resident
// (active, unpersisted, or LRU-cached) ahead of ones that would require
// a disk load, preserving relative order within each group.
func (c *Coordinator) orderByResidencyLocked(candidates []uuid.UUID) []uuid.UUID {
	resident := make([]uuid.UUID, 0, len(candidates))
	cold := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if c.isResidentLocked(id) {
			resident = append(resident, id)
		} else {
			cold = append(cold, id)
		}
	}
	return append(resident, cold...)
}

func (c *Coordinator) isResidentLocked(id uuid.UUID) bool {
	if c.active != nil && c.active.ID() == id {
		return true
	}
	if _, ok := c.unpersisted[id]; ok {
		return true
	}
	return c.cache.Contains(id)
}

func (c *Coordinator) acquireLocked(id uuid.UUID) (*partition.Partition, error) {
	if c.active != nil && c.active.ID() == id {
		return c.active, nil
	}
	if u, ok := c.unpersisted[id]; ok {
		return u.p, nil
	}
	return c.cache.Get(id)
}

// buildBatchLocked resolves expr against every partition in ids,
// dropping any partition whose evaluation map turns out empty.
func (c *Coordinator) buildBatchLocked(expr *query.Expr, ids []uuid.UUID) ([]worker.Task, error) {
	batch := make([]worker.Task, 0, len(ids))
	for _, id := range ids {
		p, err := c.acquireLocked(id)
		if err != nil {
			slog.Warn("dropping candidate partition that failed to load", "partition", id, "error", err)
			continue
		}
		em, err := p.Eval(expr)
		if err != nil {
			return nil, fmt.Errorf("coordinator: eval partition %s: %w", id, err)
		}
		if len(em) == 0 {
			continue
		}
		universe := make(map[string]*roaring.Bitmap, len(em))
		for layout := range em {
			universe[layout] = p.RowIDs(layout)
		}
		batch = append(batch, worker.Task{
			PartitionID: id,
			Expr:        expr,
			EvalMap:     em,
			Universe:    universe,
			RowCap:      p.Total(),
		})
	}
	return batch, nil
}

// Snapshot is a structured view of the coordinator's current state.
type Snapshot struct {
	ActivePartition       uuid.UUID
	CachedPartitions      []uuid.UUID
	UnpersistedPartitions []uuid.UUID
	LayoutsIngested       map[string]uint64
}

func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	unpersistedIDs := maps.Keys(c.unpersisted)
	sort.Slice(unpersistedIDs, func(i, j int) bool {
		return unpersistedIDs[i].String() < unpersistedIDs[j].String()
	})

	counts := make(map[string]uint64, len(c.layoutCounts))
	for k, v := range c.layoutCounts {
		counts[k] = v
	}

	var active uuid.UUID
	if c.active != nil {
		active = c.active.ID()
	}

	return Snapshot{
		ActivePartition:       active,
		CachedPartitions:      c.cache.Ids(),
		UnpersistedPartitions: unpersistedIDs,
		LayoutsIngested:       counts,
	}
}

// FlushSubscribe returns a channel closed the next time the ingest
// stream quiesces (no slice currently being applied).
func (c *Coordinator) FlushSubscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{})
	if c.inflight == 0 {
		close(ch)
		return ch
	}
	c.flushSubscribers = append(c.flushSubscribers, ch)
	return ch
}

// TelemetryTick snapshots the per-field counters. Callers typically wire
// Telemetry() to a telemetry.Ticker for periodic reports; this method is
// exposed directly so the coordinator's own shutdown path can emit one
// final report without waiting for the next timer.
func (c *Coordinator) TelemetryTick() telemetry.Report {
	return c.telemetry.Snapshot(time.Now())
}

// Telemetry exposes the coordinator's field registry so a caller can
// drive its own telemetry.Ticker against it.
func (c *Coordinator) Telemetry() *telemetry.Registry {
	return c.telemetry
}

// Shutdown emits a final accounting report, flushes the meta index, the
// active partition, and every unpersisted partition's metadata, then
// returns. The first error encountered is returned, but every flush is
// still attempted.
func (c *Coordinator) Shutdown() error {
	report := c.TelemetryTick()
	slog.Info("coordinator shutdown: final accounting", "fields", len(report.Fields))

	c.mu.Lock()
	defer c.mu.Unlock()

	var g errgroup.Group
	g.Go(c.flushMetaIndexLocked)
	if c.active != nil {
		active := c.active
		g.Go(active.FlushToDisk)
	}
	for _, u := range c.unpersisted {
		p := u.p
		g.Go(p.FlushToDisk)
	}
	return g.Wait()
}

func (c *Coordinator) flushMetaIndexLocked() error {
	blob, err := c.meta.Serialize()
	if err != nil {
		return fmt.Errorf("coordinator: serialize meta index: %w", err)
	}

	var compressed bytes.Buffer
	if err := compression.CompressLz4(blob, &compressed); err != nil {
		return fmt.Errorf("coordinator: compress meta index: %w", err)
	}
	if err := os.MkdirAll(c.cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("coordinator: %w: %v", errs.ErrIO, err)
	}
	path := filepath.Join(c.cfg.RootDir, "meta_index")
	if err := fio.WriteFileAtomic(path, compressed.Bytes()); err != nil {
		return fmt.Errorf("coordinator: %w: %v", errs.ErrIO, err)
	}
	return nil
}
