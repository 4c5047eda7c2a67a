// Package worker implements the fixed-size pool that drives evaluators
// for one query batch: each task folds one partition's evaluation map
// into a single hit bitmap, and the pool signals completion to the
// client by closing the results channel once every task has run.
package worker

import (
	"log/slog"
	"sync"

	"github.com/evtdb/eventindex/evaluator"
	"github.com/evtdb/eventindex/partition"
	"github.com/evtdb/eventindex/query"

	"github.com/google/uuid"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
)

// Task is one partition's share of a query batch: its resolved
// evaluation map (one entry per layout that resolved at least one
// predicate) plus the row universe each layout needs for NOT folding.
type Task struct {
	PartitionID uuid.UUID
	Expr        *query.Expr
	EvalMap     partition.EvaluationMap
	Universe    map[string]*roaring.Bitmap
	RowCap      uint64
}

// Result is what the pool relays back to the client for one partition.
type Result struct {
	PartitionID uuid.UUID
	Hits        *roaring.Bitmap
	RowCap      uint64
}

// Pool is a fixed number of worker goroutines, matching the teacher's
// StartWorkerThreads shape: N goroutines draining one shared task
// channel until it closes.
type Pool struct {
	size int
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Run drives every task in batch across the pool concurrently, returning
// a channel that yields one Result per task and is closed once all
// evaluators have completed -- the "done" signal is the channel close,
// matching the spec's "signal done once all evaluators complete".
func (p *Pool) Run(batch []Task) <-chan Result {
	tasks := make(chan Task, len(batch))
	for _, t := range batch {
		tasks <- t
	}
	close(tasks)

	out := make(chan Result, len(batch))
	var wg sync.WaitGroup

	routines := p.size
	if routines > len(batch) {
		routines = len(batch)
	}
	if routines < 1 {
		routines = 1
	}

	for i := 0; i < routines; i++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			slog.Debug("worker started", "thread_id", threadID)
			defer slog.Debug("worker stopped", "thread_id", threadID)

			for task := range tasks {
				out <- runTask(task)
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// runTask resolves every layout in task.EvalMap concurrently -- a
// partition with several matching layouts gets each one evaluated on
// its own goroutine -- then unions the per-layout hit sets. A single
// layout's evaluation never errors (evaluator.Evaluate has no error
// return), so the errgroup here only buys fan-out, not error handling.
func runTask(task Task) Result {
	acc := roaring.New()
	var mu sync.Mutex

	var g errgroup.Group
	for layout, triples := range task.EvalMap {
		layout, triples := layout, triples
		g.Go(func() error {
			universe, ok := task.Universe[layout]
			if !ok {
				universe = roaring.New()
			}
			hits := evaluator.Evaluate(task.Expr, triples, universe)

			mu.Lock()
			acc.Or(hits)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return Result{PartitionID: task.PartitionID, Hits: acc, RowCap: task.RowCap}
}
