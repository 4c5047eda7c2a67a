// Package cursor implements the client-visible, credit-flow-controlled
// handle that streams matching events from a source, through zero or
// more accounting stages, to a sink. A cursor owns the set of pending
// hit ids still expected from its source and a small bounded cache of
// materialized events awaiting delivery.
package cursor

import (
	"errors"
	"sync"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

// MaxCursorCacheSize bounds how many materialized events may be
// outstanding (fetched from the source but not yet delivered to the
// sink) at once.
const MaxCursorCacheSize = 100

var (
	ErrSealed    = errors.New("cursor: already sealed")
	ErrFinalized = errors.New("cursor: already finalized")
	ErrBadCredit = errors.New("cursor: credit must be positive")
)

// Event is one materialized row handed back by a source.
type Event struct {
	ID   uint64
	Data any
}

// Source is asked to materialize up to maxEvents events and deliver them
// back via Cursor.Push. A source with nothing left simply returns
// without calling Push, optionally sealing the cursor first.
type Source interface {
	Pull(c *Cursor, maxEvents int)
}

// Sink receives pushed event batches and is notified once the cursor
// reaches Finalized.
type Sink interface {
	Push(events []Event)
	Finalize()
}

// Selector decides whether a materialized event belongs in the result
// (a finer-grained check than the bitmap that produced the candidate
// id, e.g. a predicate the indexer could not fully resolve).
type Selector func(Event) bool

// State is the cursor's lifecycle stage.
type State int

const (
	Active State = iota
	Sealed
	Finalized
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Sealed:
		return "sealed"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Cursor is safe for concurrent use. Its internal lock is held only
// while mutating local state; calls out to Source/Sink always happen
// after releasing it, so a source or sink that calls back into the
// cursor synchronously (as a same-goroutine test double does) never
// deadlocks against a held lock.
type Cursor struct {
	mu sync.Mutex

	state    State
	pending  *roaring.Bitmap
	cache    []Event
	credit   int
	source   Source
	sink     Sink
	selector Selector
}

func AcceptAll(Event) bool { return true }

func New(source Source, sink Sink, selector Selector) *Cursor {
	if selector == nil {
		selector = AcceptAll
	}
	return &Cursor{
		state:    Active,
		pending:  roaring.New(),
		source:   source,
		sink:     sink,
		selector: selector,
	}
}

func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cached reports how many materialized events currently await delivery.
func (c *Cursor) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// AddIds unions ids into the pending hit set, then attempts to pull more
// data from the source. Rejected once the cursor is Sealed or Finalized.
func (c *Cursor) AddIds(ids *roaring.Bitmap) error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return ErrSealed
	}
	c.pending.Or(ids)
	pushBatch, pullRoom, finalize := c.settleLocked()
	c.mu.Unlock()

	c.settle(pushBatch, pullRoom, finalize)
	return nil
}

// Seal transitions Active to Sealed, signaling the source has delivered
// every id it ever will.
func (c *Cursor) Seal() {
	c.mu.Lock()
	if c.state == Active {
		c.state = Sealed
	}
	pushBatch, pullRoom, finalize := c.settleLocked()
	c.mu.Unlock()

	c.settle(pushBatch, pullRoom, finalize)
}

// GrantCredit adds n to the cursor's credit and attempts to push cached
// events to the sink.
func (c *Cursor) GrantCredit(n int) error {
	if n <= 0 {
		return ErrBadCredit
	}
	c.mu.Lock()
	c.credit += n
	pushBatch, pullRoom, finalize := c.settleLocked()
	c.mu.Unlock()

	c.settle(pushBatch, pullRoom, finalize)
	return nil
}

// FetchCredit returns the cursor's current credit and resets it to zero.
// This is the corrected form of the helper found in earlier drafts of
// this design, which accidentally returned the value after clearing it.
func (c *Cursor) FetchCredit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.credit
	c.credit = 0
	return prev
}

// Push consumes a batch of materialized events from the source: each
// event's id is cleared from the pending set regardless of outcome, and
// the event is cached only if it satisfies the selector. Rejected once
// Finalized.
func (c *Cursor) Push(events []Event) error {
	c.mu.Lock()
	if c.state == Finalized {
		c.mu.Unlock()
		return ErrFinalized
	}
	for _, e := range events {
		c.pending.Remove(e.ID)
		if c.selector(e) {
			c.cache = append(c.cache, e)
		}
	}
	pushBatch, pullRoom, finalize := c.settleLocked()
	c.mu.Unlock()

	c.settle(pushBatch, pullRoom, finalize)
	return nil
}

// settleLocked computes, but does not perform, whatever follow-up
// actions this mutation requires: a batch ready for the sink, spare
// cache room worth asking the source to fill, and whether the cursor
// just reached Finalized. Must be called with mu held.
func (c *Cursor) settleLocked() (pushBatch []Event, pullRoom int, finalize bool) {
	if c.sink != nil && c.credit > 0 && len(c.cache) > 0 {
		n := c.credit
		if n > len(c.cache) {
			n = len(c.cache)
		}
		pushBatch = c.cache[:n]
		c.cache = c.cache[n:]
		c.credit -= n
	}

	if c.state == Sealed && c.pending.IsEmpty() && len(c.cache) == 0 {
		c.state = Finalized
		finalize = true
	}

	if c.state != Finalized && c.source != nil {
		if room := MaxCursorCacheSize - len(c.cache); room > 0 {
			pullRoom = room
		}
	}
	return
}

// settle performs the follow-up actions settleLocked computed, always
// outside the lock.
func (c *Cursor) settle(pushBatch []Event, pullRoom int, finalize bool) {
	if len(pushBatch) > 0 {
		c.sink.Push(pushBatch)
	}
	if pullRoom > 0 {
		c.source.Pull(c, pullRoom)
	}
	if finalize {
		c.sink.Finalize()
	}
}
