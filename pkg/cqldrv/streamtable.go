package cqldrv

import (
	"sync"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// streamSinkKind distinguishes a plain request/response slot from the
// single always-outstanding event-subscription slot (Stream-id
// table).
type streamSinkKind int

const (
	sinkOneShot streamSinkKind = iota
	sinkEventSubscription
)

// streamEntry is the stream-id table's value type: // { sender, submitted_at, kind }.
type streamEntry struct {
	kind        streamSinkKind
	submittedAt time.Time
	deliver     func(*cqlproto.Frame, error)
}

// streamTable is the bounded stream-id <-> pending-response mapping one
// connection owns. At most one outstanding holder exists per id; an id is
// recycled only after its response (or an error) has been delivered. A
// single mutex guards the whole table and its free-list allocator,
// since Cassandra stream ids are a small bounded space that must be
// reused rather than a monotonic counter.
type streamTable struct {
	mu      sync.Mutex
	free    []int16 // free list, acts as a stack for cheap alloc/release
	entries map[int16]streamEntry
	waiters []chan struct{} // woken on release when acquire found none free
	max     int16
}

func newStreamTable(version cqlproto.Version) *streamTable {
	max := cqlproto.MaxStreamID(version)
	free := make([]int16, max)
	for i := range free {
		free[i] = int16(i) + 1 // stream 0 reserved by convention for internal/control use
	}
	return &streamTable{
		free:    free,
		entries: make(map[int16]streamEntry, max),
		max:     max,
	}
}

// acquire blocks (per backpressure rule) until a stream id
// is available or closed becomes true, in which case it returns ok=false.
func (t *streamTable) acquire(entry streamEntry) (id int16, ok bool) {
	for {
		t.mu.Lock()
		if len(t.free) > 0 {
			id = t.free[len(t.free)-1]
			t.free = t.free[:len(t.free)-1]
			t.entries[id] = entry
			t.mu.Unlock()
			return id, true
		}
		ch := make(chan struct{})
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()
		<-ch
	}
}

// tryAcquire is the non-blocking form of acquire: it returns ok=false at
// once when no stream id is free. Nothing in the package calls it.
func (t *streamTable) tryAcquire(entry streamEntry) (id int16, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return 0, false
	}
	id = t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.entries[id] = entry
	return id, true
}

// take removes and returns the entry for id, if present, and releases the
// id back to the free list. Returns ok=false if no entry was registered
// (e.g. the request was already cancelled and cleaned up).
func (t *streamTable) take(id int16) (streamEntry, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.free = append(t.free, id)
	}
	var waiter chan struct{}
	if ok && len(t.waiters) > 0 {
		waiter = t.waiters[0]
		t.waiters = t.waiters[1:]
	}
	t.mu.Unlock()
	if waiter != nil {
		close(waiter)
	}
	return e, ok
}

// drain removes every outstanding entry and returns them, used when a
// connection dies and every pending request must be failed.
func (t *streamTable) drain() []streamEntry {
	t.mu.Lock()
	out := make([]streamEntry, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, e)
		delete(t.entries, id)
	}
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return out
}

// outstanding reports the number of currently allocated stream ids, used
// by the pipeline's per-connection in-flight threshold check.
func (t *streamTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
