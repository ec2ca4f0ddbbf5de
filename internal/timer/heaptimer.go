// Package timer implements the reactor's idle-connection reaper: an
// indexed min-heap of per-descriptor expiries, keyed by file descriptor so
// that adjust and cancel are O(log n) instead of a linear scan.
package timer

import (
	"container/heap"
	"time"
)

// entry is one scheduled expiry. idx is maintained by container/heap's
// Swap hook and mirrors the entry's current position so the fd->entry
// index map stays valid after any sift.
type entry struct {
	fd       int
	expiry   time.Time
	onExpire func()
	idx      int
}

// entryHeap is a container/heap.Interface ordered by expiry, ascending.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx = i; h[j].idx = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.idx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of per-fd expiries. It is NOT safe for concurrent use;
// the reactor is the sole mutator.
type Heap struct {
	h     entryHeap
	byFd  map[int]*entry
	nowFn func() time.Time
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{
		byFd:  make(map[int]*entry),
		nowFn: time.Now,
	}
}

// Add inserts a new expiry timeoutMs from now for fd, or, if fd already has
// an entry, adjusts it and replaces the callback in place.
func (t *Heap) Add(fd int, timeoutMs int, onExpire func()) {
	if e, ok := t.byFd[fd]; ok {
		e.onExpire = onExpire
		t.adjustEntry(e, timeoutMs)
		return
	}

	e := &entry{
		fd:       fd,
		expiry:   t.nowFn().Add(time.Duration(timeoutMs) * time.Millisecond),
		onExpire: onExpire,
	}
	t.byFd[fd] = e
	heap.Push(&t.h, e)
}

// Adjust resets fd's expiry to now + newTimeoutMs. It is a no-op if fd has
// no entry.
func (t *Heap) Adjust(fd int, newTimeoutMs int) {
	e, ok := t.byFd[fd]
	if !ok {
		return
	}
	t.adjustEntry(e, newTimeoutMs)
}

func (t *Heap) adjustEntry(e *entry, timeoutMs int) {
	e.expiry = t.nowFn().Add(time.Duration(timeoutMs) * time.Millisecond)
	heap.Fix(&t.h, e.idx)
}

// Cancel removes fd's entry without invoking its callback. Canceling an
// absent fd is a no-op.
func (t *Heap) Cancel(fd int) {
	e, ok := t.byFd[fd]
	if !ok {
		return
	}
	heap.Remove(&t.h, e.idx)
	delete(t.byFd, fd)
}

// Len reports the number of live entries.
func (t *Heap) Len() int { return len(t.h) }

// Tick pops and invokes every entry whose expiry has passed, without
// holding any lock during the callback — a callback calling back into
// Adjust for a different descriptor must not deadlock.
func (t *Heap) Tick() {
	now := t.nowFn()
	for t.h.Len() > 0 {
		e := t.h[0]
		if e.expiry.After(now) {
			break
		}
		heap.Pop(&t.h)
		delete(t.byFd, e.fd)
		if e.onExpire != nil {
			e.onExpire()
		}
	}
}

// NextTick ticks off every expired entry and returns the number of
// milliseconds until the next one fires, or -1 if the heap is empty.
func (t *Heap) NextTick() int {
	t.Tick()
	if t.h.Len() == 0 {
		return -1
	}
	d := t.h[0].expiry.Sub(t.nowFn())
	if d < 0 {
		return 0
	}
	return int(d.Milliseconds())
}
