// Package stage is a bounded lock-free multi-producer multi-consumer queue. The
// simulator's generators use it to hand frames to the single goroutine allowed to
// write the ring.
//
// Each cell carries a sequence number. A producer may fill a cell when its sequence
// equals the claimed position; a consumer may empty it when the sequence is one past
// it. Claiming a position is a CAS on the shared counter, so no cell is ever owned by
// two goroutines at once.
package stage

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// cacheLine is the padding unit between hot counters.
const cacheLine = 64

// Queue is a bounded MPMC queue. The zero value is not usable; call New.
type Queue[T any] struct {
	_     [cacheLine]byte
	write atomic.Uint64 // next position to fill
	_     [cacheLine - 8]byte
	read  atomic.Uint64 // next position to drain
	_     [cacheLine - 8]byte

	mask  uint64
	cells []cell[T]
}

type cell[T any] struct {
	seq  atomic.Uint64
	item T
}

// New returns a queue holding at least size items; size is rounded up to a power of
// two.
func New[T any](size int) *Queue[T] {
	if size < 2 {
		size = 2
	}
	n := roundUpPowerOf2(uint64(size))
	q := &Queue[T]{
		mask:  n - 1,
		cells: make([]cell[T], n),
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return len(q.cells) }

// Len returns an approximate number of queued items.
func (q *Queue[T]) Len() int {
	w, r := q.write.Load(), q.read.Load()
	if w < r {
		return 0
	}
	return int(w - r)
}

// TryEnqueue adds item and reports whether there was room. It never blocks.
func (q *Queue[T]) TryEnqueue(item T) bool {
	pos := q.write.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if q.write.CompareAndSwap(pos, pos+1) {
				c.item = item
				c.seq.Store(pos + 1)
				return true
			}
			pos = q.write.Load()
		case diff < 0:
			// The cell still holds an item from the previous lap.
			return false
		default:
			pos = q.write.Load()
		}
	}
}

// TryDequeue removes the oldest item. ok is false when the queue is empty.
func (q *Queue[T]) TryDequeue() (item T, ok bool) {
	pos := q.read.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if q.read.CompareAndSwap(pos, pos+1) {
				item = c.item
				var zero T
				c.item = zero
				c.seq.Store(pos + q.mask + 1)
				return item, true
			}
			pos = q.read.Load()
		case diff < 0:
			return item, false
		default:
			pos = q.read.Load()
		}
	}
}

// Dequeue waits for an item until ctx is done, polling every interval.
func (q *Queue[T]) Dequeue(ctx context.Context, interval time.Duration) (T, bool) {
	for {
		if item, ok := q.TryDequeue(); ok {
			return item, true
		}
		if interval <= 0 {
			runtime.Gosched()
		} else {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				var zero T
				return zero, false
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			var zero T
			return zero, false
		}
	}
}

// roundUpPowerOf2 rounds v up to the next power of 2.
//
// Algorithm from: https://graphics.stanford.edu/~seander/bithacks.html#RoundUpPowerOf2
func roundUpPowerOf2(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
