// Package hashtable implements a dynamic, lock-free hash table supporting
// concurrent insertion, deletion, and membership queries from an arbitrary
// number of goroutines. See SPEC_FULL.md at the repository root for the
// full design.
package hashtable

import (
	"sync/atomic"

	"github.com/g-m-twostay/lockfreehash/hazard"
)

const (
	minBuckets = 64
	upperLoad  = 2.0
	lowerLoad  = 0.25

	// hazard slots published per in-flight call while walking a chain:
	// predecessor node, current node, successor node.
	chainSlots = 3
	// hazard slots published per in-flight call for the active bucket
	// array pointer, so a resize can never free an array a concurrent
	// reader or writer is still walking.
	arraySlots = 1

	slotPrev = 0
	slotCurr = 1
	slotNext = 2

	slotArray = 0
)

// Table is a dynamic lock-free hash table. The zero value is not usable;
// construct one with New.
type Table[K Key[K], V any] struct {
	active   atomic.Pointer[bucketArray[K, V]]
	count    atomic.Int64
	resizing atomic.Bool
	hash     func(K) uint64

	nodes  *hazard.Domain[node[K, V]]
	arrays *hazard.Domain[bucketArray[K, V]]

	resizeDone  atomic.Uint32
	resizeTotal atomic.Uint32
}

// New constructs an empty Table with MIN_BUCKETS buckets. hash must be a
// well-distributed hash function over K; it need not agree with K.Hash if
// the caller wants a different distribution, but in the common case callers
// pass `func(k K) uint64 { return k.Hash() }`.
func New[K Key[K], V any](hash func(K) uint64) *Table[K, V] {
	t := &Table[K, V]{hash: hash}
	t.active.Store(newBucketArray[K, V](minBuckets))
	t.nodes = hazard.NewDomain[node[K, V]](chainSlots, nil)
	t.arrays = hazard.NewDomain[bucketArray[K, V]](arraySlots, nil)
	return t
}

// handles bundles the two hazard records a single table operation needs:
// one to walk a bucket chain, one to pin the active array it is walking.
type handles[K Key[K], V any] struct {
	chain *hazard.Record[node[K, V]]
	array *hazard.Record[bucketArray[K, V]]
}

func (t *Table[K, V]) acquire() handles[K, V] {
	return handles[K, V]{chain: t.nodes.Acquire(), array: t.arrays.Acquire()}
}

func (t *Table[K, V]) release(h handles[K, V]) {
	t.nodes.Release(h.chain)
	t.arrays.Release(h.array)
}

// loadActive publishes a hazard pointer over the active bucket array before
// returning it, re-validating the publish against a fresh load (the
// standard hazard-pointer publish/validate discipline) so the resize
// coordinator can never free an array a caller is about to traverse.
func (t *Table[K, V]) loadActive(rec *hazard.Record[bucketArray[K, V]]) *bucketArray[K, V] {
	for {
		arr := t.active.Load()
		rec.Publish(slotArray, arr)
		if t.active.Load() == arr {
			return arr
		}
	}
}

// Len returns the approximate element count (relaxed read, may lag under
// contention — see spec.md §3 "approximate element count").
func (t *Table[K, V]) Len() int64 {
	return t.count.Load()
}

// BucketCount reports the active array's size.
func (t *Table[K, V]) BucketCount() uint32 {
	return t.active.Load().size
}

// ApproxLoad returns count / active bucket count. It may lag under
// contention.
func (t *Table[K, V]) ApproxLoad() float64 {
	arr := t.active.Load()
	return float64(t.count.Load()) / float64(arr.size)
}

// ResizeProgress reports how many of the total source buckets the
// in-flight resize (if any) has drained so far. Outside a resize, it
// reports (0, 0).
func (t *Table[K, V]) ResizeProgress() (done, total uint32) {
	return t.resizeDone.Load(), t.resizeTotal.Load()
}

// Reset clears the table, rebuilding a fresh MIN_BUCKETS array and retiring
// the old one.
func (t *Table[K, V]) Reset() {
	old := t.active.Swap(newBucketArray[K, V](minBuckets))
	t.count.Store(0)
	t.arrays.Retire(old)
}
