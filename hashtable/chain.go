package hashtable

import (
	"runtime"
	"sync/atomic"
)

// findBucket walks the ordered chain rooted at arr.heads[idx] looking for
// the first node whose key is >= key. It publishes hazard pointers for the
// predecessor, current, and successor nodes as it goes, helping to
// physically unlink any marked node it encounters along the way. Any CAS
// interference while helping restarts the walk from the bucket head, not
// from the node where interference was observed — the chain beneath an
// interfered-with node may have been folded by another helper.
//
// Returns the predecessor link slot, the link value last observed there
// (for use as the CAS "expected" by the caller), and the first node with
// key >= key (nil if none).
func (t *Table[K, V]) findBucket(arr *bucketArray[K, V], idx uint32, key K, h handles[K, V]) (prevPtr *atomic.Pointer[link[K, V]], prevExp *link[K, V], curr *node[K, V]) {
restart:
	prevPtr = &arr.heads[idx]
	h.chain.Clear(slotPrev)
	prevExp = prevPtr.Load()
	curr = prevExp.to

	for {
		if curr == nil {
			h.chain.Clear(slotCurr)
			h.chain.Clear(slotNext)
			return prevPtr, prevExp, nil
		}

		h.chain.Publish(slotCurr, curr)
		if prevPtr.Load() != prevExp {
			goto restart
		}

		currLink := curr.next.Load()
		next := currLink.to
		h.chain.Publish(slotNext, next)

		if currLink.mark {
			if prevPtr.Load() != prevExp {
				goto restart
			}
			desired := newLink(next, false, prevExp.tag+1)
			if prevPtr.CompareAndSwap(prevExp, desired) {
				t.nodes.Retire(curr)
			}
			goto restart
		}

		if !curr.key.Less(key) { // curr.key >= key
			return prevPtr, prevExp, curr
		}

		h.chain.Publish(slotPrev, curr)
		prevPtr = &curr.next
		prevExp = currLink
		curr = next
	}
}

// Insert inserts key/value if key is not already present. Reports whether
// the insert happened.
func (t *Table[K, V]) Insert(key K, value V) bool {
	h := t.acquire()
	defer t.release(h)

	for {
		arr := t.loadActive(h.array)
		idx := arr.index(t.hash(key))
		prevPtr, prevExp, curr := t.findBucket(arr, idx, key, h)

		if curr != nil && curr.key.Equal(key) {
			return false
		}

		newNode := newNode[K, V](key, value, newLink[K, V](curr, false, 0))
		desired := newLink(newNode, false, prevExp.tag+1)
		if prevPtr.CompareAndSwap(prevExp, desired) {
			n := t.count.Add(1)
			t.maybeGrow(arr, n)
			t.ensureInsertSurvivesResize(key, value, arr, h)
			return true
		}
	}
}

// ensureInsertSurvivesResize closes the race a bucket-at-a-time rehash
// otherwise leaves open: tryResize drains buckets one at a time while
// t.active still points at the old array, and only swaps in the new array
// once every bucket has been drained. An Insert whose CAS above lands in a
// bucket the resize already drained — but before the resize as a whole has
// finished and swapped — writes a node that rehashBucket will never see,
// so it would otherwise vanish the moment the old array is retired. If a
// resize is (or was) in flight around this insert, wait for it to settle,
// then make sure key is actually reachable from whatever array ends up
// active, inserting it there directly if the migration missed it.
func (t *Table[K, V]) ensureInsertSurvivesResize(key K, value V, writtenArr *bucketArray[K, V], h handles[K, V]) {
	for t.resizing.Load() || t.active.Load() != writtenArr {
		for t.resizing.Load() {
			runtime.Gosched()
		}
		arr := t.loadActive(h.array)
		if arr == writtenArr {
			return
		}
		idx := arr.index(t.hash(key))
		prevPtr, prevExp, curr := t.findBucket(arr, idx, key, h)
		if curr != nil && curr.key.Equal(key) {
			writtenArr = arr
			continue
		}
		newNode := newNode[K, V](key, value, newLink[K, V](curr, false, 0))
		desired := newLink(newNode, false, prevExp.tag+1)
		if prevPtr.CompareAndSwap(prevExp, desired) {
			writtenArr = arr
		}
	}
}

// Remove logically deletes key, returning whether a key was deleted. The
// logical deletion (the mark CAS) is the linearization point; the physical
// unlink that may follow is an optimization the next traverser will perform
// if this call's own unlink attempt loses a race.
func (t *Table[K, V]) Remove(key K) bool {
	h := t.acquire()
	defer t.release(h)

	for {
		arr := t.loadActive(h.array)
		idx := arr.index(t.hash(key))
		prevPtr, prevExp, curr := t.findBucket(arr, idx, key, h)

		if curr == nil || !curr.key.Equal(key) {
			return false
		}

		currLink := curr.next.Load()
		if currLink.mark {
			continue // another remover is already racing this node; restart
		}

		marked := newLink(currLink.to, true, currLink.tag+1)
		if !curr.next.CompareAndSwap(currLink, marked) {
			continue
		}

		// Logically deleted. Try the physical unlink as an optimization;
		// whether or not it wins, the deletion already linearized above.
		unlinked := newLink(currLink.to, false, prevExp.tag+1)
		if prevPtr.CompareAndSwap(prevExp, unlinked) {
			t.nodes.Retire(curr)
		}

		n := t.count.Add(-1)
		t.maybeShrink(arr, n)
		t.ensureRemovalSurvivesResize(key, arr, h)
		return true
	}
}

// ensureRemovalSurvivesResize is ensureInsertSurvivesResize's counterpart
// for Remove. rehashBucket migrates a node's state as of the moment its
// bucket was drained, so if this call's mark CAS above lands just after
// rehash read that node as live, the migrated copy in the new array stays
// live even though the key was just deleted here. Wait out any in-flight
// resize, then re-apply the deletion against whatever array ends up
// active if the key still appears live there.
func (t *Table[K, V]) ensureRemovalSurvivesResize(key K, writtenArr *bucketArray[K, V], h handles[K, V]) {
	for t.resizing.Load() || t.active.Load() != writtenArr {
		for t.resizing.Load() {
			runtime.Gosched()
		}
		arr := t.loadActive(h.array)
		if arr == writtenArr {
			return
		}
		idx := arr.index(t.hash(key))
		prevPtr, prevExp, curr := t.findBucket(arr, idx, key, h)
		if curr == nil || !curr.key.Equal(key) {
			writtenArr = arr
			continue
		}
		currLink := curr.next.Load()
		if currLink.mark {
			writtenArr = arr
			continue
		}
		marked := newLink(currLink.to, true, currLink.tag+1)
		if curr.next.CompareAndSwap(currLink, marked) {
			unlinked := newLink(currLink.to, false, prevExp.tag+1)
			if prevPtr.CompareAndSwap(prevExp, unlinked) {
				t.nodes.Retire(curr)
			}
			writtenArr = arr
		}
	}
}

// Contains reports whether key is present at some instant during the call.
func (t *Table[K, V]) Contains(key K) bool {
	h := t.acquire()
	defer t.release(h)

	arr := t.loadActive(h.array)
	idx := arr.index(t.hash(key))
	_, _, curr := t.findBucket(arr, idx, key, h)
	return curr != nil && curr.key.Equal(key)
}
