package hashtable

func (t *Table[K, V]) maybeGrow(arr *bucketArray[K, V], count int64) {
	if float64(count)/float64(arr.size) > upperLoad {
		t.tryResize(arr, arr.size*2)
	}
}

func (t *Table[K, V]) maybeShrink(arr *bucketArray[K, V], count int64) {
	if arr.size <= minBuckets {
		return
	}
	if float64(count)/float64(arr.size) < lowerLoad {
		target := arr.size / 2
		if target < minBuckets {
			target = minBuckets
		}
		t.tryResize(arr, target)
	}
}

// tryResize is best-effort: if another resize already owns the resizing
// flag, this call drops its attempt without error, exactly as spec.md §4.4
// specifies ("the triggering thread returns immediately").
func (t *Table[K, V]) tryResize(old *bucketArray[K, V], newSize uint32) {
	if newSize == old.size {
		return
	}
	if !t.resizing.CompareAndSwap(false, true) {
		return
	}
	defer t.resizing.Store(false)

	newArr := newBucketArray[K, V](newSize)
	t.resizeDone.Store(0)
	t.resizeTotal.Store(old.size)
	for i := uint32(0); i < old.size; i++ {
		t.rehashBucket(old, newArr, i)
		t.resizeDone.Store(i + 1)
	}
	t.resizeDone.Store(0)
	t.resizeTotal.Store(0)

	if t.active.CompareAndSwap(old, newArr) {
		t.arrays.Retire(old)
	}
	// The CAS loses when old is no longer the active array: a concurrent
	// Reset swapped it out, or this call was triggered from an array that
	// an earlier resize had already replaced. newArr is then simply dropped
	// and left for the garbage collector — there is nothing retired yet for
	// it to leak.
}

// rehashBucket drains one source bucket into the destination array with an
// ordered insert, keeping the destination chain's keys strictly increasing.
// Prepending instead (migrating live nodes in source-chain order without
// re-sorting) would silently break that ordering the moment a bucket splits
// across chains with interleaved keys, so insertion during rehash always
// walks to the correct sorted position.
func (t *Table[K, V]) rehashBucket(old, newArr *bucketArray[K, V], oldIdx uint32) {
	curr := old.heads[oldIdx].Load().to
	for curr != nil {
		l := curr.next.Load()
		if !l.mark {
			t.insertDuringRehash(newArr, curr.key, curr.value)
		}
		curr = l.to
	}
}

// insertDuringRehash performs the same ordered CAS-insert as Insert, against
// a destination array that is not yet reachable from t.active. rehashBucket
// is the only caller, and it runs entirely inside tryResize before the
// array is published, so this walk has no concurrent writers to race
// against; the duplicate check is only a defensive no-op since each live
// key is migrated out of the old array exactly once.
func (t *Table[K, V]) insertDuringRehash(arr *bucketArray[K, V], key K, value V) {
	idx := arr.index(t.hash(key))
	head := &arr.heads[idx]
	for {
		expected := head.Load()
		curr := expected.to
		// No hazard pointers needed: arr is not yet reachable from
		// t.active, so nothing can be scanning it for reclamation.
		var prevPtr = head
		var prevExp = expected
		for curr != nil && curr.key.Less(key) {
			l := curr.next.Load()
			prevPtr = &curr.next
			prevExp = l
			curr = l.to
		}
		if curr != nil && curr.key.Equal(key) {
			return
		}
		newNode := newNode[K, V](key, value, newLink[K, V](curr, false, 0))
		desired := newLink(newNode, false, prevExp.tag+1)
		if prevPtr.CompareAndSwap(prevExp, desired) {
			return
		}
	}
}
