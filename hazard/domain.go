// Package hazard implements hazard-pointer safe memory reclamation (SMR).
//
// A Domain[T] tracks a set of per-call hazard Records, each holding a fixed
// number of published pointer slots. A reader publishes the address it is
// about to dereference into a slot before touching it; a reclaimer never
// reclaims an address that appears in any published slot.
//
// Go's garbage collector is tracing, so nothing here prevents a real
// use-after-free the way it would in C++ — any local variable already keeps
// its referent reachable. What this package provides instead is the
// retire/scan/reclaim protocol itself, with reclamation realized by handing
// the object to a caller-supplied recycle function (e.g. returning it to a
// sync.Pool) once scan proves no hazard slot protects it, rather than a
// manual free.
package hazard

import "sync/atomic"

// Record is a per-call hazard record with a fixed number of publish slots.
type Record[T any] struct {
	slots []atomic.Pointer[T]
	inUse atomic.Bool
	next  atomic.Pointer[Record[T]]
}

// Publish announces that the calling goroutine may dereference p through
// slot idx. Callers must re-validate the source atomic after publishing (the
// hazard-pointer protocol proper) before trusting p.
func (r *Record[T]) Publish(idx int, p *T) {
	r.slots[idx].Store(p)
}

// Clear retracts the publication in slot idx.
func (r *Record[T]) Clear(idx int) {
	r.slots[idx].Store(nil)
}

// ClearAll retracts every slot in the record.
func (r *Record[T]) ClearAll() {
	for i := range r.slots {
		r.slots[i].Store(nil)
	}
}

type retired[T any] struct {
	obj  *T
	next *retired[T]
}

// Domain is a hazard-pointer reclamation domain for objects of type *T.
// Every node kind that needs independent reclamation (table nodes, bucket
// arrays) gets its own Domain instance.
type Domain[T any] struct {
	slotsPerRecord int
	onReclaim      func(*T)

	records       atomic.Pointer[Record[T]] // head of global lock-free list
	activeRecords atomic.Int64

	retiredHead  atomic.Pointer[retired[T]] // lock-free stack, Michael-Scott style
	retiredCount atomic.Int64
}

// NewDomain creates a Domain whose records each have slotsPerRecord publish
// slots. recycle, if non-nil, is called on an object once scan proves it is
// safe to reclaim, and should return it to the type's allocation pool; if
// nil the object is simply dropped and left for the Go garbage collector.
func NewDomain[T any](slotsPerRecord int, recycle func(*T)) *Domain[T] {
	return &Domain[T]{slotsPerRecord: slotsPerRecord, onReclaim: recycle}
}

// Acquire borrows a Record for the duration of one table operation. It
// reuses an idle record from the global list when one is available,
// otherwise allocates a fresh one and links it in — the same
// scan-then-CAS-push discipline used by the Michael-Scott queue this
// package's retire stack is grounded on.
func (d *Domain[T]) Acquire() *Record[T] {
	for r := d.records.Load(); r != nil; r = r.next.Load() {
		if r.inUse.CompareAndSwap(false, true) {
			return r
		}
	}
	r := &Record[T]{slots: make([]atomic.Pointer[T], d.slotsPerRecord)}
	r.inUse.Store(true)
	for {
		head := d.records.Load()
		r.next.Store(head)
		if d.records.CompareAndSwap(head, r) {
			d.activeRecords.Add(1)
			return r
		}
	}
}

// Release returns a Record to the free pool for reuse by any goroutine.
func (d *Domain[T]) Release(r *Record[T]) {
	r.ClearAll()
	r.inUse.Store(false)
}

// Retire marks obj as logically unlinked. It becomes eligible for reclaim
// once a scan proves no hazard slot anywhere protects it.
func (d *Domain[T]) Retire(obj *T) {
	n := &retired[T]{obj: obj}
	for {
		head := d.retiredHead.Load()
		n.next = head
		if d.retiredHead.CompareAndSwap(head, n) {
			break
		}
	}
	count := d.retiredCount.Add(1)
	threads := d.activeRecords.Load()
	if threads < 1 {
		threads = 1
	}
	if count > 2*threads*int64(d.slotsPerRecord) {
		d.Scan()
	}
}

// Scan snapshots every published hazard slot, detaches the retired stack,
// and reclaims every retired object not found in the snapshot. Objects that
// are still protected are pushed back onto the retired stack.
func (d *Domain[T]) Scan() {
	protected := make(map[*T]struct{})
	for r := d.records.Load(); r != nil; r = r.next.Load() {
		for i := range r.slots {
			if p := r.slots[i].Load(); p != nil {
				protected[p] = struct{}{}
			}
		}
	}

	var batch *retired[T]
	for {
		head := d.retiredHead.Load()
		if d.retiredHead.CompareAndSwap(head, nil) {
			batch = head
			break
		}
	}

	var kept int64
	for n := batch; n != nil; {
		next := n.next
		if _, stillHazarded := protected[n.obj]; stillHazarded {
			for {
				head := d.retiredHead.Load()
				n.next = head
				if d.retiredHead.CompareAndSwap(head, n) {
					break
				}
			}
			kept++
		} else if d.onReclaim != nil {
			d.onReclaim(n.obj)
		}
		n = next
	}
	d.retiredCount.Store(kept)
}

// RetiredCount reports the approximate size of the retired stack, for tests
// and observability.
func (d *Domain[T]) RetiredCount() int64 {
	return d.retiredCount.Load()
}
