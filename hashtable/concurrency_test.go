package hashtable

import (
	"sync"
	"testing"

	"github.com/emirpasic/gods/sets/hashset"
)

// S2 — concurrent insert/remove of the same key from many goroutines must
// never panic, never duplicate a key, and must leave the table in a state
// consistent with *some* interleaving of the attempted operations.
func TestConcurrentSameKeyInsertRemove(t *testing.T) {
	tbl := newIntTable[int]()
	const goroutines = 16
	const rounds = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				tbl.Insert(42, id)
				tbl.Remove(42)
			}
		}(g)
	}
	wg.Wait()

	// No assertion on final presence — the last writer wins the race and
	// either state is valid. What matters is that nothing panicked and the
	// chain invariant still holds.
	for _, b := range tbl.Snapshot() {
		last := -1 << 62
		for _, e := range b.Entries {
			if e.Marked {
				continue
			}
			if int(e.Key) <= last {
				t.Fatalf("bucket %d: ordering invariant broken after same-key race", b.Index)
			}
			last = int(e.Key)
		}
	}
}

// S3 — disjoint key ownership: goroutine g only ever touches keys
// {g, g+goroutines, g+2*goroutines, ...}, so each goroutine's view can be
// checked against its own independently maintained expected set without any
// cross-goroutine coordination. emirpasic/gods' hashset tracks that expected
// state; see DESIGN.md.
func TestConcurrentDisjointKeys(t *testing.T) {
	tbl := newIntTable[int]()
	const goroutines = 16
	const keysPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			expected := hashset.New()
			for i := 0; i < keysPerGoroutine; i++ {
				key := int64(id + i*goroutines)
				if tbl.Insert(intKey(key), id) {
					expected.Add(key)
				}
			}
			// Remove every third owned key.
			for i := 0; i < keysPerGoroutine; i += 3 {
				key := int64(id + i*goroutines)
				if tbl.Remove(intKey(key)) {
					expected.Remove(key)
				}
			}
			for _, v := range expected.Values() {
				key := v.(int64)
				if !tbl.Contains(intKey(key)) {
					t.Errorf("goroutine %d: expected key %d to be live", id, key)
				}
			}
		}(g)
	}
	wg.Wait()
}

// S5-equivalent — a larger mixed-operation stress test over a small key
// range, run under the race detector in CI. Without a memory sanitizer to
// lean on, this instead checks that once all goroutines are done and a
// manual Scan of both hazard domains forces reclamation, there is no panic,
// the reported count is non-negative, and every bucket's unmarked keys are
// still strictly increasing (a protected object freed out from under a
// reader would surface as a corrupted chain walk or a crash).
func TestConcurrentMixedStress(t *testing.T) {
	tbl := newIntTable[int]()
	const goroutines = 32
	const ops = 2000
	const keyRange = 64

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				k := intKey((id*2654435761 + i) % keyRange)
				switch i % 3 {
				case 0:
					tbl.Insert(k, i)
				case 1:
					tbl.Remove(k)
				default:
					tbl.Contains(k)
				}
			}
		}(g)
	}
	wg.Wait()

	tbl.nodes.Scan()
	tbl.arrays.Scan()

	if tbl.Len() < 0 {
		t.Fatalf("count went negative: %d", tbl.Len())
	}
	for _, b := range tbl.Snapshot() {
		last := -1 << 62
		for _, e := range b.Entries {
			if e.Marked {
				continue
			}
			if int(e.Key) <= last {
				t.Fatalf("bucket %d: ordering invariant broken after mixed stress", b.Index)
			}
			last = int(e.Key)
		}
	}
}
