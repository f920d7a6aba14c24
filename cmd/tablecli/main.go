// Command tablecli drives a hashtable.Table with a configurable number of
// worker goroutines, each hammering its own disjoint block of keys, and
// periodically reports load factor, bucket count, and resize progress.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/g-m-twostay/lockfreehash/hashtable"
)

type intKey int64

func (k intKey) Hash() uint64        { return hashtable.HashUint64(uint64(k)) }
func (k intKey) Less(o intKey) bool  { return k < o }
func (k intKey) Equal(o intKey) bool { return k == o }

func main() {
	workers := flag.Int("workers", 16, "number of concurrent worker goroutines")
	blockSize := flag.Int("block-size", 4096, "keys per worker block")
	reportEvery := flag.Duration("report-every", 200*time.Millisecond, "progress report interval")
	flag.Parse()

	tbl := hashtable.New[intKey, int64](intKey.Hash)

	stopReport := make(chan struct{})
	var reportWG sync.WaitGroup
	reportWG.Add(1)
	go func() {
		defer reportWG.Done()
		ticker := time.NewTicker(*reportEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stopReport:
				return
			case <-ticker.C:
				done, total := tbl.ResizeProgress()
				log.Printf("len=%d buckets=%d load=%.3f resize=%d/%d",
					tbl.Len(), tbl.BucketCount(), tbl.ApproxLoad(), done, total)
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(*workers)
	start := time.Now()
	for w := 0; w < *workers; w++ {
		go func(id int) {
			defer wg.Done()
			low := id * *blockSize
			high := low + *blockSize

			for i := low; i < high; i++ {
				tbl.Insert(intKey(i), int64(i))
			}
			var missing int
			for i := low; i < high; i++ {
				if !tbl.Contains(intKey(i)) {
					missing++
				}
			}
			if missing > 0 {
				log.Printf("worker %d: %d keys unexpectedly missing after insert", id, missing)
			}
			for i := low; i < high; i += 2 {
				tbl.Remove(intKey(i))
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	close(stopReport)
	reportWG.Wait()

	fmt.Printf("done in %s: len=%d buckets=%d load=%.3f\n",
		elapsed, tbl.Len(), tbl.BucketCount(), tbl.ApproxLoad())

	snap := tbl.Snapshot()
	var nonEmpty int
	for _, b := range snap {
		if len(b.Entries) > 0 {
			nonEmpty++
		}
	}
	fmt.Printf("buckets with entries: %d/%d\n", nonEmpty, len(snap))

	tbl.Reset()
	fmt.Printf("after reset: len=%d buckets=%d\n", tbl.Len(), tbl.BucketCount())
}
