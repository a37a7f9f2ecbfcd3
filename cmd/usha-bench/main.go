// Command usha-bench drives a synthetic alloc/free/realloc workload
// against the usha allocator and prints the six bookkeeping counters
// (spec.md §6.3) before and after, so the allocator's behavior can be
// inspected outside of `go test`.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"unsafe"

	"github.com/nahelawi/sysresource/internal/logging"
	"github.com/nahelawi/sysresource/usha"
)

func main() {
	ops := flag.Int("ops", 100_000, "number of alloc/free/realloc operations to perform")
	maxSize := flag.Int("max-size", 4096, "largest payload size requested, in bytes")
	seed := flag.Int64("seed", 1, "PRNG seed, for reproducible workloads")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	heap, err := usha.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usha-bench: %v\n", err)
		os.Exit(1)
	}
	defer heap.Close()

	rng := rand.New(rand.NewSource(*seed))
	live := make([]unsafe.Pointer, 0, *ops)

	printStats("before", heap)

	for i := 0; i < *ops; i++ {
		switch {
		case len(live) == 0 || rng.Intn(3) != 0:
			size := uintptr(rng.Intn(*maxSize) + 1)
			if p := heap.Alloc(size); p != nil {
				live = append(live, p)
			}
		case rng.Intn(2) == 0:
			idx := rng.Intn(len(live))
			heap.Free(live[idx])
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			idx := rng.Intn(len(live))
			size := uintptr(rng.Intn(*maxSize) + 1)
			if q := heap.Realloc(live[idx], size); q != nil {
				live[idx] = q
			}
		}
	}

	for _, p := range live {
		heap.Free(p)
	}

	printStats("after", heap)
}

func printStats(label string, heap *usha.Heap) {
	s := heap.Stats()
	fmt.Printf("[%s] free_blocks=%d free_bytes=%d alloc_blocks=%d alloc_bytes=%d meta_bytes=%d header_size=%d\n",
		label, s.FreeBlocks, s.FreeBytes, s.AllocatedBlocks, s.AllocatedBytes, s.MetaDataBytes, s.MetaDataSize)
}
