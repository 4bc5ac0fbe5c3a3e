// bench-store measures build throughput, heap use and query latency of a
// history store filled with a synthetic back-to-back trace.
//
// Usage:
//
//	go run ./scripts/bench-store --intervals 1000000 --attributes 64 \
//	  --block-size 64KiB --cache-nodes 256 --profile-dir docs/profiles/store
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/units"
)

// randomSeed keeps runs comparable.
const randomSeed = 42

type heapSnapshot struct {
	label     string
	heapInUse uint64
	heapSys   uint64
}

type phaseTiming struct {
	label string
	took  time.Duration
	ops   int
}

func main() {
	count := flag.Int("intervals", 1_000_000, "Number of intervals to insert")
	attributes := flag.Int("attributes", 64, "Number of distinct attributes")
	maxDuration := flag.Int64("max-duration", 100, "Largest interval duration")
	blockSize := flag.String("block-size", "64KiB", "Node block size")
	maxChildren := flag.Int("max-children", 50, "Children per core node")
	cacheNodes := flag.Int("cache-nodes", 1024, "Node cache capacity")
	queries := flag.Int("queries", 100_000, "Number of random point queries")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles (optional)")
	keep := flag.Bool("keep", false, "Keep the store file")

	flag.Parse()

	block, err := units.ParseSize(*blockSize)
	if err != nil {
		log.Fatalf("block size: %v", err)
	}

	if *profileDir != "" {
		err = os.MkdirAll(*profileDir, 0o755)
		if err != nil {
			log.Fatalf("mkdir profile-dir: %v", err)
		}
	}

	dir, err := os.MkdirTemp("", "bench-store")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}

	if !*keep {
		defer os.RemoveAll(dir)
	}

	path := filepath.Join(dir, "bench.ht")
	ctx := context.Background()

	var (
		snapshots []heapSnapshot
		timings   []phaseTiming
	)

	takeSnapshot := func(label string) {
		runtime.GC()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		snapshots = append(snapshots, heapSnapshot{label: label, heapInUse: m.HeapInuse, heapSys: m.HeapSys})

		if *profileDir != "" {
			writeHeapProfile(filepath.Join(*profileDir, "heap_"+label+".prof"))
		}
	}

	takeSnapshot("before_build")

	store, err := statestore.Create(path, statestore.Params{
		BlockSize:       int(block),
		MaxChildren:     *maxChildren,
		ProviderVersion: 1,
	}, statestore.WithCacheNodes(*cacheNodes))
	if err != nil {
		log.Fatalf("create: %v", err)
	}

	rng := rand.New(rand.NewPCG(randomSeed, randomSeed))

	var end int64

	began := time.Now()

	for i := range *count {
		start := end
		end = start + 1 + rng.Int64N(*maxDuration)

		err = store.Insert(ctx, interval.Quark(i%*attributes), start, end, interval.Int64(rng.Int64()))
		if err != nil {
			log.Fatalf("insert %d: %v", i, err)
		}
	}

	timings = append(timings, phaseTiming{label: "insert", took: time.Since(began), ops: *count})

	takeSnapshot("after_build")

	began = time.Now()

	err = store.Close(ctx, end)
	if err != nil {
		log.Fatalf("close: %v", err)
	}

	timings = append(timings, phaseTiming{label: "close", took: time.Since(began), ops: 1})

	err = store.Dispose()
	if err != nil {
		log.Fatalf("dispose: %v", err)
	}

	takeSnapshot("after_close")

	store, err = statestore.OpenExisting(path, 1, statestore.WithCacheNodes(*cacheNodes))
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	defer store.Dispose()

	began = time.Now()

	for range *queries {
		_, _, err = store.Query(ctx, interval.Quark(rng.IntN(*attributes)), rng.Int64N(end+1))
		if err != nil {
			log.Fatalf("query: %v", err)
		}
	}

	timings = append(timings, phaseTiming{label: "query", took: time.Since(began), ops: *queries})

	takeSnapshot("after_queries")

	info, err := store.Info()
	if err != nil {
		log.Fatalf("info: %v", err)
	}

	report(snapshots, timings, info)
}

func report(snapshots []heapSnapshot, timings []phaseTiming, info statestore.Info) {
	fmt.Printf("\nstore: %d nodes, height %d, %s on disk\n", info.NodeCount, info.Height, units.FormatSize(info.FileSize))
	fmt.Printf("cache: %d hits, %d misses, %d evictions\n\n", info.Cache.Hits, info.Cache.Misses, info.Cache.Evictions)

	heap := table.NewWriter()
	heap.SetOutputMirror(os.Stdout)
	heap.SetStyle(table.StyleLight)
	heap.AppendHeader(table.Row{"Phase", "Heap in use", "Heap sys"})

	for _, s := range snapshots {
		heap.AppendRow(table.Row{s.label, units.FormatSize(int64(s.heapInUse)), units.FormatSize(int64(s.heapSys))})
	}

	heap.Render()

	timing := table.NewWriter()
	timing.SetOutputMirror(os.Stdout)
	timing.SetStyle(table.StyleLight)
	timing.AppendHeader(table.Row{"Phase", "Total", "Ops", "Per op"})

	for _, tm := range timings {
		timing.AppendRow(table.Row{tm.label, tm.took.Round(time.Millisecond), tm.ops, tm.took / time.Duration(max(tm.ops, 1))})
	}

	timing.Render()
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: create heap profile %s: %v", path, err)

		return
	}
	defer f.Close()

	err = pprof.WriteHeapProfile(f)
	if err != nil {
		log.Printf("warning: write heap profile %s: %v", path, err)
	}
}
