// Bench is a benchmarking tool for measuring hollow-trie distributor build
// performance, query throughput, and memory usage.
//
// Usage:
//
//	go run ./cmd/bench -keys 10000000 -bucket 10 -workers 4
//
// Flags:
//
//	-keys     Number of keys to distribute (default: 10,000,000)
//	-bucket   Log2 of the bucket size (default: 10)
//	-workers  Number of parallel query workers (default: 1)
//	-verify   Replay every key after the build (default: false)
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"iter"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cih-y2k/hollowtrie"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024 // Convert KB to bytes on Linux
	}
	return maxRSS
}

func keySeq(keys [][16]byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for i := range keys {
			if !yield(keys[i][:]) {
				return
			}
		}
	}
}

func main() {
	keysFlag := flag.Int("keys", 10_000_000, "number of keys")
	bucketFlag := flag.Int("bucket", 10, "log2 of the bucket size")
	workersFlag := flag.Int("workers", 1, "number of parallel query workers")
	verifyFlag := flag.Bool("verify", false, "replay every key after the build")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (build phase only)")
	memprofile := flag.String("memprofile", "", "write memory profile to file (build phase only)")
	flag.Parse()

	numKeys := *keysFlag
	log2BucketSize := *bucketFlag

	fmt.Println("Generating keys...")
	keys := make([][16]byte, numKeys)
	for i := range keys {
		_, _ = rand.Read(keys[i][:]) // crypto/rand.Read error is fatal system issue; ignore for benchmark
	}

	fmt.Println("Sorting keys...")
	sortStart := time.Now()
	slices.SortFunc(keys, func(a, b [16]byte) int {
		return bytes.Compare(a[:], b[:])
	})
	keys = slices.CompactFunc(keys, func(a, b [16]byte) bool {
		return a == b
	})
	numKeys = len(keys)
	sortDuration := time.Since(sortStart)

	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	filePath := filepath.Join(tmpDir, "test.htrd")

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak memory (both heap and RSS).
	// Uses runtime/metrics instead of ReadMemStats to avoid stop-the-world pauses
	// that cause ~50ms overhead and distort CPU profiles.
	var peakAlloc atomic.Uint64
	var peakRSS atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	peakRSS.Store(baselineRSS)
	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peakAlloc.Load()
					if heapBytes <= old || peakAlloc.CompareAndSwap(old, heapBytes) {
						break
					}
				}
				rss := getMaxRSS()
				for {
					old := peakRSS.Load()
					if rss <= old || peakRSS.CompareAndSwap(old, rss) {
						break
					}
				}
			}
		}
	}()

	fmt.Println("Building distributor...")

	// Start CPU profile for build phase
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	buildStart := time.Now()

	opts := []hollowtrie.BuildOption{
		hollowtrie.WithTempDir(tmpDir),
	}
	if *verifyFlag {
		opts = append(opts, hollowtrie.WithVerify())
	}
	d, err := hollowtrie.Build(context.Background(), keySeq(keys), log2BucketSize, opts...)

	buildDuration := time.Since(buildStart)

	// Stop CPU profile after build phase
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}

	// Write memory profile after build phase
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC() // Get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	close(done)

	// Final memory samples
	var final runtime.MemStats
	runtime.ReadMemStats(&final)
	if final.Alloc > peakAlloc.Load() {
		peakAlloc.Store(final.Alloc)
	}
	finalRSS := getMaxRSS()
	if finalRSS > peakRSS.Load() {
		peakRSS.Store(finalRSS)
	}

	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := peakRSS.Load() - baselineRSS

	if err != nil {
		fmt.Printf("Build failed: %v\n", err)
		return
	}

	if err := d.Save(filePath); err != nil {
		fmt.Printf("Save failed: %v\n", err)
		return
	}
	info, _ := os.Stat(filePath)
	fileSize := info.Size()
	fileBitsPerKey := float64(fileSize*8) / float64(numKeys)
	stats := d.Stats()
	bitsPerKey := float64(stats.SizeInBits) / float64(numKeys)

	d, err = hollowtrie.Open(filePath)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}

	// Randomize query order so access patterns do not benefit from the sort.
	queryOrder := mrand.Perm(numKeys)

	fmt.Println("Warming up queries...")
	for i := 0; i < 10000; i++ {
		_ = d.Bucket(keys[queryOrder[i%numKeys]][:])
	}

	fmt.Println("Benchmarking queries...")
	numQueries := 1_000_000
	workers := *workersFlag
	queryStart := time.Now()
	var g errgroup.Group
	perWorker := numQueries / workers
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				_ = d.Bucket(keys[queryOrder[i%numKeys]][:])
			}
			return nil
		})
	}
	_ = g.Wait()
	queryDuration := time.Since(queryStart)
	totalQueries := perWorker * workers
	avgLatency := float64(queryDuration.Nanoseconds()) / float64(totalQueries) * float64(workers) / 1000
	throughput := float64(totalQueries) / queryDuration.Seconds() / 1_000_000

	fmt.Printf("\n")
	fmt.Printf("Keys:               %d\n", numKeys)
	fmt.Printf("Log2 bucket size:   %d (buckets of %d)\n", log2BucketSize, 1<<log2BucketSize)
	fmt.Printf("Trie nodes:         %d\n", stats.NumNodes)
	fmt.Printf("Mean skip:          %.2f bits\n", stats.MeanSkip)
	fmt.Printf("Bits per skip:      %.3f\n", stats.BitsPerSkip)
	fmt.Printf("Structure size:     %.3f bits/key\n", bitsPerKey)
	fmt.Printf("File size:          %.3f bits/key (%d bytes)\n", fileBitsPerKey, fileSize)
	fmt.Printf("Sort time:          %.2f sec\n", sortDuration.Seconds())
	fmt.Printf("Build time:         %.2f sec\n", buildDuration.Seconds())
	fmt.Printf("Build throughput:   %.2f M/sec\n", float64(numKeys)/buildDuration.Seconds()/1_000_000)
	fmt.Printf("Query latency:      %.2f μs (%d workers)\n", avgLatency, workers)
	fmt.Printf("Query throughput:   %.2f M/sec\n", throughput)
	fmt.Printf("Peak heap memory:   %.1f MB\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("Peak RSS memory:    %.1f MB\n", float64(peakRSSMem)/1_000_000)
}
