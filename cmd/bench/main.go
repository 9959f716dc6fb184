// Command bench runs a synthetic workload against the cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/cache"
	pmet "github.com/IvanBrykalov/tiercache/metrics/prom"
	"github.com/IvanBrykalov/tiercache/policy/lru"
)

func main() {
	// ---- Flags ----
	var (
		memCap  = flag.Int64("mem", 256<<20, "memory tier capacity (bytes)")
		diskCap = flag.Int64("disk", 0, "disk tier capacity (bytes, 0 = unbounded)")
		dir     = flag.String("dir", "", "backing file directory (empty = temp dir)")
		mode    = flag.String("mode", "write-back", "write mode: write-back | write-through")
		policy  = flag.String("policy", "slru", "memory eviction policy: slru | lru")
		valSize = flag.Int("val", 4096, "value size (bytes)")
		noPromo = flag.Bool("no-promote", false, "disable promotion on disk hit")
		syncWr  = flag.Bool("sync", false, "data-sync every disk append")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 10_000, "preload entries")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "tiercache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	workDir := *dir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "tiercache-bench-*")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	opt := cache.Options{
		MemoryCapacity:   *memCap,
		DiskCapacity:     *diskCap,
		Dir:              workDir,
		DisablePromotion: *noPromo,
		SyncWrites:       *syncWr,
		Metrics:          metrics,
		Logger:           logger,
	}
	switch *mode {
	case "write-back":
		opt.Mode = cache.WriteBack
	case "write-through":
		opt.Mode = cache.WriteThrough
	default:
		log.Fatalf("unknown mode: %q (use write-back or write-through)", *mode)
	}
	switch *policy {
	case "slru":
		// nil => segmented LRU by default
	case "lru":
		opt.Policy = lru.New()
	default:
		log.Fatalf("unknown policy: %q (use slru or lru)", *policy)
	}
	c, err := cache.New(opt)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	// ---- Preload to get a realistic hit-rate and disk occupancy ----
	val := make([]byte, *valSize)
	for i := range val {
		val[i] = byte('a' + i%26)
	}
	for i := 0; i < *preload; i++ {
		k := "k:" + strconv.Itoa(i)
		if err := c.Put(k, val); err != nil {
			log.Fatalf("preload: %v", err)
		}
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, err := c.Get(keyByZipf()); err == nil {
						atomic.AddUint64(&hits, 1)
					} else if errors.Is(err, cache.ErrNotFound) {
						atomic.AddUint64(&misses, 1)
					} else {
						log.Fatalf("Get: %v", err)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					if err := c.Put(keyByZipf(), val); err != nil {
						log.Fatalf("Put: %v", err)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	st := c.Stats()
	fmt.Printf("mode=%s policy=%s mem=%d disk=%d workers=%d keys=%d val=%d dur=%v seed=%d\n",
		*mode, *policy, *memCap, *diskCap, workersN, *keys, *valSize, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("entries=%d mem=%d/%dB disk=%d entries, %d/%dB live\n",
		c.Len(), st.MemBytes, st.MemCapacity, st.DiskEntries, st.DiskLive, st.DiskTotal)
}
