// Command bench runs a synthetic borrow/release workload against the jar cache
// and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/glovebox/cache"
	"github.com/IvanBrykalov/glovebox/internal/bytesize"
	pmet "github.com/IvanBrykalov/glovebox/metrics/prom"
)

// payload stands in for an extracted archive.
type payload struct {
	size   int64
	closed *atomic.Int64
}

func (p payload) Size() int64 { return p.size }

func (p payload) Close() error {
	p.closed.Add(1)
	return nil
}

func main() {
	// ---- Flags ----
	budget := bytesize.MustParse("256MiB")
	flag.Var(&budget, "budget", "cache budget, e.g. 256MiB")
	var (
		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		hold     = flag.Duration("hold", 0, "how long each borrow is held before release")

		keys      = flag.Int("keys", 10_000, "keyspace size")
		entrySize = flag.Int64("entry_size", 1<<20, "mean entry size in bytes (actual is uniform in [size/2, 3size/2))")
		fillDelay = flag.Duration("fill_delay", time.Millisecond, "simulated fetch and extract latency")
		zipfS     = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV     = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	maxBytes, err := budget.Bytes()
	if err != nil || maxBytes <= 0 {
		level.Error(logger).Log("msg", "invalid budget", "budget", budget.String(), "err", err)
		os.Exit(1)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			level.Info(logger).Log("msg", "pprof: serving", "addr", *pprofAddr)
			level.Warn(logger).Log("msg", "pprof server stopped", "err", http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "glovebox", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		level.Info(logger).Log("msg", "metrics: serving", "addr", *metricsAddr)
		level.Warn(logger).Log("msg", "metrics server stopped", "err", http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	var closed atomic.Int64
	c := cache.New[string, payload](cache.Options[string, payload]{
		MaxBytes: maxBytes,
		Metrics:  metrics,
		Logger:   logger,
	})

	// ---- Snapshot flags for goroutines ----
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	holdVal := *hold
	delay := *fillDelay
	mean := *entrySize
	if mean < 2 {
		mean = 2
	}
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	fill := func(ctx context.Context, k string) (payload, error) {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return payload{}, ctx.Err()
			case <-t.C:
			}
		}
		// size derived from the key so refills are stable
		h := xxhash.Sum64String(k) ^ uint64(seedBase)
		return payload{size: mean/2 + int64(h%uint64(mean)), closed: &closed}, nil
	}

	// ---- Load generation ----
	var total, failed uint64
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

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				k := "jar:" + strconv.FormatUint(localZipf.Uint64(), 10)
				b, err := c.GetOrFill(ctx, k, fill)
				if err != nil {
					if ctx.Err() == nil {
						atomic.AddUint64(&failed, 1)
					}
					continue
				}
				atomic.AddUint64(&total, 1)
				if holdVal > 0 {
					time.Sleep(holdVal)
				}
				b.Release()
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := c.Stats()
	ops := atomic.LoadUint64(&total)
	lookups := st.Hits + st.Misses
	hitRate := 0.0
	if lookups > 0 {
		hitRate = float64(st.Hits) / float64(lookups) * 100
	}

	fmt.Printf("budget=%s workers=%d keys=%d entry=%s hold=%v fill=%v dur=%v seed=%d\n",
		humanize.IBytes(uint64(maxBytes)), workersN, *keys, humanize.IBytes(uint64(mean)), holdVal, delay, elapsed, seedBase)
	fmt.Printf("borrows=%d (%.0f ops/s)  failed=%d\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&failed))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d  closed=%d\n",
		st.Hits, st.Misses, hitRate, st.Evictions, closed.Load())
	fmt.Printf("entries=%d  pinned=%d  resident=%s / %s\n",
		st.Entries, st.Pinned, humanize.IBytes(uint64(st.Bytes)), humanize.IBytes(uint64(st.MaxBytes)))
}
