package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/lumenforge/lumen/internal/config"
	"github.com/lumenforge/lumen/internal/engine"
	lerrors "github.com/lumenforge/lumen/internal/errors"
	"github.com/lumenforge/lumen/internal/health"
	"github.com/lumenforge/lumen/internal/logging"
	"github.com/lumenforge/lumen/internal/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// body is a long-lived simulation object kept in the persistent pool.
type body struct {
	Pos, Vel [3]float32
	Mass     float32
	ID       uint32
}

// particle is a transient per-frame object.
type particle struct {
	Pos  [3]float32
	Life float32
}

type benchOptions struct {
	frames          uint64
	workers         int
	particles       int
	persistentEvery uint64
	serveMetrics    bool
}

func main() {
	envFile := flag.String("env", "", "Optional .env file with LUMEN_* settings")
	frames := flag.Uint64("frames", 600, "Number of frames to simulate (0 runs until interrupted)")
	workers := flag.Int("workers", 4, "Concurrent workers per frame")
	particles := flag.Int("particles", 256, "Transient particles each worker allocates per frame")
	persistentEvery := flag.Uint64("persistent-every", 10, "Each worker spawns a persistent body every N frames")
	serveMetrics := flag.Bool("metrics", true, "Serve Prometheus metrics on LUMEN_METRICS_ADDR")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := benchOptions{
		frames:          *frames,
		workers:         *workers,
		particles:       *particles,
		persistentEvery: *persistentEvery,
		serveMetrics:    *serveMetrics,
	}
	if err := run(ctx, cfg, logger, opts); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pool benchmark failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts benchOptions) error {
	if opts.workers <= 0 || opts.particles < 0 {
		return lerrors.NewValidationError("run", "workers must be positive and particles non-negative").
			WithContext("workers", opts.workers).
			WithContext("particles", opts.particles)
	}

	eng, err := engine.New(cfg, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	hm := health.NewHealthManager(logger.Named("health"))
	hm.RegisterChecker(health.NewPoolChecker(config.FramePoolName, eng.FramePool()))
	hm.RegisterChecker(health.NewPoolChecker(config.PersistentPoolName, eng.Persistent()))

	if opts.serveMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/healthz", hm.HTTPHandler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Starting metrics server", zap.String("address", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	bodies := engine.PersistentAllocator[body](eng)
	defer bodies.Release()

	// Frame usage is recorded in an arrow column whose buffers live in the
	// persistent pool.
	arrowMem := memory.NewArrowAllocator(eng.Persistent())
	defer arrowMem.Release()
	usage := array.NewInt64Builder(arrowMem)
	defer usage.Release()

	var (
		mu    sync.Mutex
		alive []*body
	)
	start := time.Now()

	err = eng.RunFrames(ctx, opts.frames, func(f *engine.Frame) error {
		var g errgroup.Group
		for w := 0; w < opts.workers; w++ {
			g.Go(func() error {
				ps := engine.FrameArray[particle](f, opts.particles)
				if ps == nil && opts.particles > 0 {
					return lerrors.NewExhaustedError("frame", "frame pool exhausted").
						WithContext("frame", f.Number()).
						WithContext("worker", w)
				}
				for i := range ps {
					ps[i].Life = float32(i)
					ps[i].Pos[0] = float32(w)
				}

				if opts.persistentEvery > 0 && f.Number()%opts.persistentEvery == 0 {
					b := memory.NewInstance(bodies, body{Mass: 1, ID: uint32(f.Number())})
					if b == nil {
						return lerrors.NewExhaustedError("frame", "persistent pool rejected body").
							WithContext("frame", f.Number())
					}
					mu.Lock()
					alive = append(alive, b)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		usage.Append(int64(f.Used()))
		return nil
	})

	elapsed := time.Since(start)
	col := usage.NewInt64Array()
	defer col.Release()

	var total, peak int64
	for _, v := range col.Int64Values() {
		total += v
		peak = max(peak, v)
	}
	var mean int64
	if col.Len() > 0 {
		mean = total / int64(col.Len())
	}

	persistent := eng.Persistent().Stats()
	report := hm.CheckHealth(ctx)
	logger.Info("pool benchmark finished",
		zap.String("health", string(report.Status)),
		zap.Uint64("frames", eng.Frames()),
		zap.Duration("elapsed", elapsed),
		zap.Int64("frame_bytes_mean", mean),
		zap.Int64("frame_bytes_peak", peak),
		zap.Int("persistent_bodies", len(alive)),
		zap.Int("persistent_chunks", persistent.Chunks),
		zap.Uintptr("persistent_bytes", persistent.AllocatedBytes),
	)
	fmt.Printf("frames=%d elapsed=%s frame_bytes_mean=%d frame_bytes_peak=%d bodies=%d chunks=%d health=%s\n",
		eng.Frames(), elapsed.Round(time.Millisecond), mean, peak, len(alive), persistent.Chunks, report.Status)

	for _, b := range alive {
		memory.DeleteInstance(bodies, b)
	}
	return err
}
