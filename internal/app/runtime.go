// Package app assembles the consistency worker runtime: durable store,
// fast-path cache, refresh worker, reconciliation scheduler, and the health
// gRPC surface.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/tally/internal/cache/memory"
	"github.com/louisbranch/tally/internal/reconcile"
	"github.com/louisbranch/tally/internal/refresh"
	"github.com/louisbranch/tally/internal/storage/sqlite"
	"github.com/louisbranch/tally/internal/telemetry"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port                   int
	DBPath                 string
	PollInterval           time.Duration
	DebounceWindow         time.Duration
	MaxConcurrentRefreshes int
	RefreshTimeout         time.Duration
	ReconcileHour          int
	RefreshEnabled         bool
	ReconcileEnabled       bool

	// Views holds the host's registered view functions. An empty registry is
	// valid; queued entries for unregistered views fail at drain time.
	Views *refresh.Registry
}

const (
	defaultWorkerPort = 8094
	defaultWorkerDB   = "data/tally.db"
)

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if cfg.ReconcileHour < 0 || cfg.ReconcileHour > 23 {
		cfg.ReconcileHour = reconcile.DefaultHour
	}
	if cfg.Views == nil {
		cfg.Views = refresh.NewRegistry()
	}
	return cfg
}

// Run starts the runtime dependencies and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close sqlite store: %v", closeErr)
		}
	}()

	fastPath, err := memory.New(memory.Config{})
	if err != nil {
		return fmt.Errorf("create fast-path cache: %w", err)
	}
	defer fastPath.Close()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	if cfg.RefreshEnabled {
		queue, err := refresh.NewQueue(store, refresh.WithDebounceWindow(cfg.DebounceWindow))
		if err != nil {
			return fmt.Errorf("create refresh queue: %w", err)
		}
		// Schedule every registered view once at startup so derived views
		// recover from marks applied while the worker was down.
		for _, viewName := range cfg.Views.Names() {
			if err := queue.Enqueue(ctx, viewName, "worker startup"); err != nil {
				log.Printf("startup enqueue for view %s: %v", viewName, err)
			}
		}

		worker, err := refresh.NewWorker(store, cfg.Views,
			refresh.WithPollInterval(cfg.PollInterval),
			refresh.WithJobTimeout(cfg.RefreshTimeout),
			refresh.WithMaxConcurrent(cfg.MaxConcurrentRefreshes),
			refresh.WithWorkerMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("create refresh worker: %w", err)
		}
		cancel, done := refresh.StartWorker(worker)
		defer func() {
			cancel()
			<-done
		}()
		log.Printf("refresh worker started (views: %v)", cfg.Views.Names())
	} else {
		log.Printf("refresh worker disabled")
	}

	if cfg.ReconcileEnabled {
		reconciler, err := reconcile.New(store, fastPath, reconcile.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("create reconciler: %w", err)
		}
		scheduler, err := reconcile.NewScheduler(reconciler, cfg.ReconcileHour)
		if err != nil {
			return fmt.Errorf("create reconciliation scheduler: %w", err)
		}
		cancel, done := reconcile.StartScheduler(scheduler)
		defer func() {
			cancel()
			<-done
		}()
		log.Printf("reconciliation scheduled daily at %02d:00", cfg.ReconcileHour)
	} else {
		log.Printf("reconciliation disabled")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("tally.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("worker server listening at %v", listener.Addr())
	<-ctx.Done()
	return nil
}
