// Command translate-server runs the image-translation admission,
// queueing, dispatch, and progress-streaming engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PayRpc/translate-engine/internal/api"
	"github.com/PayRpc/translate-engine/internal/config"
	"github.com/PayRpc/translate-engine/internal/dispatch"
	"github.com/PayRpc/translate-engine/internal/executor"
	"github.com/PayRpc/translate-engine/internal/executorpool"
	"github.com/PayRpc/translate-engine/internal/logging"
	"github.com/PayRpc/translate-engine/internal/progresshub"
	"github.com/PayRpc/translate-engine/internal/taskqueue"
	"github.com/PayRpc/translate-engine/internal/taskstore"
)

func main() {
	cfg := config.Load()

	logger := logging.Must(os.Getenv("APP_ENV") != "production")
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := taskstore.New(ctx, taskstore.Config{
		Type:     cfg.DatabaseType,
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, cfg.TaskCacheSize, logger)
	if err != nil {
		logger.Fatal("failed to open task store", zap.Error(err))
	}
	defer store.Close()

	queue := taskqueue.New(1024, logger)

	handles := make([]executor.Handle, cfg.ExecutorCount)
	for i := range handles {
		handles[i] = &executor.Fake{StepDelay: 50 * time.Millisecond}
	}
	pool := executorpool.New(handles, logger)

	go executorpool.Prewarm(ctx, logger, func(context.Context) error {
		_, err := pool.Guard(func() (any, error) { return nil, nil })
		return err
	})

	loop := dispatch.New(store, queue, pool, logger)

	go reapLoop(ctx, queue, logger)

	var hub *progresshub.Hub
	if cfg.EnableProgressHub {
		hub = progresshub.New(logger)
	}

	server := api.New(cfg, logger, store, queue, pool, loop, hub)

	if cfg.EnablePrometheus {
		go serveMetrics(ctx, cfg.PrometheusPort, logger)
	}

	if err := server.Run(ctx); err != nil {
		logger.Fatal("translation server exited with error", zap.Error(err))
	}
}

// reapLoop periodically sweeps the queue for disconnected clients so
// long-idle items don't wait on a capacity edge that will never fire a
// change event of its own accord.
func reapLoop(ctx context.Context, queue *taskqueue.Queue, logger *zap.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queue.ReapDisconnected(ctx)
		}
	}
}

func serveMetrics(ctx context.Context, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}
