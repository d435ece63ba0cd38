package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"siteattend/internal/bootstrap"
	"siteattend/internal/config"
	"siteattend/internal/logging"
	"siteattend/internal/queue"
	"siteattend/internal/store"
)

// Worker drains the face cleanup queue: enrollments whose worker is gone
// but whose face could not be removed at the time.
func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env).Named("worker")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is drained inside the API process; the worker needs redis")
	}

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	// The vector backend keeps its embeddings in Postgres.
	var db *store.DB
	if cfg.Face.Backend == "vector" {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("db connect failed", zap.Error(err))
		}
		defer db.Close()
	}

	faces, err := bootstrap.OpenFaces(ctx, cfg.Face, dbClient(db), log)
	if err != nil {
		log.Fatal("face directory init failed", zap.Error(err))
	}
	if !faces.Health(ctx) {
		log.Warn("face service not available, deletions will be retried")
	}

	go serveMetrics(ctx, ":"+cfg.MetricsPort, log)

	cleaner := queue.NewCleaner(bootstrap.OpenQueue(cfg, rdb), faces.Directory, queue.DefaultMaxAttempts, 30*time.Second, log)
	if err := cleaner.Run(ctx); err != nil {
		log.Fatal("queue consume failed", zap.Error(err))
	}
}

func dbClient(db *store.DB) *sql.DB {
	if db == nil {
		return nil
	}
	return db.Client
}

func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
