// Package bootstrap builds the collaborators shared by the binaries from
// configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteattend/internal/config"
	"siteattend/internal/facedir"
	"siteattend/internal/faceclient"
	"siteattend/internal/httpmiddleware"
	"siteattend/internal/queue"
	"siteattend/internal/store"
)

// Faces is the configured face directory.
type Faces struct {
	// Directory is the guarded directory every caller should use.
	Directory *facedir.Guard
	// Vector is set when the self-hosted backend is active.
	Vector *facedir.VectorDirectory
	// Client is the face service, used directly or as the embedder.
	Client *faceclient.Client
}

// Health reports whether the face service answers.
func (f Faces) Health(ctx context.Context) bool {
	return f.Client.Health(ctx) == nil
}

// OpenFaces builds the face directory selected by cfg.Backend.
func OpenFaces(ctx context.Context, cfg config.Face, db *sql.DB, log *zap.Logger) (Faces, error) {
	client := faceclient.New(cfg.ServiceURL, cfg.Threshold)
	f := Faces{Client: client}

	var dir facedir.Directory
	switch cfg.Backend {
	case "", "service":
		dir = client
	case "vector":
		if db == nil {
			return Faces{}, fmt.Errorf("vector face backend needs a database")
		}
		vd := facedir.NewVectorDirectory(db, client, cfg.Threshold, log)
		vd.SetDimension(cfg.Dim)
		if err := vd.EnsureSchema(ctx); err != nil {
			return Faces{}, err
		}
		if cfg.HNSW {
			if err := vd.EnableHNSW(ctx); err != nil {
				return Faces{}, err
			}
		}
		f.Vector = vd
		dir = vd
	default:
		return Faces{}, fmt.Errorf("unknown FACE_BACKEND %q", cfg.Backend)
	}

	f.Directory = facedir.NewGuard(dir, cfg.Timeout, log)
	log.Info("face directory ready", zap.String("backend", cfg.Backend), zap.Float64("threshold", cfg.Threshold))
	return f, nil
}

// OpenQueue returns the job queue selected by QUEUE_BACKEND.
func OpenQueue(cfg config.App, rdb *store.Redis) queue.Queue {
	if cfg.QueueBackend == "memory" || rdb == nil {
		return queue.NewInMemory(256)
	}
	return queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
}

// OpenLimiter returns the request limiter selected by RATE_LIMIT_BACKEND.
// The redis window is shared by every API replica.
func OpenLimiter(cfg config.App, rdb *store.Redis) httpmiddleware.Limiter {
	if cfg.RateLimitStore == "redis" && rdb != nil {
		return httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimitPerMin, time.Minute)
	}
	return httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
}
