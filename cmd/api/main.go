package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"siteattend/internal/attendance"
	"siteattend/internal/bootstrap"
	"siteattend/internal/cloudinary"
	"siteattend/internal/config"
	"siteattend/internal/handler"
	"siteattend/internal/httpmiddleware"
	"siteattend/internal/logging"
	"siteattend/internal/queue"
	"siteattend/internal/store"
	"siteattend/internal/workforce"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer log.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("versions", applied))
	}

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()

	faces, err := bootstrap.OpenFaces(ctx, cfg.Face, db.Client, log)
	if err != nil {
		return err
	}

	var photos *cloudinary.Client
	if cfg.Cloudinary.Enabled() {
		c := cfg.Cloudinary
		photos = cloudinary.New(c.CloudName, c.APIKey, c.APISecret, c.Folder)
		log.Info("photo storage configured", zap.String("cloud", c.CloudName))
	} else {
		log.Warn("photo storage disabled, records will carry no photo URL")
	}

	jobs := bootstrap.OpenQueue(cfg, rdb)
	if _, ok := jobs.(*queue.InMemory); ok {
		// Nobody else can drain an in-process queue.
		go queue.NewCleaner(jobs, faces.Directory, 0, 30*time.Second, log).Run(ctx)
	}

	loc := cfg.Attendance.Location()
	workforceRepo := workforce.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)

	wfOpts := workforce.Options{
		Cleanup:       queue.NewFaceCleanup(jobs),
		Location:      loc,
		MaxPhotoBytes: cfg.Attendance.MaxPhotoBytes,
	}
	var attPhotos attendance.PhotoStore
	if photos != nil {
		wfOpts.Photos = photos
		attPhotos = photos
	}
	wf := workforce.NewService(workforceRepo, faces.Directory, log.Named("workforce"), wfOpts)
	att := attendance.NewService(ledger, workforceRepo, faces.Directory, attPhotos, attendance.Policy{
		DefaultHoursWorked: cfg.Attendance.DefaultHoursWorked,
		Location:           loc,
		MaxPhotoBytes:      cfg.Attendance.MaxPhotoBytes,
		Checkout:           cfg.Attendance.TwoPhaseMarking,
	}, log.Named("attendance"))

	h := handler.New(att, wf, ledger, handler.Tokens{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, cfg.Attendance.MaxPhotoBytes, log)
	h.AddHealthCheck("db", db.Healthy)
	h.AddHealthCheck("face", faces.Health)
	if cfg.QueueBackend != "memory" || cfg.RateLimitStore == "redis" {
		h.AddHealthCheck("redis", rdb.Healthy)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(log, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(requestTimeout(cfg.RequestTimeout))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	limiter := bootstrap.OpenLimiter(cfg, rdb)
	h.Mount(r, httpmiddleware.Middleware(limiter, httpmiddleware.SubjectOrIP, log))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// requestTimeout bounds every request's context.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
