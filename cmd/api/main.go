package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"chunkupload/internal/blob"
	"chunkupload/internal/config"
	"chunkupload/internal/database"
	"chunkupload/internal/domain/upload"
	"chunkupload/internal/logger"
	"chunkupload/internal/middleware"
	jwtsvc "chunkupload/internal/pkg/jwt"
	"chunkupload/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		logger.Flush()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.IsDev(), cfg.SentryDSN)
	defer logger.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL, cfg.IsDev())
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	blobs := blob.NewLocalFS(cfg.Upload.StorageRoot)
	repo := upload.NewRepository(db)
	hub := upload.NewHub()

	opts := []upload.ServiceOption{upload.WithNotifier(hub)}
	if registry := cfg.OwnerRegistry(); registry != nil {
		opts = append(opts, upload.WithOwnerRegistry(registry))
	}
	if cfg.S3.Enabled() {
		archive, err := storage.New(ctx, cfg.S3)
		if err != nil {
			return err
		}
		opts = append(opts, upload.WithCompletionHook(upload.NewArchiveHook(archive, blobs)))
	}
	svc := upload.NewService(repo, blobs, cfg.UploadOptions(), opts...)

	if cfg.CleanupInterval > 0 {
		sweeper := upload.NewSweeper(repo, blobs, cfg.Upload.Expiration)
		stopSweep := sweeper.Schedule(ctx, cfg.CleanupInterval, upload.SweepOptions{
			Kinds: []string{cfg.Upload.Kind},
		})
		defer close(stopSweep)
	}

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(cfg, db, jwtsvc.New(cfg.JWTSecret, 24*time.Hour), upload.NewHandler(svc, hub))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.HTTPAddr, "env", cfg.AppEnv, "storage", blobs.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, db *gorm.DB, j *jwtsvc.Service, h *upload.Handler) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.ErrorLogger(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.JWTAuth(j),
	)

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	if cfg.Upload.RequireOwner {
		v1.Use(middleware.RequireOwner())
	}
	upload.RegisterRoutes(v1, h)
	return r
}
