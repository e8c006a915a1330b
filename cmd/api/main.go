package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkpost/api/internal/app/migrate"
	httpx "github.com/inkpost/api/internal/http"
	"github.com/inkpost/api/internal/mail"
	"github.com/inkpost/api/internal/repository/postgres"
	"github.com/inkpost/api/internal/service/auth"
	"github.com/inkpost/api/internal/service/post"
	"github.com/inkpost/api/internal/storage"
	"github.com/inkpost/api/pkg/config"
	"github.com/inkpost/api/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	var mailer mail.Mailer
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		mailer = mail.NewSMTP(cfg, log)
	} else {
		log.Warn("no SMTP host configured, OTP codes will be logged instead of mailed")
		mailer = mail.NewLogMailer(log)
	}

	images, err := buildImageStore(ctx, cfg)
	if err != nil {
		log.Error("failed to configure image storage", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, mailer, log, cfg)
	postSvc := post.New(repo, images, log)

	var limiter httpx.RateLimiter = httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to in-memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	uploadDir := ""
	if cfg.StorageBackend == "local" {
		uploadDir = cfg.UploadDir
	}
	router := httpx.NewRouter(log, authSvc, postSvc, limiter, httpx.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadDir:      uploadDir,
		CORSOrigin:     cfg.CORSOrigin,
		DBHealth:       pool.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func buildImageStore(ctx context.Context, cfg config.APIConfig) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3(ctx, cfg)
	case "local", "":
		return storage.NewLocal(cfg.UploadDir)
	default:
		return nil, errors.New("unknown storage backend: " + cfg.StorageBackend)
	}
}
