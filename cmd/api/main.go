package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"casedesk/api/internal/app"
	"casedesk/api/internal/config"
	"casedesk/api/internal/email"
	"casedesk/api/internal/export"
	"casedesk/api/internal/gitrepo"
	"casedesk/api/internal/meeting"
	"casedesk/api/internal/ratelimit"
	"casedesk/api/internal/search"
	"casedesk/api/internal/session"
	"casedesk/api/internal/storage"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFile)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: cfg.DBMaxOpenConns, MaxIdleConns: cfg.DBMaxIdleConns})
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.TemplatesDir, 0o755); err != nil {
		logger.Error("create template history dir", "dir", cfg.TemplatesDir, "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:    dataStore,
		Renderer: export.NewRenderer(cfg.PDFPaper),
		History:  gitrepo.New(cfg.TemplatesDir),
		Mail: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	objects, err := storage.NewMinioStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		logger.Warn("object storage unavailable, uploads disabled", "endpoint", cfg.S3Endpoint, "error", err)
	} else {
		deps.Objects = objects
	}

	if strings.TrimSpace(cfg.MeetingAPIURL) != "" {
		deps.Meetings = meeting.NewClient(cfg.MeetingAPIURL, cfg.MeetingAPIKey, cfg.MeetingTimeout)
	} else {
		logger.Info("meeting provider not configured, online appointments get no link")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, search.NewPostgres(dataStore))

	var limiter app.RateLimiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for sessions and rate limits")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore

		if cfg.AuthRateLimitPerMin > 0 {
			fixed, err := ratelimit.NewFixedWindowLimiter(redisStore.Client(), "casedesk:ratelimit:", cfg.AuthRateLimitPerMin, time.Minute)
			if err != nil {
				logger.Error("rate limiter setup failed", "error", err)
				os.Exit(1)
			}
			limiter = fixed
		}
	} else {
		logger.Info("using postgres for sessions, auth rate limiting disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("casedesk api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
