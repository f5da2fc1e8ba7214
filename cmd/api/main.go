package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"civicdesk/api/internal/app"
	"civicdesk/api/internal/config"
	"civicdesk/api/internal/notify"
	"civicdesk/api/internal/photos"
	"civicdesk/api/internal/search"
	"civicdesk/api/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := store.Open(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(startupCtx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}
	startupCancel()
	requestStore := store.NewPostgresStore(db)

	var notifier *notify.Notifier
	if cfg.RedisURL != "" {
		notifier, err = notify.NewWithRedis(cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			logger.Fatal("connect redis notifier", zap.Error(err))
		}
		logger.Info("notify: redis bridge enabled", zap.String("channel", cfg.RedisChannel))
	} else {
		notifier = notify.New(logger)
		logger.Info("notify: single-instance mode, no redis bridge")
	}
	defer notifier.Close()
	go notifier.Run(ctx)

	pgSearch := search.NewPGSearch(db)
	var meiliClient *search.Meili
	if cfg.MeiliURL != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	} else {
		logger.Info("search: meilisearch not configured, using postgres matching")
	}
	searchService := search.NewService(meiliClient, pgSearch, logger)
	if meiliClient != nil && meiliClient.Healthy() {
		go func() {
			reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			searchService.ReindexAllFromPG(reindexCtx)
		}()
	}

	var photoService *photos.Service
	if cfg.MinioEndpoint != "" {
		photoService, err = photos.New(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioUseSSL,
			cfg.UploadURLTTL,
		)
		if err != nil {
			logger.Fatal("create photo service", zap.Error(err))
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := photoService.EnsureBucket(bucketCtx); err != nil {
			logger.Warn("photos: ensure bucket failed, uploads may fail", zap.Error(err))
		}
		cancel()
	} else {
		logger.Info("photos: minio not configured, upload URLs disabled")
	}

	service := app.New(cfg, requestStore, notifier, searchService, logger)
	httpServer := app.NewHTTPServer(service, notifier, photoService, cfg.IdentitySecret, cfg.CORSOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	os.Exit(0)
}
