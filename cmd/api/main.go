package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lumen/api/internal/analytics"
	"lumen/api/internal/app"
	"lumen/api/internal/blob"
	"lumen/api/internal/config"
	"lumen/api/internal/diagnostics"
	"lumen/api/internal/extsync"
	"lumen/api/internal/metrics"
	"lumen/api/internal/search"
	"lumen/api/internal/store"
	"lumen/api/internal/throttle"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewSQLStore(db, dialect)
	if result, err := diagnostics.NewService(dataStore).BackfillLegacy(ctx); err != nil {
		log.Printf("WARNING: diagnostics backfill failed (will retry on next restart): %v", err)
	} else if !result.AlreadyDone {
		log.Printf("diagnostics: backfill scanned=%d migrated=%d failed=%d", result.Scanned, result.Migrated, result.Failed)
	}

	appMetrics := metrics.New()
	deps := app.Deps{Metrics: appMetrics}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for rate limiting")
		redisBackend, err := throttle.NewRedisBackend(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisBackend.Close()
		deps.UseRedis(redisBackend)
	} else {
		log.Printf("Using in-memory rate limiting")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)
	deps.Search = searchService
	go searchService.ReindexAll(ctx, dataStore)

	blobCfg := blob.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}
	if blobCfg.Configured() {
		screenshots, err := blob.New(blobCfg)
		if err != nil {
			log.Fatalf("screenshot storage: %v", err)
		}
		deps.Screenshots = screenshots
	}

	if cfg.CloudflareConfigured() {
		deps.Analytics = analytics.NewClient(analytics.Config{
			APIURL:    cfg.CloudflareAPIURL,
			APIToken:  cfg.CloudflareAPIToken,
			AccountID: cfg.CloudflareAccountID,
			Bucket:    cfg.CloudflareR2Bucket,
		})
	}

	syncDeps := extsync.Deps{Indexer: searchService, Observer: appMetrics}
	if cfg.GitHubConfigured() {
		syncDeps.GitHub = extsync.NewGitHubClient(extsync.GitHubConfig{
			APIURL: cfg.GitHubAPIURL,
			Token:  cfg.GitHubToken,
			Owner:  cfg.GitHubOwner,
			Repo:   cfg.GitHubRepo,
		})
	}
	if board := cfg.FeaturebaseURL(); board != "" {
		syncDeps.Featurebase = extsync.NewFeaturebaseClient(board)
	}
	if syncDeps.GitHub != nil || syncDeps.Featurebase != nil {
		syncService := extsync.NewService(dataStore, syncDeps)
		deps.Sync = syncService
		if spec := strings.TrimSpace(cfg.SyncCron); spec != "" {
			scheduler, err := syncService.Schedule(spec)
			if err != nil {
				log.Fatalf("invalid FEEDBACK_SYNC_CRON: %v", err)
			}
			defer func() { <-scheduler.Stop().Done() }()
		}
	}

	if cfg.AdminToken == "" {
		log.Printf("WARNING: ADMIN_API_TOKEN is not set; admin routes will reject every request")
	}

	service := app.New(cfg, dataStore, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2*time.Minute + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Feedback API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
