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

	"github.com/redis/go-redis/v9"

	"sitedesk/api/internal/app"
	"sitedesk/api/internal/authpw"
	"sitedesk/api/internal/config"
	"sitedesk/api/internal/email"
	"sitedesk/api/internal/export"
	"sitedesk/api/internal/notify"
	"sitedesk/api/internal/realtime"
	"sitedesk/api/internal/search"
	"sitedesk/api/internal/session"
	"sitedesk/api/internal/storage"
	"sitedesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// One Redis connection backs refresh sessions, the change feed publisher
	// and every per-user change listener.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
	}

	deps := app.Deps{
		Auth: authpw.NewService(dataStore),
	}

	if redisClient != nil {
		log.Printf("main: refresh sessions and change feed on redis")
		deps.Sessions = session.NewRedisStoreWithClient(redisClient)
		deps.Publisher = realtime.NewPublisher(redisClient)
		registry := notify.NewRegistry(dataStore, cfg.UnreadWindow, func(userID string, recount func()) notify.ChangeListener {
			return realtime.NewListener(redisClient, userID, dataStore, recount)
		})
		defer registry.Shutdown()
		deps.Notify = registry
	} else {
		log.Printf("main: no REDIS_URL, refresh sessions on postgres, live badge counts disabled")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, pgfts)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := storage.NewService(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage init failed: %v", err)
		}
		deps.Objects = objects
	} else {
		log.Printf("main: no MINIO_ENDPOINT, document file storage disabled")
	}

	deps.Email = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	deps.Exporter = export.NewService(app.NewExportStore(dataStore))

	service := app.New(cfg, dataStore, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("SiteDesk API listening on %s", cfg.Addr)
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
