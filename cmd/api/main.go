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

	"cord/platform/internal/app"
	"cord/platform/internal/authpw"
	"cord/platform/internal/config"
	"cord/platform/internal/email"
	"cord/platform/internal/export"
	"cord/platform/internal/files"
	"cord/platform/internal/gitrepo"
	"cord/platform/internal/presence"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/realtime"
	"cord/platform/internal/search"
	"cord/platform/internal/session"
	"cord/platform/internal/store"
	"cord/platform/internal/webhook"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("CORD_CONFIG_FILE"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if err := os.MkdirAll(cfg.ProvidersDir, 0o755); err != nil {
		log.Fatalf("failed to create providers dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Webhooks: webhook.NewDeliverer(cfg.WebhookTimeout, cfg.WebhookRetries),
		Export:   export.NewService(dataStore),
		Git:      gitrepo.New(cfg.ProvidersDir),
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	deps.Search = search.NewService(meiliClient, search.NewPgFTS(dataStore))
	defer deps.Search.Close()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Typing = presence.New(redisStore.Client())
		deps.Bus = pubsub.New(redisStore.Client())
		deps.Events = realtime.NewHandler(deps.Bus, cfg.CORSOrigin)
		deps.Console = authpw.NewService(dataStore, redisStore, cfg.SessionTTL)
	} else {
		log.Printf("api: REDIS_URL not set; client sessions, typing and live events are disabled")
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		fileService, err := files.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, dataStore)
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		deps.Files = fileService
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		deps.Email = mail
	}

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
		log.Printf("Cord API listening on %s (search: %s)", cfg.Addr, deps.Search.Backend())
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
