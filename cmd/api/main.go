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

	"lifesprint/api/internal/app"
	"lifesprint/api/internal/calendar"
	"lifesprint/api/internal/config"
	"lifesprint/api/internal/search"
	"lifesprint/api/internal/store"
	"lifesprint/api/internal/synccache"
	"lifesprint/api/internal/syncer"
	"lifesprint/api/internal/util"
)

type accountIDs struct{}

func (accountIDs) NewID() string { return util.NewID("cal") }

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

	eventCache, err := synccache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer eventCache.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	clients := map[calendar.ProviderKind]calendar.Client{
		calendar.ProviderApple:     calendar.NewAppleClient(),
		calendar.ProviderGoogle:    calendar.NewGoogleClient(),
		calendar.ProviderMicrosoft: calendar.NewGraphClient(cfg.GraphBaseURL),
	}
	syncService := syncer.NewService(dataStore, eventCache, clients, accountIDs{}, syncer.Options{
		WindowDays:       cfg.SyncWindowDays,
		Timeout:          cfg.SyncTimeout,
		FrequencyMinutes: cfg.SyncFrequencyMin,
	})

	scheduler := syncer.NewScheduler(syncService, 5*time.Minute)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("sync scheduler failed: %v", err)
	}
	defer scheduler.Stop()

	service := app.NewService(dataStore, eventCache, syncService, searchService)
	service.Bootstrap(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("LifeSprint API listening on %s", cfg.Addr)
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
