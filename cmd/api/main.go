package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studyhub/api/internal/app"
	"studyhub/api/internal/avatar"
	"studyhub/api/internal/config"
	"studyhub/api/internal/export"
	"studyhub/api/internal/focus"
	"studyhub/api/internal/ledger"
	"studyhub/api/internal/live"
	"studyhub/api/internal/search"
	"studyhub/api/internal/session"
	"studyhub/api/internal/store"
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

	// One Redis client backs both the refresh token store and the live
	// change feeds.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
	}
	sessions := session.NewRedisStoreWithClient(rdb)
	publisher := live.NewPublisher(rdb)

	ledgerService := ledger.New(dataStore, publisher)
	focusManager := focus.NewManager(ledgerService)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	var avatarService *avatar.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		avatarService, err = avatar.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("avatar storage failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set, avatar uploads disabled")
	}

	exportService := export.NewService(app.NewReportSource(dataStore))

	service := app.New(cfg, dataStore, sessions, publisher, ledgerService, focusManager, searchService, exportService, avatarService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	newMux := func() *live.Mux {
		return live.NewMux(rdb, dataStore, cfg.ChatWindow)
	}
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, newMux)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("studyhub api listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	// Abandon running focus sessions first so their penalties land before
	// the database connection goes away.
	focusManager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
