package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ureka/internal/api"
	"ureka/internal/auth"
	"ureka/internal/backend"
	"ureka/internal/config"
	"ureka/internal/docstore"
	"ureka/internal/events"
	"ureka/internal/redis"
	"ureka/internal/session"
	"ureka/internal/storage"
	"ureka/internal/upload"
	"ureka/internal/workspace"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("UREKA_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("UREKA_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	// Create necessary tables: folders, chats, messages, files, chat_files
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Sessions fall back to process memory when redis is down; cross-instance
	// sync is lost in that mode.
	var (
		kv     session.KV
		broker session.Broker
	)
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, sessions kept in memory: %v", err)
		kv, broker = session.NewMemoryKV(), session.NewMemoryBroker()
	} else {
		defer rdb.Close()
		kv, broker = session.NewRedisKV(rdb), session.NewRedisBroker(rdb)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewManager(session.Options{
		KV:     kv,
		Broker: broker,
		TTL:    cfg.BasicConfig.SessionTTL(),
		Key:    os.Getenv(session.KeyEnv),
	})
	if err != nil {
		log.Fatalf("init session manager: %v", err)
	}
	if err := sessions.Start(ctx); err != nil {
		log.Fatalf("start session sync: %v", err)
	}

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	client := backend.New(cfg.Backend)
	workspaces := workspace.NewManager(workspace.Options{
		Docs:    docstore.NewService(db, dbType),
		Backend: client,
		WSURL:   cfg.Backend.WebSocketQueryURL(),
		Upload: upload.Options{
			PollInterval: cfg.BasicConfig.PollInterval(),
			DisplayDelay: cfg.BasicConfig.DisplayDelay(),
			MaxFailures:  cfg.BasicConfig.MaxFailures(),
			AutoAttach:   cfg.BasicConfig.AutoAttach(),
			MaxBytes:     cfg.BasicConfig.MaxUploadBytes(),
		},
		Publisher: publisher,
		Sessions:  sessions,
	})
	defer workspaces.Close()
	unsubscribe := sessions.Subscribe(workspaces.OnSession)
	defer unsubscribe()

	authService := auth.NewService(sessions, cfg.Google)
	handlers := api.NewHandler(authService, sessions, workspaces, client, cfg.BasicConfig.MaxUploadBytes())

	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.Address(), Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (backend %s)", srv.Addr, client.BaseURL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
