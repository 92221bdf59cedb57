/*
Package main is the entry point for the knitroom server.

It is responsible for loading configuration, initializing the global logging system,
connecting the room/user stores, Redis presence and the cross-instance relay, setting up
the HTTP server, and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"knitroom/internal/app/chat"
	"knitroom/internal/app/db"
	"knitroom/internal/app/hub"
	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/app/storage"
	"knitroom/internal/app/user"
	"knitroom/internal/configs"
	"knitroom/internal/handler"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/passwd"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("instance_id", cfg.InstanceID).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Bool("redis", cfg.RedisAddr != "").
		Bool("storage", cfg.StorageEnabled()).
		Int("room_capacity", cfg.RoomCapacity).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

func run(ctx context.Context, cfg *configs.AppConfig) error {
	var (
		rooms room.Repository
		users user.Repository
	)

	switch cfg.StoreDriver {
	case configs.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		rooms = db.NewRoomStore(pool)
		users = db.NewUserStore(pool)
	default:
		logx.Warn("Using in-memory room and user stores; data is lost on restart.")
		rooms = room.NewMemoryRepository()
		memUsers := user.NewMemoryRepository()
		seeded, err := user.Seed(ctx, memUsers, cfg.SeedUsers)
		if err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		logx.Info("Seeded in-memory users.", "count", len(seeded))
		users = memUsers
	}

	var (
		presenceStore presence.Store
		relay         hub.Relay
	)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}

		presenceStore = presence.NewRedisStore(rdb)
		relay = hub.NewRedisRelay(rdb, logx.Component("relay"))
	} else {
		logx.Warn("REDIS_ADDR not set; presence is local to this instance.")
		presenceStore = presence.NewMemoryStore()
	}

	var storageService storage.StorageService
	if cfg.StorageEnabled() {
		s, err := storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3Region:          cfg.S3Region,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		storageService = s
	} else {
		logx.Warn("S3 storage not configured; upload endpoints are disabled.")
	}

	connHub := hub.New(relay, logx.Component("hub"))
	verifier := jwt.NewVerifier(cfg.JWTSecret)
	hasher := passwd.NewBcryptHasher(bcrypt.DefaultCost)

	coordinator := chat.NewCoordinator(chat.Deps{
		Rooms:    rooms,
		Users:    users,
		Presence: presenceStore,
		Gateway:  connHub,
		Verifier: verifier,
		Hasher:   hasher,
		Settings: chat.Settings{
			Capacity:     cfg.RoomCapacity,
			StoreTimeout: cfg.StoreTimeout,
			Curve: user.Curve{
				PerHour:   cfg.ExperiencePerHour,
				LevelBase: cfg.ExperienceLevelBase,
			},
		},
		Logger: logx.Component("coordinator"),
	})

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config:      cfg,
		Coordinator: coordinator,
		Hub:         connHub,
		Rooms:       rooms,
		Users:       users,
		Presence:    presenceStore,
		Hasher:      hasher,
		Verifier:    verifier,
		Storage:     storageService,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("knitroom server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return connHub.Run(gctx)
	})

	// Wait for interrupt signal (or a failed component) to gracefully shutdown the server with a timeout of 5 seconds.
	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		err := server.Shutdown(shutdownCtx)
		connHub.Shutdown(websocket.CloseGoingAway, "server shutting down")
		return err
	})

	return g.Wait()
}
