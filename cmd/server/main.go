package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudshare-backend/internal/api"
	"cloudshare-backend/internal/auth"
	"cloudshare-backend/internal/config"
	"cloudshare-backend/internal/ratelimit"
	"cloudshare-backend/internal/repository"
	"cloudshare-backend/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// Variables already set in the environment win over .env
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v. (Using existing environment variables)", err)
	}

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	store, closeStore, err := openStore(initCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	blobs, err := openBlobStore(initCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s blob store: %v", cfg.BlobBackend, err)
	}

	uploadLimiter, loginLimiter, err := openLimiters(initCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	tokenService, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to start TokenService: %v", err)
	}

	folders := service.NewFolderService(store)
	links := service.NewShareLinkService(store, blobs, cfg.BaseURL)
	services := api.Services{
		Users:   service.NewUserService(store, tokenService),
		Folders: folders,
		Files:   service.NewFileService(store, blobs, cfg.StorageLimitBytes),
		Links:   links,
		Uploads: service.NewUploadService(store, blobs, folders, links),
	}

	handler := api.NewHandler(services, tokenService, store, api.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadLimiter:  uploadLimiter,
		LoginLimiter:   loginLimiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  2 * time.Minute, // multipart uploads
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server started on http://localhost:%d/api", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Received shutdown signal, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped.")
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Connected to PostgreSQL")

		migrationSQL, err := os.ReadFile(cfg.MigrationsPath)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("read migration file: %w", err)
		}
		if err := store.RunMigrations(ctx, string(migrationSQL)); err != nil {
			log.Printf("Warning while running migrations: %v. (Continuing...)", err)
		} else {
			log.Println("Database migrations applied.")
		}
		return store, store.Close, nil

	case config.StoreMongo:
		store, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Connected to MongoDB")
		return store, store.Close, nil

	default:
		log.Println("Using the in-memory store; data is lost on restart")
		return repository.NewInMemoryStore(), func() {}, nil
	}
}

func openBlobStore(ctx context.Context, cfg config.Config) (service.BlobStore, error) {
	if cfg.BlobBackend == config.BlobMinio {
		return service.NewMinioService(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.AWSBucketName, cfg.MinioUseSSL)
	}
	return service.NewS3ServiceFromRegion(ctx, cfg.AWSRegion, cfg.AWSBucketName)
}

// openLimiters shares counters through Redis when it is configured
func openLimiters(ctx context.Context, cfg config.Config) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(cfg.UploadRateLimit, cfg.RateLimitWindow),
			ratelimit.NewMemoryLimiter(cfg.LoginRateLimit, cfg.RateLimitWindow), nil
	}

	client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Println("Connected to Redis")
	return ratelimit.NewRedisLimiter(client, "upload", cfg.UploadRateLimit, cfg.RateLimitWindow),
		ratelimit.NewRedisLimiter(client, "login", cfg.LoginRateLimit, cfg.RateLimitWindow), nil
}
