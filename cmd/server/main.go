package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dotaduels/backend/internal/api"
	"github.com/dotaduels/backend/internal/config"
	"github.com/dotaduels/backend/internal/database"
	"github.com/dotaduels/backend/internal/matchmaking"
	"github.com/dotaduels/backend/internal/migrations"
	"github.com/dotaduels/backend/internal/redis"
	"github.com/dotaduels/backend/internal/store"
	"github.com/dotaduels/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize Redis (optional) before any other resource so a failure here
	// leaves nothing behind
	rdb, err := redisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Initialize storage: Postgres when configured, in-memory otherwise
	var st store.Store
	var db *sqlx.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			closeAll(nil, rdb)
			log.Fatalf("Failed to connect to database: %v", err)
		}

		// Run migrations on start if requested
		if os.Getenv("MIGRATE_ON_START") == "true" {
			log.Println("Running DB migrations on startup...")
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				db.Close()
				closeAll(nil, rdb)
				log.Fatalf("Failed to run migrations: %v", err)
			}
		}

		st = store.NewPostgres(db, cfg.InitialBalance)
	} else {
		log.Println("[STORE] DATABASE_URL not set, using in-memory store (data is lost on restart)")
		st = store.NewMemory(cfg.InitialBalance)
	}

	// Matchmaking service + background sweeper
	svc := matchmaking.NewService(st, rdb, cfg)
	go matchmaking.StartWorker(context.Background(), svc)

	// Fan Redis match events out to local websocket clients
	ws.StartMatchEventSubscriber(context.Background(), rdb)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	api.SetupRoutes(router, st, db, svc, cfg)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting DotaDuels server on port %s", port)
	err = router.Run(":" + port)
	closeAll(st, rdb)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func redisClient(url string) (*goredis.Client, error) {
	if url == "" {
		log.Println("[REDIS] REDIS_URL not set, running without result cache and pub/sub")
		return nil, nil
	}
	return redis.Connect(url)
}

func closeAll(st store.Store, rdb *goredis.Client) {
	if st != nil {
		st.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
}
