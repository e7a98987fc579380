package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"opencrm/api/internal/config"
	"opencrm/api/internal/model"
	"opencrm/api/internal/server"
)

// @title OpenCRM Attendance API
// @version 1.0
// @description Employee attendance check-in and check-out API for OpenCRM
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/opencrm/opencrm/issues
// @contact.email support@opencrm.local

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:3000
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	log.Println("[API] Starting OpenCRM Attendance API Server...")

	// Load .env if present, environment variables take precedence
	if err := godotenv.Load(); err == nil {
		log.Println("[API] Loaded configuration from .env")
	}

	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("[API] Failed to connect to database: %v", err)
	}
	log.Println("[API] Connected to database")

	// Auto migrate
	if err := autoMigrate(db); err != nil {
		log.Fatalf("[API] Failed to migrate database: %v", err)
	}
	log.Println("[API] Database migrated")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[API] Failed to connect to Redis: %v", err)
	}
	log.Println("[API] Connected to Redis")
	defer redisClient.Close()

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to NATS: %v", err)
	}
	log.Println("[API] Connected to NATS")
	defer natsConn.Close()

	// Create and setup server
	srv := server.NewServer(cfg, db, redisClient, natsConn)
	srv.Setup()

	// Start NATS consumers for non-WS messages
	go startNATSConsumers(natsConn)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	go func() {
		if err := srv.Run(addr); err != nil {
			log.Fatalf("[API] Failed to start server: %v", err)
		}
	}()

	log.Printf("[API] Server ready on %s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[API] Shutting down...")

	// Graceful shutdown
	srv.Shutdown()
	log.Println("[API] Server stopped")
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Organization{},
		&model.Employee{},
		&model.User{},
		&model.AttendancePolicy{},
		&model.AttendanceRecord{},
		&model.EvidenceObject{},
	)
}

func startNATSConsumers(nc *nats.Conn) {
	// Subscribe to all attendance events for logging/debugging
	nc.Subscribe("crm.attendance.*", func(msg *nats.Msg) {
		log.Printf("[NATS] Attendance event on %s: %s", msg.Subject, string(msg.Data))
	})

	// Note: Dashboard delivery is handled by the WebSocket hub
	log.Println("[NATS] Consumers started")
}
