/**
 * Document analysis queue worker - main entry point
 *
 * Consumes analysis jobs from the Redis queue and runs them through the same
 * pipeline as the HTTP server. Job status is mirrored to Redis; a durable
 * record goes to Postgres when DATABASE_URL is configured.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexadoc/ocr-service/internal/config"
	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/engine"
	"github.com/nexadoc/ocr-service/internal/processor"
	"github.com/nexadoc/ocr-service/internal/queue"
	"github.com/nexadoc/ocr-service/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Document analysis worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s, Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency)

	eng := buildEngine(cfg)

	var store *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL...")
		store, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize job store: %v", err)
		}
		defer store.Close()
		log.Printf("Job store initialized")
	} else {
		log.Printf("No DATABASE_URL configured, durable job records disabled")
	}

	status, err := queue.NewStatusPublisher(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		log.Fatalf("Failed to initialize status publisher: %v", err)
	}
	defer status.Close()

	dispatcher := dispatch.New(cfg.WorkerConcurrency)
	service := processor.NewAnalysisService(cfg, eng, dispatcher)

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
	}, service, status, store)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Document analysis worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Engine: %s", eng.Name())
	log.Printf("Inference slots: %d", dispatcher.Workers())
	log.Printf("Job records: %v", store != nil)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	log.Printf("Shutdown complete")
}

// buildEngine selects the inference backend, matching the HTTP server.
func buildEngine(cfg *config.Config) engine.Engine {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.EngineURL != "" {
		log.Printf("Connecting to inference engine at %s...", cfg.EngineURL)
		remote := engine.NewRemoteEngine(cfg.EngineURL)
		if err := remote.HealthCheck(ctx); err != nil {
			log.Printf("Warning: inference engine health check failed: %v", err)
		}
		return remote
	}

	log.Printf("No ENGINE_URL configured, using local Tesseract (languages=%s)", cfg.TesseractLanguages)
	local := engine.NewTesseractEngine(cfg.TesseractLanguages)
	if err := local.HealthCheck(ctx); err != nil {
		log.Printf("Warning: Tesseract health check failed: %v", err)
	}
	return local
}
