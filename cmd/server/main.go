/**
 * Document analysis HTTP server - main entry point
 *
 * Serves synchronous analysis requests over multipart HTTP. The engine
 * backend is selected at startup: a remote inference sidecar when ENGINE_URL
 * is set, local Tesseract otherwise.
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
	"github.com/nexadoc/ocr-service/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Document analysis server starting...")
	log.Printf("Configuration loaded: Port=%d, Engine=%s, Workers=%d, DefaultDPI=%d",
		cfg.Port, engineLabel(cfg), cfg.WorkerConcurrency, cfg.DefaultDPI)

	eng := buildEngine(cfg)

	dispatcher := dispatch.New(cfg.WorkerConcurrency)
	service := processor.NewAnalysisService(cfg, eng, dispatcher)
	srv := server.NewServer(cfg, service, eng)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Printf("===========================================")
	log.Printf("Document analysis server is READY")
	log.Printf("===========================================")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Engine: %s", eng.Name())
	log.Printf("Inference slots: %d", dispatcher.Workers())
	log.Printf("DPI range: %d-%d (default %d)", cfg.MinDPI, cfg.MaxDPI, cfg.DefaultDPI)
	log.Printf("Max upload: %d bytes", cfg.MaxFileSize)
	log.Printf("===========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Shutdown complete")
}

// buildEngine selects the inference backend and verifies it responds.
func buildEngine(cfg *config.Config) engine.Engine {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.EngineURL != "" {
		log.Printf("Connecting to inference engine at %s...", cfg.EngineURL)
		remote := engine.NewRemoteEngine(cfg.EngineURL)
		if err := remote.HealthCheck(ctx); err != nil {
			log.Printf("Warning: inference engine health check failed: %v", err)
		} else {
			devices := remote.Devices()
			log.Printf("Inference engine ready (cuda=%v, mps=%v, selected=%s)",
				devices.CUDAAvailable, devices.MPSAvailable,
				engine.SelectDevice(cfg.EngineDevice, devices))
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

func engineLabel(cfg *config.Config) string {
	if cfg.EngineURL != "" {
		return cfg.EngineURL
	}
	return "tesseract (local)"
}
