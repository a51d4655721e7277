/**
 * HTTP server
 *
 * Exposes the analysis pipeline over multipart HTTP. One route per engine
 * capability, plus tile variants and a health probe. Request handling is
 * synchronous; async submission goes through the queue worker instead.
 */

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexadoc/ocr-service/internal/config"
	"github.com/nexadoc/ocr-service/internal/engine"
	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/processor"
)

// Server is the HTTP front end of the analysis service.
type Server struct {
	config  *config.Config
	service *processor.AnalysisService
	engine  engine.Engine
	logger  *logging.Logger
	httpSrv *http.Server
}

// NewServer builds the server and its route table.
func NewServer(cfg *config.Config, service *processor.AnalysisService, eng engine.Engine) *Server {
	s := &Server{
		config:  cfg,
		service: service,
		engine:  eng,
		logger:  logging.NewLogger("Server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ocr", s.analyzeHandler(engine.ModeFull, false))
	mux.HandleFunc("/ocr/ocr-only", s.analyzeHandler(engine.ModeOCR, false))
	mux.HandleFunc("/ocr/layout", s.analyzeHandler(engine.ModeLayout, false))
	mux.HandleFunc("/ocr/ocr-only/tiles", s.analyzeHandler(engine.ModeOCR, true))
	mux.HandleFunc("/ocr/layout/tiles", s.analyzeHandler(engine.ModeLayout, true))

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
	}

	return s
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info(fmt.Sprintf("Listening on %s", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status  string          `json:"status"`
	Engine  string          `json:"engine"`
	Devices *engine.Devices `json:"devices,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Engine: s.engine.Name()}
	status := http.StatusOK
	if err := s.engine.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	if reporter, ok := s.engine.(interface{ Devices() engine.Devices }); ok {
		devices := reporter.Devices()
		resp.Devices = &devices
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
