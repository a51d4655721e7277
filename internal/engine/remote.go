/**
 * Remote inference engine client
 *
 * Talks to the GPU inference sidecar over HTTP. The sidecar's result payload
 * is decoded into untyped values and returned as-is; its schema varies by
 * capability mode and sidecar version, and only internal/normalize is allowed
 * to interpret it.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/raster"
)

// RemoteEngine handles communication with the inference sidecar
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger

	mu      sync.RWMutex
	devices Devices
}

// analyzeRequest is the sidecar request body
type analyzeRequest struct {
	Image  string `json:"image"`  // Base64 encoded PNG
	Format string `json:"format"` // Always "base64"
	Mode   string `json:"mode"`   // "full", "ocr", or "layout"
	Device string `json:"device"`
	Lite   bool   `json:"lite"`
	DPI    int    `json:"dpi,omitempty"`
}

// analyzeResponse is the sidecar response envelope. Result is deliberately
// untyped: the sidecar may return a bare object or a [result, visualization]
// pair depending on mode and version.
type analyzeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Result         interface{} `json:"result"`
		ModelUsed      string      `json:"modelUsed"`
		ProcessingTime int64       `json:"processingTime"` // milliseconds
	} `json:"data"`
}

// healthResponse is the sidecar health envelope
type healthResponse struct {
	Status  string  `json:"status"`
	Devices Devices `json:"devices"`
}

// NewRemoteEngine creates a new sidecar client
func NewRemoteEngine(baseURL string) *RemoteEngine {
	return &RemoteEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // inference on large tiles can take time
		},
		logger: logging.NewLogger("RemoteEngine"),
	}
}

// Name returns the engine identifier used in response model tags.
func (e *RemoteEngine) Name() string {
	return "inference"
}

// AnalyzeDocument runs full document analysis on the sidecar.
func (e *RemoteEngine) AnalyzeDocument(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error) {
	return e.analyze(ctx, ModeFull, frame, opts)
}

// RecognizeText runs OCR-only recognition on the sidecar.
func (e *RemoteEngine) RecognizeText(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error) {
	return e.analyze(ctx, ModeOCR, frame, opts)
}

// AnalyzeLayout runs layout-only analysis on the sidecar.
func (e *RemoteEngine) AnalyzeLayout(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error) {
	return e.analyze(ctx, ModeLayout, frame, opts)
}

func (e *RemoteEngine) analyze(ctx context.Context, mode Mode, frame raster.Frame, opts Options) (interface{}, error) {
	device := SelectDevice(opts.Device, e.cachedDevices())

	e.logger.Debug("Submitting frame to sidecar",
		"mode", mode,
		"device", device,
		"lite", opts.Lite,
		"frameSize", fmt.Sprintf("%dx%d", frame.WidthPx, frame.HeightPx))

	reqBody := analyzeRequest{
		Image:  base64.StdEncoding.EncodeToString(frame.PNG),
		Format: "base64",
		Mode:   string(mode),
		Device: device,
		Lite:   opts.Lite,
		DPI:    frame.DPI,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var envelope analyzeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar response: %w", err)
	}

	if !envelope.Success {
		return nil, fmt.Errorf("sidecar analysis failed: %s", envelope.Message)
	}

	e.logger.Debug("Sidecar analysis complete",
		"mode", mode,
		"model", envelope.Data.ModelUsed,
		"processingTimeMs", envelope.Data.ProcessingTime)

	return envelope.Data.Result, nil
}

// HealthCheck probes the sidecar and caches reported device availability for
// subsequent device selection.
func (e *RemoteEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health check returned HTTP %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	e.mu.Lock()
	e.devices = health.Devices
	e.mu.Unlock()

	e.logger.Info("Sidecar healthy",
		"cudaAvailable", health.Devices.CUDAAvailable,
		"mpsAvailable", health.Devices.MPSAvailable)

	return nil
}

// Devices returns the device availability cached by the last health check.
func (e *RemoteEngine) Devices() Devices {
	return e.cachedDevices()
}

func (e *RemoteEngine) cachedDevices() Devices {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.devices
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
