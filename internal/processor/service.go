/**
 * Analysis service
 *
 * Request-level pipeline shared by the HTTP handlers and the queue worker:
 * validate the upload, rasterize it, run the engine per page (or per tile
 * through the merge orchestrator) and assemble the response. Engine calls go
 * through the bounded dispatcher, so concurrent requests queue for inference
 * slots instead of oversubscribing the backend.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexadoc/ocr-service/internal/config"
	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	apperrors "github.com/nexadoc/ocr-service/internal/errors"
	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/normalize"
	"github.com/nexadoc/ocr-service/internal/raster"
	"github.com/nexadoc/ocr-service/internal/tiles"
)

// AnalysisRequest carries one document analysis job through the pipeline.
type AnalysisRequest struct {
	RequestID   string
	Filename    string
	ContentType string
	Data        []byte
	Mode        engine.Mode
	DPI         int // 0 selects the configured default
	Device      string
	Lite        bool
	Tiles       []document.TileSpec // empty means whole-page analysis
}

// AnalysisService runs document analysis requests end to end.
type AnalysisService struct {
	config       *config.Config
	engine       engine.Engine
	rasterizer   *raster.Rasterizer
	dispatcher   *dispatch.Dispatcher
	orchestrator *tiles.Orchestrator
	logger       *logging.Logger
}

// NewAnalysisService wires the pipeline around the given engine.
func NewAnalysisService(cfg *config.Config, eng engine.Engine, dispatcher *dispatch.Dispatcher) *AnalysisService {
	return &AnalysisService{
		config:       cfg,
		engine:       eng,
		rasterizer:   raster.NewRasterizer(cfg.MaxFileSize),
		dispatcher:   dispatcher,
		orchestrator: tiles.NewOrchestrator(eng, dispatcher, tiles.DefaultIoUThreshold),
		logger:       logging.NewLogger("AnalysisService"),
	}
}

// Analyze validates and processes one request. Validation failures come back
// as *AnalysisError with IsValidation() true; everything else is a
// processing failure.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*document.AnalysisResponse, error) {
	start := time.Now()

	dpi := req.DPI
	if dpi == 0 {
		dpi = s.config.DefaultDPI
	}

	s.logger.Info(fmt.Sprintf("[Request %s] Step 1: Validating input (file=%s, mode=%s, dpi=%d, tiles=%d)",
		req.RequestID, req.Filename, req.Mode, dpi, len(req.Tiles)))

	if dpi < s.config.MinDPI || dpi > s.config.MaxDPI {
		return nil, apperrors.NewInvalidDPIError(req.RequestID, dpi, s.config.MinDPI, s.config.MaxDPI)
	}
	if err := raster.ValidateFileType(req.Filename, req.ContentType); err != nil {
		return nil, apperrors.NewUnsupportedFormatError(req.RequestID, req.ContentType)
	}

	timeout := time.Duration(s.config.ProcessingTimeout) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info(fmt.Sprintf("[Request %s] Step 2: Rasterizing document (%d bytes)", req.RequestID, len(req.Data)))
	rasters, err := s.rasterizer.Rasterize(ctx, req.Data, dpi)
	if err != nil {
		if errors.Is(err, raster.ErrUnsupportedFormat) {
			return nil, apperrors.NewUnsupportedFormatError(req.RequestID, raster.DetectMIMEType(req.Data))
		}
		return nil, s.asProcessingError(req.RequestID, timeout, apperrors.NewRasterFailedError(req.RequestID, -1, err))
	}
	s.logger.Info(fmt.Sprintf("[Request %s] Step 2 complete: %d pages rastered", req.RequestID, len(rasters)))

	opts := engine.Options{
		Device: s.resolveDevice(req.Device),
		Lite:   req.Lite,
	}

	var pages []document.Page
	if len(req.Tiles) > 0 {
		s.logger.Info(fmt.Sprintf("[Request %s] Step 3: Analyzing %d tile regions (device=%s)",
			req.RequestID, len(req.Tiles), opts.Device))
		pages, err = s.orchestrator.MergeTiles(ctx, req.RequestID, req.Mode, opts, rasters, req.Tiles)
	} else {
		s.logger.Info(fmt.Sprintf("[Request %s] Step 3: Analyzing %d whole pages (device=%s)",
			req.RequestID, len(rasters), opts.Device))
		pages, err = s.analyzePages(ctx, req.RequestID, req.Mode, opts, rasters)
	}
	if err != nil {
		return nil, s.asProcessingError(req.RequestID, timeout, err)
	}

	elapsed := time.Since(start)
	s.logger.Info(fmt.Sprintf("[Request %s] Step 4: Done in %.2fs (%d pages)",
		req.RequestID, elapsed.Seconds(), len(pages)))

	return &document.AnalysisResponse{
		Pages:          pages,
		ProcessingTime: elapsed.Seconds(),
		Model:          s.modelName(req),
	}, nil
}

// analyzePages runs whole-page analysis, one engine call per page. Pages run
// sequentially within a request; concurrency comes from concurrent requests
// sharing the dispatcher.
func (s *AnalysisService) analyzePages(
	ctx context.Context,
	requestID string,
	mode engine.Mode,
	opts engine.Options,
	rasters []*raster.PageRaster,
) ([]document.Page, error) {
	pages := make([]document.Page, 0, len(rasters))
	for _, pr := range rasters {
		frame, err := pr.Frame()
		if err != nil {
			return nil, apperrors.NewRasterFailedError(requestID, pr.PageIndex, err)
		}

		var raw interface{}
		invokeErr := s.dispatcher.Do(ctx, func() error {
			var err error
			raw, err = engine.Invoke(ctx, s.engine, mode, frame, opts)
			return err
		})
		if invokeErr != nil {
			return nil, apperrors.NewEngineInvocationError(requestID, pr.PageIndex, -1, invokeErr)
		}

		pages = append(pages, normalize.Normalize(raw, normalize.PageInfo{
			PageIndex: pr.PageIndex,
			DPI:       pr.DPI,
			WidthPx:   pr.WidthPx,
			HeightPx:  pr.HeightPx,
		}))
	}
	return pages, nil
}

// resolveDevice picks the compute device for this request. Engines that
// report device availability get the fallback chain; others run on cpu.
func (s *AnalysisService) resolveDevice(requested string) string {
	if requested == "" {
		requested = s.config.EngineDevice
	}
	if reporter, ok := s.engine.(interface{ Devices() engine.Devices }); ok {
		return engine.SelectDevice(requested, reporter.Devices())
	}
	return "cpu"
}

// asProcessingError re-tags deadline failures so clients can tell a timeout
// from an engine fault.
func (s *AnalysisService) asProcessingError(requestID string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewProcessingTimeoutError(requestID, timeout, err)
	}
	return err
}

func (s *AnalysisService) modelName(req AnalysisRequest) string {
	name := s.engine.Name() + "-" + string(req.Mode)
	if req.Lite {
		name += "-lite"
	}
	if len(req.Tiles) > 0 {
		name += "-tiles"
	}
	return name
}
