/**
 * Analysis engine contract
 *
 * The engine is a black box to this service: it accepts a decoded page (or
 * tile) raster and returns a raw, loosely-typed result value. Raw results are
 * possibly tuple-wrapped and schema-variant; internal/normalize owns turning
 * them into the canonical document model. Engines never normalize.
 */

package engine

import (
	"context"
	"fmt"

	"github.com/nexadoc/ocr-service/internal/raster"
)

// Mode identifies an engine capability.
type Mode string

const (
	// ModeFull runs full document analysis: paragraphs, tables, figures,
	// words and reading order.
	ModeFull Mode = "full"
	// ModeOCR runs text recognition only: word-granular positions and
	// scores, no structural analysis.
	ModeOCR Mode = "ocr"
	// ModeLayout runs structural analysis only: paragraphs, tables and
	// figures without text recognition.
	ModeLayout Mode = "layout"
)

// Options carries per-invocation engine knobs.
type Options struct {
	Device string // Requested device: cpu, cuda, or mps
	Lite   bool   // Use the lite model variant when the engine has one
}

// Engine is the analysis engine collaborator. Each method is synchronous and
// CPU/accelerator-bound; callers bound concurrency through the dispatcher.
// The returned value is the engine's raw result and must be treated as
// opaque until normalized.
type Engine interface {
	Name() string
	AnalyzeDocument(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error)
	RecognizeText(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error)
	AnalyzeLayout(ctx context.Context, frame raster.Frame, opts Options) (interface{}, error)
	HealthCheck(ctx context.Context) error
}

// Invoke dispatches one engine call by mode.
func Invoke(ctx context.Context, eng Engine, mode Mode, frame raster.Frame, opts Options) (interface{}, error) {
	switch mode {
	case ModeFull:
		return eng.AnalyzeDocument(ctx, frame, opts)
	case ModeOCR:
		return eng.RecognizeText(ctx, frame, opts)
	case ModeLayout:
		return eng.AnalyzeLayout(ctx, frame, opts)
	default:
		return nil, fmt.Errorf("unknown engine mode: %q", mode)
	}
}

// Devices reports accelerator availability, as exposed by the engine.
type Devices struct {
	CUDAAvailable bool `json:"cuda_available"`
	MPSAvailable  bool `json:"mps_available"`
}

// SelectDevice resolves the requested device against availability using the
// cuda > mps > cpu fallback chain.
func SelectDevice(requested string, d Devices) string {
	switch requested {
	case "cuda":
		if d.CUDAAvailable {
			return "cuda"
		}
		if d.MPSAvailable {
			return "mps"
		}
		return "cpu"
	case "mps":
		if d.MPSAvailable {
			return "mps"
		}
		return "cpu"
	default:
		return "cpu"
	}
}
