/**
 * Tesseract engine - local fallback for deployments without a GPU sidecar
 *
 * Runs gosseract and emits results in the same raw word/paragraph schema the
 * sidecar produces, so both engines funnel through one normalizer. Device
 * options are ignored; tesseract is CPU-only.
 */

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/raster"
)

// TesseractEngine runs OCR and layout detection locally via Tesseract
type TesseractEngine struct {
	languages []string
	logger    *logging.Logger
}

// NewTesseractEngine creates a new local engine. languages is a
// "+"-separated tesseract language string (e.g. "eng+jpn").
func NewTesseractEngine(languages string) *TesseractEngine {
	langs := strings.Split(languages, "+")
	if languages == "" {
		langs = []string{"eng"}
	}
	return &TesseractEngine{
		languages: langs,
		logger:    logging.NewLogger("TesseractEngine"),
	}
}

// Name returns the engine identifier used in response model tags.
func (t *TesseractEngine) Name() string {
	return "tesseract"
}

// AnalyzeDocument detects paragraph structure and recognizes words.
func (t *TesseractEngine) AnalyzeDocument(ctx context.Context, frame raster.Frame, _ Options) (interface{}, error) {
	paragraphs, err := t.detect(frame, gosseract.RIL_PARA, true)
	if err != nil {
		return nil, err
	}
	words, err := t.detect(frame, gosseract.RIL_WORD, true)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"paragraphs": toParagraphs(paragraphs),
		"tables":     []interface{}{}, // table structure recognition needs the sidecar
		"figures":    []interface{}{},
		"words":      toWords(words),
	}, nil
}

// RecognizeText recognizes word-granular text positions only.
func (t *TesseractEngine) RecognizeText(ctx context.Context, frame raster.Frame, _ Options) (interface{}, error) {
	words, err := t.detect(frame, gosseract.RIL_WORD, true)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"words": toWords(words),
	}, nil
}

// AnalyzeLayout detects paragraph regions without recognized text.
func (t *TesseractEngine) AnalyzeLayout(ctx context.Context, frame raster.Frame, _ Options) (interface{}, error) {
	paragraphs, err := t.detect(frame, gosseract.RIL_PARA, false)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"paragraphs": toParagraphs(paragraphs),
		"tables":     []interface{}{},
		"figures":    []interface{}{},
	}, nil
}

// HealthCheck verifies that the tesseract installation is usable.
func (t *TesseractEngine) HealthCheck(ctx context.Context) error {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("tesseract unavailable: %w", err)
	}
	available := make(map[string]bool, len(langs))
	for _, l := range langs {
		available[l] = true
	}
	for _, want := range t.languages {
		if !available[want] {
			return fmt.Errorf("tesseract language %q is not installed", want)
		}
	}
	return nil
}

// detect runs one tesseract pass at the given iterator level. withText
// controls whether recognized text is kept (layout-only passes discard it).
func (t *TesseractEngine) detect(frame raster.Frame, level gosseract.PageIteratorLevel, withText bool) ([]gosseract.BoundingBox, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set tesseract languages: %w", err)
	}

	if err := client.SetImageFromBytes(frame.PNG); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(level)
	if err != nil {
		return nil, fmt.Errorf("tesseract detection failed: %w", err)
	}

	if !withText {
		for i := range boxes {
			boxes[i].Word = ""
		}
	}
	return boxes, nil
}

// toWords renders word boxes in the raw schema: a 4-point polygon, recognized
// content and a [0,1] recognition score.
func toWords(boxes []gosseract.BoundingBox) []interface{} {
	words := make([]interface{}, 0, len(boxes))
	for _, b := range boxes {
		x1 := float64(b.Box.Min.X)
		y1 := float64(b.Box.Min.Y)
		x2 := float64(b.Box.Max.X)
		y2 := float64(b.Box.Max.Y)
		words = append(words, map[string]interface{}{
			"points": []interface{}{
				[]interface{}{x1, y1},
				[]interface{}{x2, y1},
				[]interface{}{x2, y2},
				[]interface{}{x1, y2},
			},
			"content":   strings.TrimSpace(b.Word),
			"rec_score": b.Confidence / 100.0, // tesseract scores are 0-100
			"direction": "horizontal",
		})
	}
	return words
}

// toParagraphs renders paragraph boxes in the raw schema: a two-corner box,
// text contents and no structural role (tesseract does not classify roles).
func toParagraphs(boxes []gosseract.BoundingBox) []interface{} {
	paragraphs := make([]interface{}, 0, len(boxes))
	for _, b := range boxes {
		paragraphs = append(paragraphs, map[string]interface{}{
			"box": []interface{}{
				float64(b.Box.Min.X),
				float64(b.Box.Min.Y),
				float64(b.Box.Max.X),
				float64(b.Box.Max.Y),
			},
			"contents":  strings.TrimSpace(b.Word),
			"role":      nil,
			"direction": "horizontal",
		})
	}
	return paragraphs
}
