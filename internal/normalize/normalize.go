/**
 * Result normalizer
 *
 * Converts one raw engine result (whole page or tile) into the canonical
 * document model. Engine output is weakly typed and schema-variant; this
 * package models it as a tagged union over the recognized shapes and keeps
 * one converter per shape. Unrecognized shapes normalize to an empty page -
 * the normalizer never fails, it degrades and lets the caller observe an
 * empty result.
 *
 * Geometry stays in the raster's pixel space; tile offsets are applied later
 * by the coordinate mapper.
 */

package normalize

import (
	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/geometry"
)

// Shape identifies which result schema the engine produced.
type Shape int

const (
	// ShapeUnrecognized is any payload that matches no known schema.
	ShapeUnrecognized Shape = iota
	// ShapeFullAnalysis has paragraphs plus words (and optionally tables,
	// figures and reading order).
	ShapeFullAnalysis
	// ShapeOCROnly has words only: one detected word per record.
	ShapeOCROnly
	// ShapeLayoutOnly has the full-analysis field set minus words; text
	// fields may be empty.
	ShapeLayoutOnly
)

// PageInfo describes the raster a raw result was computed from.
type PageInfo struct {
	PageIndex int
	DPI       int
	WidthPx   int
	HeightPx  int
}

// Normalize converts a raw engine result into a canonical Page. The raw
// value may be tuple-wrapped as [result, visualization]; only the first
// element is used.
func Normalize(raw interface{}, info PageInfo) document.Page {
	payload := unwrap(raw)

	switch DetectShape(payload) {
	case ShapeFullAnalysis, ShapeLayoutOnly:
		return convertDocumentShape(payload, info)
	case ShapeOCROnly:
		return convertWordShape(payload, info)
	default:
		return emptyPage(info)
	}
}

// DetectShape probes the payload for the known capability schemas. Probing
// happens once here; converters assume their shape.
func DetectShape(payload map[string]interface{}) Shape {
	if payload == nil {
		return ShapeUnrecognized
	}
	_, hasParagraphs := payload["paragraphs"]
	_, hasWords := payload["words"]

	switch {
	case hasParagraphs && hasWords:
		return ShapeFullAnalysis
	case hasParagraphs:
		return ShapeLayoutOnly
	case hasWords:
		return ShapeOCROnly
	default:
		return ShapeUnrecognized
	}
}

// unwrap discards a tuple wrapper and rejects non-object payloads.
func unwrap(raw interface{}) map[string]interface{} {
	if pair, ok := raw.([]interface{}); ok {
		if len(pair) == 0 {
			return nil
		}
		raw = pair[0]
	}
	payload, _ := raw.(map[string]interface{})
	return payload
}

func emptyPage(info PageInfo) document.Page {
	return document.Page{
		PageIndex: info.PageIndex,
		DPI:       info.DPI,
		WidthPx:   info.WidthPx,
		HeightPx:  info.HeightPx,
		Blocks:    []document.Block{},
	}
}

// convertDocumentShape handles full-analysis and layout-only payloads. Each
// paragraph becomes one Block with a single Line and no token breakdown;
// word-level granularity is not propagated into paragraph blocks.
func convertDocumentShape(payload map[string]interface{}, info PageInfo) document.Page {
	page := emptyPage(info)

	for _, item := range asSlice(payload["paragraphs"]) {
		para := asMap(item)
		if para == nil {
			continue
		}

		bbox := cornerBox(para["box"])
		text := asString(para["contents"])

		role := asString(para["role"])
		if role == "" {
			role = "text"
		}

		line := document.Line{
			Text:   text,
			BBox:   bbox,
			Tokens: []document.Token{},
		}
		page.Blocks = append(page.Blocks, document.Block{
			Text:      text,
			BBox:      bbox,
			BlockType: role,
			Lines:     []document.Line{line},
		})
	}

	for _, item := range asSlice(payload["tables"]) {
		table := asMap(item)
		if table == nil {
			continue
		}
		page.Tables = append(page.Tables, convertTable(table))
	}

	for _, item := range asSlice(payload["figures"]) {
		figure := asMap(item)
		if figure == nil {
			continue
		}

		figureType := "figure"
		if direction := asString(figure["direction"]); direction != "" {
			figureType = "figure_" + direction
		}
		page.Figures = append(page.Figures, document.Figure{
			BBox:       cornerBox(figure["box"]),
			FigureType: figureType,
		})
	}

	// Reading order passes through verbatim; the core never computes it.
	if order, ok := payload["reading_order"]; ok {
		page.ReadingOrder = asIntSlice(order)
	}

	return page
}

func convertTable(table map[string]interface{}) document.Table {
	out := document.Table{
		BBox: cornerBox(table["box"]),
		// Counts come from the engine and are not re-derived from cell
		// indices.
		Rows:  asInt(table["n_row"]),
		Cols:  asInt(table["n_col"]),
		Cells: []document.Cell{},
	}

	for _, item := range asSlice(table["cells"]) {
		cell := asMap(item)
		if cell == nil {
			continue
		}
		out.Cells = append(out.Cells, document.Cell{
			RowIndex: asInt(cell["row"]),
			ColIndex: asInt(cell["col"]),
			RowSpan:  asIntDefault(cell["row_span"], 1),
			ColSpan:  asIntDefault(cell["col_span"], 1),
			Text:     asString(cell["contents"]),
			BBox:     cornerBox(cell["box"]),
		})
	}

	return out
}

// convertWordShape handles OCR-only payloads. Every word becomes its own
// Block/Line/Token triple - this mode exists for word-granular positional
// queries, so paragraph grouping is never performed.
func convertWordShape(payload map[string]interface{}, info PageInfo) document.Page {
	page := emptyPage(info)

	for _, item := range asSlice(payload["words"]) {
		word := asMap(item)
		if word == nil {
			continue
		}

		bbox := polygonBox(word["points"])
		text := asString(word["content"])

		token := document.Token{
			Text:       text,
			BBox:       bbox,
			Confidence: asFloatPtr(word["rec_score"]),
		}
		line := document.Line{
			Text:   text,
			BBox:   bbox,
			Tokens: []document.Token{token},
		}
		page.Blocks = append(page.Blocks, document.Block{
			Text:      text,
			BBox:      bbox,
			BlockType: "ocr_word",
			Lines:     []document.Line{line},
		})
	}

	return page
}

// cornerBox converts a two-corner [x1,y1,x2,y2] box value.
func cornerBox(v interface{}) geometry.BBox {
	corners := asSlice(v)
	if len(corners) < 4 {
		return geometry.BBox{}
	}
	return geometry.FromCorners(
		asFloat(corners[0]),
		asFloat(corners[1]),
		asFloat(corners[2]),
		asFloat(corners[3]),
	)
}

// polygonBox converts a 4-point [[x,y],...] polygon into its enclosing
// rectangle.
func polygonBox(v interface{}) geometry.BBox {
	points := asSlice(v)
	if len(points) == 0 {
		return geometry.BBox{}
	}
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	for _, p := range points {
		pair := asSlice(p)
		if len(pair) < 2 {
			continue
		}
		xs = append(xs, asFloat(pair[0]))
		ys = append(ys, asFloat(pair[1]))
	}
	return geometry.FromPolygon(xs, ys)
}

// Loose-typing accessors. The payload is decoded JSON, so numbers arrive as
// float64 but engine adapters may also hand over native ints.

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0.0
}

// asFloatPtr keeps "absent" distinct from zero: a missing confidence means
// unknown, not 0.
func asFloatPtr(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case float64, float32, int, int64:
		f := asFloat(v)
		return &f
	}
	return nil
}

func asInt(v interface{}) int {
	return asIntDefault(v, 0)
}

func asIntDefault(v interface{}, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return def
}

func asIntSlice(v interface{}) []int {
	items := asSlice(v)
	if items == nil {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		out = append(out, asInt(item))
	}
	return out
}
