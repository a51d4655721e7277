/**
 * Canonical document model
 *
 * The stable, client-facing geometric model that every engine result is
 * normalized into: Page > Block > Line > Token, plus Tables and Figures.
 * Field names match the JSON wire format consumed by clients.
 */

package document

import (
	"github.com/nexadoc/ocr-service/internal/geometry"
)

// Token is the leaf text unit with its own bounding box.
// A nil Confidence means the engine reported no recognition score; it is
// distinct from a score of zero.
type Token struct {
	Text       string        `json:"text"`
	BBox       geometry.BBox `json:"bbox"`
	Confidence *float64      `json:"confidence,omitempty"`
}

// Line is a text line. Tokens may be empty when a paragraph was synthesized
// as a single line without word breakdown.
type Line struct {
	Text   string        `json:"text"`
	BBox   geometry.BBox `json:"bbox"`
	Tokens []Token       `json:"tokens"`
}

// Block is the atomic unit moved and deduplicated by the tile pipeline.
// BlockType is an open tag set: "text", "ocr_word", structural roles such as
// "section_headings"/"page_header"/"page_footer", or a synthesized fallback.
type Block struct {
	Text      string        `json:"text"`
	BBox      geometry.BBox `json:"bbox"`
	BlockType string        `json:"blockType"`
	Lines     []Line        `json:"lines"`
}

// Cell is one table cell. Spans default to 1.
type Cell struct {
	RowIndex int           `json:"rowIndex"`
	ColIndex int           `json:"colIndex"`
	RowSpan  int           `json:"rowSpan"`
	ColSpan  int           `json:"colSpan"`
	Text     string        `json:"text"`
	BBox     geometry.BBox `json:"bbox"`
}

// Table is a table structure. Rows and Cols are the counts reported by the
// engine; they are not re-derived from cell indices and callers must not
// assume Rows == max(RowIndex)+1.
type Table struct {
	BBox  geometry.BBox `json:"bbox"`
	Rows  int           `json:"rows"`
	Cols  int           `json:"cols"`
	Cells []Cell        `json:"cells"`
}

// Figure is a non-text region with a classification tag.
type Figure struct {
	BBox       geometry.BBox `json:"bbox"`
	FigureType string        `json:"figureType"`
}

// Page is a single page analysis result. PageIndex is zero-based and matches
// raster page order. ReadingOrder, when present, is passed through verbatim
// from the engine.
type Page struct {
	PageIndex    int      `json:"pageIndex"`
	DPI          int      `json:"dpi"`
	WidthPx      int      `json:"widthPx"`
	HeightPx     int      `json:"heightPx"`
	Blocks       []Block  `json:"blocks"`
	Tables       []Table  `json:"tables,omitempty"`
	Figures      []Figure `json:"figures,omitempty"`
	ReadingOrder []int    `json:"readingOrder,omitempty"`
}

// TileSpec is a caller-supplied description of a page sub-region to analyze
// independently. BBoxNormalized is in page-normalized [0,1] space. Overlap is
// informational only; the pipeline operates purely on resulting bboxes.
type TileSpec struct {
	PageIndex      int           `json:"pageIndex"`
	BBoxNormalized geometry.BBox `json:"bboxNormalized"`
	Overlap        float64       `json:"overlap,omitempty"`
}

// AnalysisResponse is the API response envelope.
type AnalysisResponse struct {
	Pages          []Page  `json:"pages"`
	ProcessingTime float64 `json:"processingTime"`
	Model          string  `json:"model"`
}
