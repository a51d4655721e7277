/**
 * Tile coordinate mapper
 *
 * Engine results for a tile are expressed in tile-local pixels. The mapper
 * translates them into page-normalized coordinates in [0,1]: shift by the
 * tile's pixel offset, then divide by the page dimensions. Mapping is pure -
 * it returns a new Page and never mutates its input.
 */

package tiles

import (
	"math"

	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/geometry"
)

// Placement locates one tile on its page, in pixels.
type Placement struct {
	XPx          int
	YPx          int
	WPx          int
	HPx          int
	PageWidthPx  int
	PageHeightPx int
}

// PlacementFromSpec resolves a normalized tile bbox against the page's pixel
// dimensions. Each edge rounds to the nearest pixel; rounding both the origin
// and the extent up can land the far edge a pixel past the page, so the
// result is clamped back to page bounds. A 1px rounding overlap or gap
// between neighboring tiles is tolerated.
func PlacementFromSpec(spec document.TileSpec, pageWidthPx, pageHeightPx int) Placement {
	p := Placement{
		XPx:          int(math.Round(spec.BBoxNormalized.X * float64(pageWidthPx))),
		YPx:          int(math.Round(spec.BBoxNormalized.Y * float64(pageHeightPx))),
		WPx:          int(math.Round(spec.BBoxNormalized.W * float64(pageWidthPx))),
		HPx:          int(math.Round(spec.BBoxNormalized.H * float64(pageHeightPx))),
		PageWidthPx:  pageWidthPx,
		PageHeightPx: pageHeightPx,
	}
	if p.XPx < 0 {
		p.WPx += p.XPx
		p.XPx = 0
	}
	if p.YPx < 0 {
		p.HPx += p.YPx
		p.YPx = 0
	}
	if p.XPx+p.WPx > pageWidthPx {
		p.WPx = pageWidthPx - p.XPx
	}
	if p.YPx+p.HPx > pageHeightPx {
		p.HPx = pageHeightPx - p.YPx
	}
	return p
}

// Valid reports whether the placement has positive area and lies within the
// page bounds. Placements built by PlacementFromSpec are always in bounds;
// a false result on one of those means the tile rounds to an empty crop.
func (p Placement) Valid() bool {
	return p.WPx > 0 && p.HPx > 0 &&
		p.XPx >= 0 && p.YPx >= 0 &&
		p.XPx+p.WPx <= p.PageWidthPx &&
		p.YPx+p.HPx <= p.PageHeightPx
}

// MapBBox translates one tile-local pixel box into page-normalized
// coordinates.
func (p Placement) MapBBox(b geometry.BBox) geometry.BBox {
	w := float64(p.PageWidthPx)
	h := float64(p.PageHeightPx)
	return geometry.BBox{
		X: (b.X + float64(p.XPx)) / w,
		Y: (b.Y + float64(p.YPx)) / h,
		W: b.W / w,
		H: b.H / h,
	}
}

// MapPage returns a copy of page with every bounding box - blocks, lines,
// tokens, tables, cells and figures - remapped through the placement. The
// input page is left untouched.
func MapPage(page document.Page, p Placement) document.Page {
	out := document.Page{
		PageIndex: page.PageIndex,
		DPI:       page.DPI,
		WidthPx:   p.PageWidthPx,
		HeightPx:  p.PageHeightPx,
	}

	out.Blocks = make([]document.Block, len(page.Blocks))
	for i, block := range page.Blocks {
		mapped := block
		mapped.BBox = p.MapBBox(block.BBox)
		mapped.Lines = make([]document.Line, len(block.Lines))
		for j, line := range block.Lines {
			ml := line
			ml.BBox = p.MapBBox(line.BBox)
			ml.Tokens = make([]document.Token, len(line.Tokens))
			for k, token := range line.Tokens {
				mt := token
				mt.BBox = p.MapBBox(token.BBox)
				ml.Tokens[k] = mt
			}
			mapped.Lines[j] = ml
		}
		out.Blocks[i] = mapped
	}

	if page.Tables != nil {
		out.Tables = make([]document.Table, len(page.Tables))
		for i, table := range page.Tables {
			mt := table
			mt.BBox = p.MapBBox(table.BBox)
			mt.Cells = make([]document.Cell, len(table.Cells))
			for j, cell := range table.Cells {
				mc := cell
				mc.BBox = p.MapBBox(cell.BBox)
				mt.Cells[j] = mc
			}
			out.Tables[i] = mt
		}
	}

	if page.Figures != nil {
		out.Figures = make([]document.Figure, len(page.Figures))
		for i, figure := range page.Figures {
			mf := figure
			mf.BBox = p.MapBBox(figure.BBox)
			out.Figures[i] = mf
		}
	}

	if page.ReadingOrder != nil {
		out.ReadingOrder = append([]int(nil), page.ReadingOrder...)
	}

	return out
}
