/**
 * Tile merge orchestrator
 *
 * Drives the tile pipeline for one request: validate every tile spec up
 * front, crop and analyze each tile, remap results into page coordinates,
 * and resolve duplicates per page. Tiles on the same page run sequentially;
 * engine calls go through the shared dispatcher so tile requests compete for
 * the same inference slots as whole-page ones.
 *
 * A single malformed tile spec fails the whole request - partial tile
 * results would silently skew duplicate resolution for the rest of the page.
 */

package tiles

import (
	"context"
	"fmt"

	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	apperrors "github.com/nexadoc/ocr-service/internal/errors"
	"github.com/nexadoc/ocr-service/internal/logging"
	"github.com/nexadoc/ocr-service/internal/normalize"
	"github.com/nexadoc/ocr-service/internal/raster"
)

// Orchestrator merges per-tile engine results into whole pages.
type Orchestrator struct {
	engine       engine.Engine
	dispatcher   *dispatch.Dispatcher
	logger       *logging.Logger
	iouThreshold float64
}

// NewOrchestrator creates an Orchestrator. A non-positive iouThreshold
// selects DefaultIoUThreshold.
func NewOrchestrator(eng engine.Engine, dispatcher *dispatch.Dispatcher, iouThreshold float64) *Orchestrator {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &Orchestrator{
		engine:       eng,
		dispatcher:   dispatcher,
		logger:       logging.NewLogger("TileOrchestrator"),
		iouThreshold: iouThreshold,
	}
}

// placedTile is a validated tile spec bound to its page.
type placedTile struct {
	index     int
	placement Placement
}

// MergeTiles analyzes the given tile regions and returns one merged Page per
// page that has at least one tile. Pages without tiles are omitted. All
// specs are validated before any engine work starts.
func (o *Orchestrator) MergeTiles(
	ctx context.Context,
	requestID string,
	mode engine.Mode,
	opts engine.Options,
	rasters []*raster.PageRaster,
	specs []document.TileSpec,
) ([]document.Page, error) {
	byPage, err := o.validateSpecs(requestID, rasters, specs)
	if err != nil {
		return nil, err
	}

	o.logger.Info(fmt.Sprintf("[Request %s] Merging %d tiles across %d pages (mode=%s, iou=%.2f)",
		requestID, len(specs), len(byPage), mode, o.iouThreshold))

	pages := make([]document.Page, 0, len(byPage))
	for _, pr := range rasters {
		tiles, ok := byPage[pr.PageIndex]
		if !ok {
			continue
		}

		merged := document.Page{
			PageIndex: pr.PageIndex,
			DPI:       pr.DPI,
			WidthPx:   pr.WidthPx,
			HeightPx:  pr.HeightPx,
			Blocks:    []document.Block{},
		}

		for _, tile := range tiles {
			page, err := o.analyzeTile(ctx, requestID, mode, opts, pr, tile)
			if err != nil {
				return nil, err
			}
			merged.Blocks = append(merged.Blocks, page.Blocks...)
			merged.Tables = append(merged.Tables, page.Tables...)
			merged.Figures = append(merged.Figures, page.Figures...)
		}

		before := len(merged.Blocks)
		merged.Blocks = ResolveDuplicates(merged.Blocks, o.iouThreshold)
		o.logger.Info(fmt.Sprintf("[Request %s] Page %d: %d blocks from %d tiles, %d after duplicate resolution",
			requestID, pr.PageIndex, before, len(tiles), len(merged.Blocks)))

		pages = append(pages, merged)
	}

	return pages, nil
}

// validateSpecs checks every tile spec against the rastered pages and groups
// the resulting placements by page index, preserving spec order.
func (o *Orchestrator) validateSpecs(
	requestID string,
	rasters []*raster.PageRaster,
	specs []document.TileSpec,
) (map[int][]placedTile, error) {
	pageDims := make(map[int]*raster.PageRaster, len(rasters))
	for _, pr := range rasters {
		pageDims[pr.PageIndex] = pr
	}

	byPage := make(map[int][]placedTile)
	for i, spec := range specs {
		pr, ok := pageDims[spec.PageIndex]
		if !ok {
			return nil, apperrors.NewMalformedTileSpecError(requestID, spec.PageIndex, i,
				fmt.Sprintf("page index %d does not exist in a %d-page document", spec.PageIndex, len(rasters)))
		}
		b := spec.BBoxNormalized
		if b.W <= 0 || b.H <= 0 {
			return nil, apperrors.NewMalformedTileSpecError(requestID, spec.PageIndex, i,
				fmt.Sprintf("tile region %gx%g has non-positive area", b.W, b.H))
		}
		if b.X < 0 || b.Y < 0 || b.X+b.W > 1 || b.Y+b.H > 1 {
			return nil, apperrors.NewMalformedTileSpecError(requestID, spec.PageIndex, i,
				fmt.Sprintf("tile region (%g,%g %gx%g) lies outside the unit page square", b.X, b.Y, b.W, b.H))
		}
		// Overlap is declarative metadata from the tiling client; it never
		// feeds the merge, so an odd value is only worth a log line.
		if spec.Overlap < 0 || spec.Overlap >= 1 {
			o.logger.Warn(fmt.Sprintf("[Request %s] Tile %d on page %d declares overlap %.3f, ignoring",
				requestID, i, spec.PageIndex, spec.Overlap))
		}

		placement := PlacementFromSpec(spec, pr.WidthPx, pr.HeightPx)
		if !placement.Valid() {
			return nil, apperrors.NewMalformedTileSpecError(requestID, spec.PageIndex, i,
				fmt.Sprintf("tile region (%g,%g %gx%g) rounds to an empty crop on a %dx%d page",
					b.X, b.Y, b.W, b.H, pr.WidthPx, pr.HeightPx))
		}

		byPage[spec.PageIndex] = append(byPage[spec.PageIndex], placedTile{index: i, placement: placement})
	}

	return byPage, nil
}

// analyzeTile crops one tile, runs the engine on it and remaps the result
// into page-normalized coordinates.
func (o *Orchestrator) analyzeTile(
	ctx context.Context,
	requestID string,
	mode engine.Mode,
	opts engine.Options,
	pr *raster.PageRaster,
	tile placedTile,
) (document.Page, error) {
	p := tile.placement

	frame, err := pr.Crop(p.XPx, p.YPx, p.WPx, p.HPx)
	if err != nil {
		return document.Page{}, apperrors.NewRasterFailedError(requestID, pr.PageIndex, err)
	}

	var raw interface{}
	invokeErr := o.dispatcher.Do(ctx, func() error {
		var err error
		raw, err = engine.Invoke(ctx, o.engine, mode, frame, opts)
		return err
	})
	if invokeErr != nil {
		return document.Page{}, apperrors.NewEngineInvocationError(requestID, pr.PageIndex, tile.index, invokeErr)
	}

	local := normalize.Normalize(raw, normalize.PageInfo{
		PageIndex: pr.PageIndex,
		DPI:       pr.DPI,
		WidthPx:   frame.WidthPx,
		HeightPx:  frame.HeightPx,
	})

	return MapPage(local, p), nil
}
