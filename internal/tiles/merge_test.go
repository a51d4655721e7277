package tiles

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/nexadoc/ocr-service/internal/dispatch"
	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/engine"
	apperrors "github.com/nexadoc/ocr-service/internal/errors"
	"github.com/nexadoc/ocr-service/internal/geometry"
	"github.com/nexadoc/ocr-service/internal/raster"
)

// fakeEngine returns pre-queued raw results, one per invocation.
type fakeEngine struct {
	results []interface{}
	calls   int
	err     error
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) next() (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.results) {
		return map[string]interface{}{"words": []interface{}{}}, nil
	}
	result := f.results[f.calls]
	f.calls++
	return result, nil
}

func (f *fakeEngine) AnalyzeDocument(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return f.next()
}

func (f *fakeEngine) RecognizeText(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return f.next()
}

func (f *fakeEngine) AnalyzeLayout(ctx context.Context, frame raster.Frame, opts engine.Options) (interface{}, error) {
	return f.next()
}

func (f *fakeEngine) HealthCheck(ctx context.Context) error { return nil }

func testRaster(pageIndex, w, h int) *raster.PageRaster {
	return &raster.PageRaster{
		PageIndex: pageIndex,
		DPI:       300,
		WidthPx:   w,
		HeightPx:  h,
		Image:     image.NewRGBA(image.Rect(0, 0, w, h)),
	}
}

// wordResult builds a raw OCR result with one word at the given tile-local
// pixel box.
func wordResult(text string, x, y, w, h float64, score float64) map[string]interface{} {
	return map[string]interface{}{
		"words": []interface{}{
			map[string]interface{}{
				"points": []interface{}{
					[]interface{}{x, y},
					[]interface{}{x + w, y},
					[]interface{}{x + w, y + h},
					[]interface{}{x, y + h},
				},
				"content":   text,
				"rec_score": score,
				"direction": "horizontal",
			},
		},
	}
}

func TestMergeTilesDeduplicatesOverlap(t *testing.T) {
	// Two tiles covering the left and right 60% of a 100x100 page; one
	// physical word at page pixels (45,10 10x10) lands in both.
	eng := &fakeEngine{results: []interface{}{
		wordResult("hello", 45, 10, 10, 10, 0.80),
		wordResult("hello", 5, 10, 10, 10, 0.95),
	}}
	o := NewOrchestrator(eng, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 0.6, H: 1}},
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0.4, Y: 0, W: 0.6, H: 1}},
	}

	pages, err := o.MergeTiles(context.Background(), "req-1", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)
	if err != nil {
		t.Fatalf("MergeTiles() error = %v", err)
	}

	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if len(pages[0].Blocks) != 1 {
		t.Fatalf("duplicate detection across tiles not resolved: %d blocks", len(pages[0].Blocks))
	}
	block := pages[0].Blocks[0]
	if block.Text != "hello" {
		t.Errorf("kept block text = %q, want %q", block.Text, "hello")
	}
	// The higher-confidence copy from the second tile must win.
	conf := block.Lines[0].Tokens[0].Confidence
	if conf == nil || *conf != 0.95 {
		t.Errorf("kept confidence = %v, want 0.95", conf)
	}
	want := geometry.BBox{X: 0.45, Y: 0.1, W: 0.1, H: 0.1}
	if !boxesClose(block.BBox, want) {
		t.Errorf("kept bbox = %+v, want %+v", block.BBox, want)
	}
}

func TestMergeTilesDistinctWordsKept(t *testing.T) {
	eng := &fakeEngine{results: []interface{}{
		wordResult("left", 10, 10, 10, 10, 0.9),
		wordResult("right", 30, 10, 10, 10, 0.9),
	}}
	o := NewOrchestrator(eng, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 0.5, H: 1}},
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0.5, Y: 0, W: 0.5, H: 1}},
	}

	pages, err := o.MergeTiles(context.Background(), "req-2", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)
	if err != nil {
		t.Fatalf("MergeTiles() error = %v", err)
	}

	if len(pages[0].Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(pages[0].Blocks))
	}
}

func TestMergeTilesOmitsPagesWithoutTiles(t *testing.T) {
	eng := &fakeEngine{results: []interface{}{
		wordResult("only", 10, 10, 10, 10, 0.9),
	}}
	o := NewOrchestrator(eng, dispatch.New(1), 0.5)

	rasters := []*raster.PageRaster{testRaster(0, 100, 100), testRaster(1, 100, 100)}
	specs := []document.TileSpec{
		{PageIndex: 1, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 1, H: 1}},
	}

	pages, err := o.MergeTiles(context.Background(), "req-3", engine.ModeOCR, engine.Options{}, rasters, specs)
	if err != nil {
		t.Fatalf("MergeTiles() error = %v", err)
	}

	if len(pages) != 1 || pages[0].PageIndex != 1 {
		t.Fatalf("only tiled pages should appear, got %+v", pages)
	}
}

func TestMergeTilesRejectsBadPageIndex(t *testing.T) {
	o := NewOrchestrator(&fakeEngine{}, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 5, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 1, H: 1}},
	}

	_, err := o.MergeTiles(context.Background(), "req-4", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)

	var analysisErr *apperrors.AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
	if analysisErr.Code != apperrors.ErrorMalformedTileSpec {
		t.Errorf("error code = %s, want %s", analysisErr.Code, apperrors.ErrorMalformedTileSpec)
	}
	if analysisErr.PageIndex != 5 || analysisErr.TileIndex != 0 {
		t.Errorf("error context = page %d tile %d, want page 5 tile 0", analysisErr.PageIndex, analysisErr.TileIndex)
	}
}

func TestMergeTilesRejectsOutOfBoundsRegion(t *testing.T) {
	o := NewOrchestrator(&fakeEngine{}, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0.8, Y: 0, W: 0.5, H: 1}},
	}

	_, err := o.MergeTiles(context.Background(), "req-5", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)

	var analysisErr *apperrors.AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Code != apperrors.ErrorMalformedTileSpec {
		t.Fatalf("expected malformed tile spec error, got %v", err)
	}
	// Validation happens before any engine work.
	if eng := o.engine.(*fakeEngine); eng.calls != 0 {
		t.Errorf("engine was invoked %d times before validation failed", eng.calls)
	}
}

func TestMergeTilesRejectsZeroAreaRegion(t *testing.T) {
	o := NewOrchestrator(&fakeEngine{}, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0.2, Y: 0.2, W: 0, H: 0.5}},
	}

	_, err := o.MergeTiles(context.Background(), "req-6", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)

	var analysisErr *apperrors.AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Code != apperrors.ErrorMalformedTileSpec {
		t.Fatalf("expected malformed tile spec error, got %v", err)
	}
}

// A tile flush with the page edge is legal even when pixel rounding would
// land it one pixel past the page: the placement clamps instead of failing.
func TestMergeTilesAcceptsTileAtPageEdge(t *testing.T) {
	eng := &fakeEngine{results: []interface{}{
		wordResult("edge", 5, 10, 10, 10, 0.9),
	}}
	o := NewOrchestrator(eng, dispatch.New(1), 0.5)

	// x+w is exactly 1.0; on a 100px page both edges round up (41 + 60).
	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0.405, Y: 0, W: 0.595, H: 1}},
	}

	pages, err := o.MergeTiles(context.Background(), "req-8", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)
	if err != nil {
		t.Fatalf("MergeTiles() error = %v", err)
	}

	if len(pages) != 1 || len(pages[0].Blocks) != 1 {
		t.Fatalf("expected 1 page with 1 block, got %+v", pages)
	}
	// The clamped crop starts at x=41, so the word at tile-local x=5 maps there.
	want := geometry.BBox{X: 0.46, Y: 0.1, W: 0.1, H: 0.1}
	if !boxesClose(pages[0].Blocks[0].BBox, want) {
		t.Errorf("mapped bbox = %+v, want %+v", pages[0].Blocks[0].BBox, want)
	}
}

// Overlap is metadata about how the client tiled the page; it carries no
// weight in validation or the merge itself.
func TestMergeTilesIgnoresOverlapValue(t *testing.T) {
	eng := &fakeEngine{results: []interface{}{
		wordResult("word", 10, 10, 10, 10, 0.9),
	}}
	o := NewOrchestrator(eng, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 1, H: 1}, Overlap: 1.5},
	}

	pages, err := o.MergeTiles(context.Background(), "req-9", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)
	if err != nil {
		t.Fatalf("MergeTiles() error = %v", err)
	}
	if len(pages) != 1 || len(pages[0].Blocks) != 1 {
		t.Fatalf("expected 1 page with 1 block, got %+v", pages)
	}
}

func TestMergeTilesWrapsEngineFailure(t *testing.T) {
	cause := errors.New("inference backend down")
	o := NewOrchestrator(&fakeEngine{err: cause}, dispatch.New(1), 0.5)

	specs := []document.TileSpec{
		{PageIndex: 0, BBoxNormalized: geometry.BBox{X: 0, Y: 0, W: 1, H: 1}},
	}

	_, err := o.MergeTiles(context.Background(), "req-7", engine.ModeOCR, engine.Options{},
		[]*raster.PageRaster{testRaster(0, 100, 100)}, specs)

	var analysisErr *apperrors.AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
	if analysisErr.Code != apperrors.ErrorEngineInvocation {
		t.Errorf("error code = %s, want %s", analysisErr.Code, apperrors.ErrorEngineInvocation)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause must be reachable through Unwrap")
	}
}
