/**
 * Raster provider for the document analysis service
 *
 * Decodes uploaded files into per-page pixel rasters at a target DPI:
 * - PDF pages are rendered with go-fitz (MuPDF)
 * - PNG/JPEG images are decoded and rescaled from their assumed 72 DPI base
 *
 * Also owns file-type sniffing and tile cropping. The analysis core only ever
 * sees decoded rasters; transport and storage formats stop here.
 */

package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	xdraw "golang.org/x/image/draw"

	"github.com/nexadoc/ocr-service/internal/logging"
)

// ErrUnsupportedFormat is returned when the file bytes are not a PDF, PNG or
// JPEG. Callers map this to their own validation error type.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// assumedSourceDPI is used for raw images, which carry no reliable DPI
// metadata once decoded.
const assumedSourceDPI = 72

// PageRaster is one decoded page at a known DPI.
type PageRaster struct {
	PageIndex int
	DPI       int
	WidthPx   int
	HeightPx  int
	Image     *image.RGBA
}

// Frame is an encoded crop (or full page) ready for engine submission.
type Frame struct {
	PNG      []byte
	WidthPx  int
	HeightPx int
	DPI      int
}

// Rasterizer converts file bytes into page rasters.
type Rasterizer struct {
	maxFileSize int64
	logger      *logging.Logger
}

// NewRasterizer creates a new rasterizer. maxFileSize of 0 disables the
// size check.
func NewRasterizer(maxFileSize int64) *Rasterizer {
	return &Rasterizer{
		maxFileSize: maxFileSize,
		logger:      logging.NewLogger("Rasterizer"),
	}
}

// Rasterize decodes file bytes into an ordered sequence of page rasters at
// the target DPI. Single images yield exactly one page.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, dpi int) ([]*PageRaster, error) {
	if r.maxFileSize > 0 && int64(len(data)) > r.maxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", len(data), r.maxFileSize)
	}

	mimeType := DetectMIMEType(data)
	switch mimeType {
	case "application/pdf":
		return r.rasterizePDF(ctx, data, dpi)
	case "image/png", "image/jpeg":
		page, err := r.rasterizeImage(data, mimeType, dpi)
		if err != nil {
			return nil, err
		}
		return []*PageRaster{page}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}

// rasterizePDF renders each PDF page at the target DPI.
func (r *Rasterizer) rasterizePDF(ctx context.Context, data []byte, dpi int) ([]*PageRaster, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	r.logger.Info("Rasterizing PDF", "pages", pageCount, "dpi", dpi)

	pages := make([]*PageRaster, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", pageNum, err)
		}

		bounds := img.Bounds()
		pages = append(pages, &PageRaster{
			PageIndex: pageNum,
			DPI:       dpi,
			WidthPx:   bounds.Dx(),
			HeightPx:  bounds.Dy(),
			Image:     img,
		})
	}

	return pages, nil
}

// rasterizeImage decodes a single raster image and rescales it so the result
// matches the target DPI against the assumed 72 DPI source.
func (r *Rasterizer) rasterizeImage(data []byte, mimeType string, dpi int) (*PageRaster, error) {
	var (
		src image.Image
		err error
	)
	switch mimeType {
	case "image/png":
		src, err = png.Decode(bytes.NewReader(data))
	case "image/jpeg":
		src, err = jpeg.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}

	rgba := toRGBA(src)
	if dpi != assumedSourceDPI {
		scale := float64(dpi) / float64(assumedSourceDPI)
		rgba = rescale(rgba, scale)
	}

	bounds := rgba.Bounds()
	return &PageRaster{
		PageIndex: 0,
		DPI:       dpi,
		WidthPx:   bounds.Dx(),
		HeightPx:  bounds.Dy(),
		Image:     rgba,
	}, nil
}

// Frame encodes the whole page as a PNG frame for engine submission.
func (p *PageRaster) Frame() (Frame, error) {
	return encodeFrame(p.Image, p.WidthPx, p.HeightPx, p.DPI)
}

// Crop encodes the pixel region (x, y, w, h) of the page as a PNG frame.
// The region is clamped to the page bounds; a clamped region with
// non-positive dimensions is an error.
func (p *PageRaster) Crop(x, y, w, h int) (Frame, error) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(p.Image.Bounds())
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return Frame{}, fmt.Errorf("crop region (%d,%d %dx%d) is outside page bounds %dx%d",
			x, y, w, h, p.WidthPx, p.HeightPx)
	}

	sub := p.Image.SubImage(rect)
	return encodeFrame(sub, rect.Dx(), rect.Dy(), p.DPI)
}

func encodeFrame(img image.Image, w, h, dpi int) (Frame, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return Frame{PNG: buf.Bytes(), WidthPx: w, HeightPx: h, DPI: dpi}, nil
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	return rgba
}

func rescale(src *image.RGBA, scale float64) *image.RGBA {
	bounds := src.Bounds()
	w := int(math.Round(float64(bounds.Dx()) * scale))
	h := int(math.Round(float64(bounds.Dy()) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

// DetectMIMEType detects the MIME type from file content magic bytes.
// Returns "" when the content matches no known signature.
func DetectMIMEType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	return ""
}

// ValidateFileType checks that the declared content type is supported and
// matches the filename extension.
func ValidateFileType(filename, contentType string) error {
	allowedTypes := map[string][]string{
		"application/pdf": {".pdf"},
		"image/png":       {".png"},
		"image/jpeg":      {".jpg", ".jpeg"},
	}

	exts, ok := allowedTypes[contentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range exts {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: file extension %q does not match content type %s", ErrUnsupportedFormat, ext, contentType)
}
