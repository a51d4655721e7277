/**
 * Geometry primitives for document analysis
 *
 * Axis-aligned bounding boxes and IoU (Intersection over Union).
 * All functions are pure; boxes are small value types and are passed by value.
 */

package geometry

// BBox is an axis-aligned bounding box with the origin in the top-left corner.
// Depending on context the units are either pixels of a specific raster or
// fractions of the full page dimensions (page-normalized space).
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FromCorners builds a BBox from a two-corner [x1,y1,x2,y2] box.
func FromCorners(x1, y1, x2, y2 float64) BBox {
	return BBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// FromPolygon builds the enclosing axis-aligned rectangle of a 4-point
// polygon (rotated text regions). Orientation is discarded; only the min/max
// extent of the points survives.
func FromPolygon(xs, ys []float64) BBox {
	if len(xs) == 0 || len(ys) == 0 {
		return BBox{}
	}
	minX, maxX := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
	}
	minY, maxY := ys[0], ys[0]
	for _, y := range ys[1:] {
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return FromCorners(minX, minY, maxX, maxY)
}

// Area returns the box area. Zero-area boxes are legal.
func (b BBox) Area() float64 {
	return b.W * b.H
}

// IoU computes the Intersection over Union of two boxes.
// Returns 0.0 when the boxes do not overlap or when the union area is zero
// (both boxes degenerate). The result is always in [0,1].
func IoU(a, b BBox) float64 {
	x1 := max64(a.X, b.X)
	y1 := max64(a.Y, b.Y)
	x2 := min64(a.X+a.W, b.X+b.W)
	y2 := min64(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0.0
	}
	return intersection / union
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
