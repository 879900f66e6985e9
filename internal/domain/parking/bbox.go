package parking

// BBox is an axis-aligned bounding box in pixel coordinates, top-left to
// bottom-right.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has positive area.
func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Center returns the box center.
func (b BBox) Center() (x, y float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return float64(b.X2-b.X1) * float64(b.Y2-b.Y1)
}

// Clamp restricts the box to a width*height frame.
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// IoU returns the intersection-over-union overlap ratio with other.
func (b BBox) IoU(other BBox) float64 {
	ix1 := max(b.X1, other.X1)
	iy1 := max(b.Y1, other.Y1)
	ix2 := min(b.X2, other.X2)
	iy2 := min(b.Y2, other.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64(ix2-ix1) * float64(iy2-iy1)
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
