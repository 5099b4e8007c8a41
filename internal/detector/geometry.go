// Package detector decodes shuttlecock detector output and maps it back from
// the detector's letterboxed input space to source-frame pixels.
package detector

import "math"

// Point is a 2D position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two points.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is an axis-aligned box in corner form.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Area returns the box area, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// IoU returns the intersection-over-union of two boxes.
func (r Rect) IoU(o Rect) float64 {
	x1 := math.Max(r.X, o.X)
	y1 := math.Max(r.Y, o.Y)
	x2 := math.Min(r.X+r.W, o.X+o.W)
	y2 := math.Min(r.Y+r.H, o.Y+o.H)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	if inter == 0 {
		return 0
	}

	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Normalize clips the box to a width x height frame and scales it to [0,1].
func (r Rect) Normalize(width, height int) Rect {
	if width <= 0 || height <= 0 {
		return Rect{}
	}
	w, h := float64(width), float64(height)

	x1 := clamp(r.X, 0, w)
	y1 := clamp(r.Y, 0, h)
	x2 := clamp(r.X+r.W, 0, w)
	y2 := clamp(r.Y+r.H, 0, h)

	return Rect{X: x1 / w, Y: y1 / h, W: (x2 - x1) / w, H: (y2 - y1) / h}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Candidate is a decoded detection in detector-input pixel space.
type Candidate struct {
	Box        Rect    `json:"box"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
}
