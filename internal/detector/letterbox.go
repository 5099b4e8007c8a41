package detector

import (
	"errors"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// PadColor is the neutral gray used to fill letterbox padding.
var PadColor = color.RGBA{R: 114, G: 114, B: 114, A: 0}

// Letterbox describes an aspect-preserving resize of a frame into a fixed
// detector input: uniform scale, then centered padding.
type Letterbox struct {
	Scale float64
	PadX  float64
	PadY  float64
}

// NewLetterbox computes the letterbox that fits a frameW x frameH image into
// an inputW x inputH detector input.
func NewLetterbox(frameW, frameH, inputW, inputH int) Letterbox {
	if frameW <= 0 || frameH <= 0 || inputW <= 0 || inputH <= 0 {
		return Letterbox{Scale: 1}
	}
	fw, fh := float64(frameW), float64(frameH)
	iw, ih := float64(inputW), float64(inputH)

	scale := math.Min(iw/fw, ih/fh)
	return Letterbox{
		Scale: scale,
		PadX:  (iw - fw*scale) / 2,
		PadY:  (ih - fh*scale) / 2,
	}
}

// PixelLetterbox is NewLetterbox with the padding snapped to the whole-pixel
// offsets LetterboxImage writes. Detections from a LetterboxImage input
// should be mapped back with this transform. The remaining error comes from
// rounding the resized size and is below half an input pixel per edge.
func PixelLetterbox(frameW, frameH, inputW, inputH int) Letterbox {
	lb := NewLetterbox(frameW, frameH, inputW, inputH)
	lb.PadX = math.Max(0, math.Round(lb.PadX-0.1))
	lb.PadY = math.Max(0, math.Round(lb.PadY-0.1))
	return lb
}

// ToInput maps a frame-space box into detector-input space.
func (l Letterbox) ToInput(r Rect) Rect {
	return Rect{
		X: r.X*l.Scale + l.PadX,
		Y: r.Y*l.Scale + l.PadY,
		W: r.W * l.Scale,
		H: r.H * l.Scale,
	}
}

// ToFrame maps a detector-input box back into frame pixel space.
// It is the exact inverse of ToInput.
func (l Letterbox) ToFrame(r Rect) Rect {
	return Rect{
		X: (r.X - l.PadX) / l.Scale,
		Y: (r.Y - l.PadY) / l.Scale,
		W: r.W / l.Scale,
		H: r.H / l.Scale,
	}
}

// PointToFrame maps a detector-input point back into frame pixel space.
func (l Letterbox) PointToFrame(p Point) Point {
	return Point{X: (p.X - l.PadX) / l.Scale, Y: (p.Y - l.PadY) / l.Scale}
}

// LetterboxImage resizes src into a size.X x size.Y image padded with
// PadColor and returns it with the transform that was applied, as computed
// by PixelLetterbox.
// The caller is responsible for closing the returned Mat.
func LetterboxImage(src gocv.Mat, size image.Point) (gocv.Mat, Letterbox, error) {
	if src.Empty() {
		return gocv.NewMat(), Letterbox{}, errors.New("letterbox: empty frame")
	}

	lb := PixelLetterbox(src.Cols(), src.Rows(), size.X, size.Y)

	newW := int(math.Round(float64(src.Cols()) * lb.Scale))
	newH := int(math.Round(float64(src.Rows()) * lb.Scale))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationLinear)

	left := int(lb.PadX)
	top := int(lb.PadY)
	right := size.X - newW - left
	bottom := size.Y - newH - top

	dst := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &dst, top, bottom, left, right, gocv.BorderConstant, PadColor)

	return dst, lb, nil
}
