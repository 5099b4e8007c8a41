package detector

import (
	"math"
	"sort"
)

// Decoder defaults.
const (
	DefaultConfidenceThreshold = 0.25
	DefaultIoUThreshold        = 0.45
)

// Attribute offsets within one anchor row.
const (
	AttrCenterX = iota
	AttrCenterY
	AttrWidth
	AttrHeight
	AttrObjectness
	AttrClassProb
	NumAttributes
)

// Layout describes how a flat tensor buffer is ordered.
type Layout int

const (
	// AnchorMajor stores one row of attributes per anchor: [anchors, attrs].
	AnchorMajor Layout = iota
	// AttributeMajor stores one row of anchors per attribute: [attrs, anchors].
	AttributeMajor
)

// Tensor is the raw per-anchor detector output.
type Tensor struct {
	Data       []float32
	Anchors    int
	Attributes int
	Layout     Layout
}

// NewTensor builds an AnchorMajor tensor from per-anchor rows.
func NewTensor(rows [][]float32) *Tensor {
	t := &Tensor{Anchors: len(rows), Attributes: NumAttributes}
	t.Data = make([]float32, 0, len(rows)*NumAttributes)
	for _, row := range rows {
		padded := make([]float32, NumAttributes)
		copy(padded, row)
		t.Data = append(t.Data, padded...)
	}
	return t
}

// At returns attribute attr of the given anchor.
func (t *Tensor) At(anchor, attr int) float64 {
	if t.Layout == AttributeMajor {
		return float64(t.Data[attr*t.Anchors+anchor])
	}
	return float64(t.Data[anchor*t.Attributes+attr])
}

func (t *Tensor) valid() bool {
	if t == nil || t.Anchors <= 0 || t.Attributes < AttrObjectness+1 {
		return false
	}
	return len(t.Data) >= t.Anchors*t.Attributes
}

// Decoder turns raw tensors into candidate boxes.
type Decoder struct {
	ConfidenceThreshold float64
	IoUThreshold        float64
}

// DefaultDecoder returns a Decoder using the default thresholds.
func DefaultDecoder() Decoder {
	return Decoder{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
	}
}

// Decode extracts candidates scoring at least ConfidenceThreshold and
// collapses overlapping duplicates. Returns nil if nothing survives.
// Anchors with a non-finite score or box are skipped.
//
// Each anchor holds [cx, cy, w, h, objectness, class_prob] in detector
// input pixels. A five-attribute tensor has no objectness column and
// uses attribute 4 as the score directly.
func (d Decoder) Decode(t *Tensor) []Candidate {
	if !t.valid() {
		return nil
	}

	var kept []Candidate
	for i := 0; i < t.Anchors; i++ {
		var confidence float64
		if t.Attributes > AttrClassProb {
			confidence = t.At(i, AttrObjectness) * t.At(i, AttrClassProb)
		} else {
			confidence = t.At(i, AttrObjectness)
		}
		// Negated so NaN scores are dropped too
		if !(confidence >= d.ConfidenceThreshold) || math.IsInf(confidence, 0) {
			continue
		}

		cx, cy := t.At(i, AttrCenterX), t.At(i, AttrCenterY)
		w, h := t.At(i, AttrWidth), t.At(i, AttrHeight)
		if !finite(cx, cy, w, h) {
			continue
		}
		kept = append(kept, Candidate{
			Box:        Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h},
			Confidence: confidence,
			Class:      0,
		})
	}

	return NMS(kept, d.IoUThreshold)
}

// NMS applies greedy non-maximum suppression: the highest confidence box is
// kept and every remaining box overlapping it by more than iouThreshold is
// dropped, until no boxes remain. The input slice is not modified.
func NMS(candidates []Candidate, iouThreshold float64) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	result := make([]Candidate, 0, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		result = append(result, sorted[i])

		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[i].Box.IoU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return result
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
