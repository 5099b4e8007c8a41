package analysis

import "github.com/ayusman/shuttlespeed/internal/detector"

// FrameRecord is the track output for one frame.
type FrameRecord struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // seconds

	// Box is the accepted detection normalized to [0,1] of the frame size.
	Box *detector.Rect `json:"box,omitempty"`

	// SpeedKmh is absent until the track existed before this frame.
	SpeedKmh *float64 `json:"speed_kmh,omitempty"`

	// Point is the filter position in frame pixels, absent while untracked.
	Point *detector.Point `json:"point,omitempty"`
}

// Result is the outcome of one analysis run.
type Result struct {
	Records        []FrameRecord `json:"records"`
	FPS            float64       `json:"fps"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	MetersPerPixel float64       `json:"meters_per_pixel"`

	// Cancelled is set when the run stopped early; Records is then a prefix.
	Cancelled bool `json:"cancelled"`
}

// PeakSpeedKmh returns the highest speed in the run, or false if no frame
// reported one.
func (r *Result) PeakSpeedKmh() (float64, bool) {
	var peak float64
	found := false
	for _, rec := range r.Records {
		if rec.SpeedKmh == nil {
			continue
		}
		if !found || *rec.SpeedKmh > peak {
			peak = *rec.SpeedKmh
			found = true
		}
	}
	return peak, found
}
