package track

import "github.com/ayusman/shuttlespeed/internal/units"

// SpeedKmh converts the filter's pixel velocity into km/h for a clip at fps
// frames per second calibrated at metersPerPixel.
func (s State) SpeedKmh(fps, metersPerPixel float64) float64 {
	return units.PixelsPerFrameToKMPH(s.SpeedPx, fps, metersPerPixel)
}
