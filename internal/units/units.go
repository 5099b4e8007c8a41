// Package units provides speed unit constants and conversions shared by the
// tracker, the store and the API.
package units

import "strings"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// PixelsPerFrameToMPS converts an image-space speed into meters per second
// using the clip frame rate and a meters-per-pixel calibration.
func PixelsPerFrameToMPS(pxPerFrame, fps, metersPerPixel float64) float64 {
	return pxPerFrame * fps * metersPerPixel
}

// PixelsPerFrameToKMPH is PixelsPerFrameToMPS expressed in km/h.
func PixelsPerFrameToKMPH(pxPerFrame, fps, metersPerPixel float64) float64 {
	return ConvertSpeed(PixelsPerFrameToMPS(pxPerFrame, fps, metersPerPixel), KMPH)
}

// FromKMPH converts a km/h speed, the unit frame records are stored in, to
// the target units.
func FromKMPH(speedKMPH float64, targetUnits string) float64 {
	return ConvertSpeed(speedKMPH/3.6, targetUnits)
}
