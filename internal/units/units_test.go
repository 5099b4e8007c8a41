package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name  string
		mps   float64
		units string
		want  float64
	}{
		{name: "mps passthrough", mps: 10, units: MPS, want: 10},
		{name: "kmph", mps: 10, units: KMPH, want: 36},
		{name: "kph alias", mps: 10, units: KPH, want: 36},
		{name: "mph", mps: 10, units: MPH, want: 22.369362920544},
		{name: "unknown falls back to mps", mps: 10, units: "knots", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.mps, tt.units)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tt.mps, tt.units, got, tt.want)
			}
		})
	}
}

func TestPixelsPerFrameToKMPH(t *testing.T) {
	// 10 px/frame at 30 fps with 1 cm per pixel is 3 m/s.
	got := PixelsPerFrameToKMPH(10, 30, 0.01)
	if math.Abs(got-10.8) > 1e-9 {
		t.Errorf("PixelsPerFrameToKMPH = %v, want 10.8", got)
	}

	if got := PixelsPerFrameToMPS(0, 30, 0.01); got != 0 {
		t.Errorf("zero speed = %v, want 0", got)
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	if IsValid("furlongs") {
		t.Error("IsValid(furlongs) = true")
	}
	if got := GetValidUnitsString(); got != "mps, mph, kmph, kph" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestFromKMPH(t *testing.T) {
	tests := []struct {
		units string
		want  float64
	}{
		{KMPH, 36},
		{KPH, 36},
		{MPS, 10},
		{MPH, 22.369362920544},
	}

	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			if got := FromKMPH(36, tt.units); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("FromKMPH(36, %q) = %v, want %v", tt.units, got, tt.want)
			}
		})
	}
}
