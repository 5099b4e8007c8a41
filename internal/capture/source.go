// Package capture provides video frame sources using GoCV (OpenCV).
package capture

import (
	"errors"
	"math"

	"gocv.io/x/gocv"
)

var (
	// ErrSourceNotOpen is returned when reading from a closed source.
	ErrSourceNotOpen = errors.New("frame source is not open")

	// ErrDecode is returned when the container yields a frame that cannot be decoded.
	ErrDecode = errors.New("failed to decode frame")
)

// VideoInfo describes the video track of a clip.
type VideoInfo struct {
	FPS      float64 `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"` // seconds
}

// ExpectedFrames returns the nominal frame count, duration times frame rate.
func (v VideoInfo) ExpectedFrames() int {
	if v.FPS <= 0 || v.Duration <= 0 {
		return 0
	}
	return int(math.Round(v.Duration * v.FPS))
}

// Valid reports whether the info carries a usable frame rate and size.
func (v VideoInfo) Valid() bool {
	return v.FPS > 0 && v.Width > 0 && v.Height > 0
}

// Frame is one decoded video frame.
type Frame struct {
	Mat       *gocv.Mat
	Index     int
	Timestamp float64 // seconds from clip start
}

// Close releases the frame pixels.
func (f *Frame) Close() error {
	if f == nil || f.Mat == nil {
		return nil
	}
	err := f.Mat.Close()
	f.Mat = nil
	return err
}

// Source yields the frames of one clip in order.
type Source interface {
	// Info returns the clip metadata. It is available before the first Next.
	Info() VideoInfo

	// Next returns the next frame, io.EOF at the end of the clip, or another
	// error if the clip cannot be read any further. The caller owns the frame.
	Next() (*Frame, error)

	Close() error
}
