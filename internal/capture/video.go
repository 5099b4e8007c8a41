package capture

import (
	"fmt"
	"io"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// frameCountSlack is how many frames short of the container frame count a
// failed read may be and still count as the end of the clip. Container
// counts are estimates and are often off by a frame.
const frameCountSlack = 2

// videoSource reads frames from a video file using GoCV.
type videoSource struct {
	path       string
	capture    *gocv.VideoCapture
	info       VideoInfo
	frameCount int
	mu         sync.Mutex
	index      int
	running    bool
}

// OpenVideo opens the video file at path.
// Timestamps are derived from the frame index and the container frame rate.
func OpenVideo(path string) (Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open %s: %w", path, ErrSourceNotOpen)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	info := VideoInfo{
		FPS:    fps,
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	count := capture.Get(gocv.VideoCaptureFrameCount)
	if count > 0 && fps > 0 {
		info.Duration = count / fps
	}

	return &videoSource{
		path:       path,
		capture:    capture,
		info:       info,
		frameCount: int(math.Max(0, count)),
		running:    true,
	}, nil
}

// Info returns the container metadata.
func (v *videoSource) Info() VideoInfo {
	return v.info
}

// Next decodes the next frame.
func (v *videoSource) Next() (*Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return nil, ErrSourceNotOpen
	}

	// Read reports only success, so the end of the clip and a decode
	// failure look the same. The container frame count tells them apart
	// when it is known.
	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok {
		mat.Close()
		return nil, readFailure(v.path, v.index, v.frameCount)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%s: frame %d is empty: %w", v.path, v.index, ErrDecode)
	}

	frame := &Frame{
		Mat:       &mat,
		Index:     v.index,
		Timestamp: float64(v.index) / v.info.FPS,
	}
	v.index++

	return frame, nil
}

// readFailure classifies a failed read of frame index in a clip whose
// container claims frameCount frames (0 if unknown).
func readFailure(path string, index, frameCount int) error {
	if index == 0 {
		return fmt.Errorf("%s: no frames: %w", path, ErrDecode)
	}
	if frameCount > 0 && index+frameCountSlack < frameCount {
		return fmt.Errorf("%s: read failed at frame %d of %d: %w", path, index, frameCount, ErrDecode)
	}
	return io.EOF
}

// Close releases the underlying capture.
func (v *videoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.running = false

	return err
}
