package capture

import (
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// MockSource plays back in-memory frames for testing.
type MockSource struct {
	info    VideoInfo
	frames  []*gocv.Mat
	count   int
	index   int
	failAt  int
	failErr error
	mu      sync.Mutex
	running bool
}

// NewMockSource plays back frames in order. Each call to Next returns a clone
// so the originals stay owned by the caller.
func NewMockSource(info VideoInfo, frames []*gocv.Mat) *MockSource {
	return &MockSource{
		info:    info,
		frames:  frames,
		count:   len(frames),
		failAt:  -1,
		running: true,
	}
}

// NewBlankSource yields n black frames sized to info.
func NewBlankSource(info VideoInfo, n int) *MockSource {
	return &MockSource{
		info:    info,
		count:   n,
		failAt:  -1,
		running: true,
	}
}

// FailAt makes the read of frame index fail with err.
func (m *MockSource) FailAt(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = index
	m.failErr = err
}

// Info returns the configured metadata.
func (m *MockSource) Info() VideoInfo {
	return m.info
}

// Next returns the next frame or io.EOF once all frames were played.
func (m *MockSource) Next() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil, ErrSourceNotOpen
	}
	if m.index == m.failAt {
		return nil, m.failErr
	}
	if m.index >= m.count {
		return nil, io.EOF
	}

	var mat gocv.Mat
	if m.frames != nil {
		mat = m.frames[m.index].Clone()
	} else {
		mat = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), m.info.Height, m.info.Width, gocv.MatTypeCV8UC3)
	}

	frame := &Frame{Mat: &mat, Index: m.index}
	if m.info.FPS > 0 {
		frame.Timestamp = float64(m.index) / m.info.FPS
	}
	m.index++

	return frame, nil
}

// Close stops playback.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// IsOpen reports whether Close has not been called yet.
func (m *MockSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reset restarts playback from the beginning.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = 0
	m.running = true
}
