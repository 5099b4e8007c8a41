package detector

import (
	"context"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the tensor returned for each call.
type MockDetector struct {
	mu        sync.Mutex
	inputSize image.Point
	tensor    *Tensor
	sequence  []*Tensor
	err       error
	errAt     map[int]error
	calls     int
	onDetect  func(call int)
}

// NewMockDetector creates a new MockDetector with a 640x640 input.
func NewMockDetector() *MockDetector {
	return &MockDetector{
		inputSize: image.Point{X: DefaultInputSize, Y: DefaultInputSize},
		errAt:     make(map[int]error),
	}
}

// SetInputSize overrides the reported detector input size.
func (m *MockDetector) SetInputSize(size image.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputSize = size
}

// SetTensor sets the tensor returned by every call not covered by a sequence.
func (m *MockDetector) SetTensor(t *Tensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tensor = t
}

// SetSequence sets per-call tensors: call i returns seq[i]. Calls past the
// end fall back to the tensor set with SetTensor.
func (m *MockDetector) SetSequence(seq []*Tensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence = seq
}

// SetError sets the error that will be returned by every call.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetErrorAt makes only call i fail with err.
func (m *MockDetector) SetErrorAt(call int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errAt[call] = err
}

// OnDetect registers a hook invoked with the zero-based call index before
// Detect returns.
func (m *MockDetector) OnDetect(fn func(call int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetect = fn
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured tensor or error.
func (m *MockDetector) Detect(ctx context.Context, frame *gocv.Mat) (*Tensor, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	hook := m.onDetect
	err := m.err
	if e, ok := m.errAt[call]; ok {
		err = e
	}
	t := m.tensor
	if call < len(m.sequence) {
		t = m.sequence[call]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// InputSize returns the configured input size.
func (m *MockDetector) InputSize() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputSize
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// SingleBoxTensor returns a one-anchor tensor centered at (cx, cy) in
// detector-input space.
func SingleBoxTensor(cx, cy, w, h, objectness, classProb float64) *Tensor {
	return NewTensor([][]float32{{
		float32(cx), float32(cy), float32(w), float32(h), float32(objectness), float32(classProb),
	}})
}
