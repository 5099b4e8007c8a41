package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ONNXDetector implements Detector with the OpenCV DNN module.
type ONNXDetector struct {
	config Config
	net    gocv.Net
	mu     sync.Mutex
	closed bool
}

// NewONNXDetector loads the model at config.ModelPath.
func NewONNXDetector(config Config) (*ONNXDetector, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("onnx detector: model path is required")
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx detector: %w", err)
	}

	net := gocv.ReadNetFromONNX(config.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("onnx detector: failed to load %s", config.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNXDetector{
		config: config,
		net:    net,
	}, nil
}

// Detect letterboxes the frame, runs a forward pass and returns the output
// tensor in detector-input pixels.
func (d *ONNXDetector) Detect(ctx context.Context, frame *gocv.Mat) (*Tensor, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("onnx detector: empty frame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("onnx detector: closed")
	}

	size := d.InputSize()
	input, _, err := LetterboxImage(*frame, size)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	return tensorFromMat(out)
}

// tensorFromMat reads a [1, anchors, attrs] or [1, attrs, anchors] output.
// The smaller trailing dimension is taken to be the attribute axis.
func tensorFromMat(out gocv.Mat) (*Tensor, error) {
	dims := out.Size()
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("onnx detector: unexpected output shape %v", out.Size())
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("onnx detector: read output: %w", err)
	}
	buf := make([]float32, len(data))
	copy(buf, data)

	t := &Tensor{Data: buf}
	if dims[0] < dims[1] {
		t.Attributes, t.Anchors, t.Layout = dims[0], dims[1], AttributeMajor
	} else {
		t.Anchors, t.Attributes, t.Layout = dims[0], dims[1], AnchorMajor
	}
	return t, nil
}

// InputSize returns the configured square input size.
func (d *ONNXDetector) InputSize() image.Point {
	return d.config.inputPoint()
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
