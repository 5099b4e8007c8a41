package detector

import (
	"context"
	"image"

	"github.com/ayusman/shuttlespeed/internal/config"
	"gocv.io/x/gocv"
)

// DefaultInputSize is the square input resolution of the shuttlecock model.
const DefaultInputSize = 640

// Detector defines the interface for shuttlecock detector implementations.
type Detector interface {
	// Detect runs inference on a video frame and returns the raw output
	// tensor in detector-input pixel space. A nil tensor or a tensor with
	// zero anchors means nothing was found.
	Detect(ctx context.Context, frame *gocv.Mat) (*Tensor, error)

	// InputSize returns the square size the frame is letterboxed to.
	InputSize() image.Point

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the detectors.
type Config struct {
	// ModelPath is the ONNX model file used by ONNXDetector.
	ModelPath string

	// InputSize is the square detector input size in pixels (default: 640).
	InputSize int

	// ConfidenceThreshold is the minimum objectness*class score (0.0-1.0).
	ConfidenceThreshold float64

	// IoUThreshold is the overlap above which duplicates are suppressed (0.0-1.0).
	IoUThreshold float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		InputSize:           DefaultInputSize,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig, modelPath string) Config {
	return Config{
		ModelPath:           modelPath,
		InputSize:           cfg.GetInputSize(),
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		IoUThreshold:        cfg.GetIoUThreshold(),
	}
}

// Decoder returns the tensor decoder configured by c.
func (c Config) Decoder() Decoder {
	return Decoder{
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
	}
}

func (c Config) inputPoint() image.Point {
	size := c.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}
	return image.Point{X: size, Y: size}
}
