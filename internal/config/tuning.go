// Package config loads tunable detection and tracking thresholds.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the empirically tuned thresholds of the pipeline.
// Every field is optional; the Get* accessors supply the default for any
// field omitted from the JSON file, so partial configs are safe.
type TuningConfig struct {
	// Detector params
	InputSize           *int     `json:"input_size,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty"`

	// Kalman filter params
	ProcessNoise            *float64 `json:"process_noise,omitempty"`
	MeasurementNoise        *float64 `json:"measurement_noise,omitempty"`
	InitialPositionVariance *float64 `json:"initial_position_variance,omitempty"`
	InitialVelocityVariance *float64 `json:"initial_velocity_variance,omitempty"`

	// Gate params
	ConfidenceWeight *float64 `json:"confidence_weight,omitempty"`
	ProximityWeight  *float64 `json:"proximity_weight,omitempty"`
	ProximityDivisor *float64 `json:"proximity_divisor,omitempty"`
	NeutralProximity *float64 `json:"neutral_proximity,omitempty"`
	MinSpeedKmh      *float64 `json:"min_speed_kmh,omitempty"`
	MaxSpeedKmh      *float64 `json:"max_speed_kmh,omitempty"`

	// Orchestrator params
	MaxMissedFrames *int `json:"max_missed_frames,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDefaultConfig looks for DefaultConfigPath from the working directory
// and a few parent directories. It falls back to an empty config (all
// defaults) when the file is not found.
func LoadDefaultConfig() (*TuningConfig, error) {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadTuningConfig(path)
	}
	return EmptyTuningConfig(), nil
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.InputSize != nil && *c.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", *c.InputSize)
	}
	if err := unitInterval("confidence_threshold", c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := unitInterval("iou_threshold", c.IoUThreshold); err != nil {
		return err
	}
	if err := unitInterval("confidence_weight", c.ConfidenceWeight); err != nil {
		return err
	}
	if err := unitInterval("proximity_weight", c.ProximityWeight); err != nil {
		return err
	}
	if err := unitInterval("neutral_proximity", c.NeutralProximity); err != nil {
		return err
	}

	positive := map[string]*float64{
		"process_noise":             c.ProcessNoise,
		"measurement_noise":         c.MeasurementNoise,
		"initial_position_variance": c.InitialPositionVariance,
		"initial_velocity_variance": c.InitialVelocityVariance,
		"proximity_divisor":         c.ProximityDivisor,
		"max_speed_kmh":             c.MaxSpeedKmh,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.MinSpeedKmh != nil && *c.MinSpeedKmh < 0 {
		return fmt.Errorf("min_speed_kmh must be non-negative, got %f", *c.MinSpeedKmh)
	}
	if c.GetMinSpeedKmh() >= c.GetMaxSpeedKmh() {
		return fmt.Errorf("min_speed_kmh (%f) must be below max_speed_kmh (%f)", c.GetMinSpeedKmh(), c.GetMaxSpeedKmh())
	}
	if c.MaxMissedFrames != nil && *c.MaxMissedFrames < 0 {
		return fmt.Errorf("max_missed_frames must be non-negative, got %d", *c.MaxMissedFrames)
	}

	return nil
}

func unitInterval(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

// GetInputSize returns the square detector input size in pixels.
func (c *TuningConfig) GetInputSize() int {
	if c.InputSize == nil {
		return 640
	}
	return *c.InputSize
}

// GetConfidenceThreshold returns the minimum objectness*class score.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.25
	}
	return *c.ConfidenceThreshold
}

// GetIoUThreshold returns the overlap above which a box is suppressed.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.45
	}
	return *c.IoUThreshold
}

// GetProcessNoise returns the per-step covariance inflation.
func (c *TuningConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 1e-4
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the isotropic measurement variance.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.01
	}
	return *c.MeasurementNoise
}

// GetInitialPositionVariance returns the position variance of a fresh track.
func (c *TuningConfig) GetInitialPositionVariance() float64 {
	if c.InitialPositionVariance == nil {
		return 10
	}
	return *c.InitialPositionVariance
}

// GetInitialVelocityVariance returns the velocity variance of a fresh track.
func (c *TuningConfig) GetInitialVelocityVariance() float64 {
	if c.InitialVelocityVariance == nil {
		return 1000
	}
	return *c.InitialVelocityVariance
}

// GetConfidenceWeight returns the weight of detector confidence in the gate score.
func (c *TuningConfig) GetConfidenceWeight() float64 {
	if c.ConfidenceWeight == nil {
		return 0.3
	}
	return *c.ConfidenceWeight
}

// GetProximityWeight returns the weight of closeness to the prediction.
func (c *TuningConfig) GetProximityWeight() float64 {
	if c.ProximityWeight == nil {
		return 0.7
	}
	return *c.ProximityWeight
}

// GetProximityDivisor returns the fraction of frame width (as 1/n) at which
// proximity drops to zero.
func (c *TuningConfig) GetProximityDivisor() float64 {
	if c.ProximityDivisor == nil {
		return 4
	}
	return *c.ProximityDivisor
}

// GetNeutralProximity returns the proximity used before any prediction exists.
func (c *TuningConfig) GetNeutralProximity() float64 {
	if c.NeutralProximity == nil {
		return 0.5
	}
	return *c.NeutralProximity
}

// GetMinSpeedKmh returns the lower plausibility bound for a moving track.
func (c *TuningConfig) GetMinSpeedKmh() float64 {
	if c.MinSpeedKmh == nil {
		return 5
	}
	return *c.MinSpeedKmh
}

// GetMaxSpeedKmh returns the upper plausibility bound.
func (c *TuningConfig) GetMaxSpeedKmh() float64 {
	if c.MaxSpeedKmh == nil {
		return 450
	}
	return *c.MaxSpeedKmh
}

// GetMaxMissedFrames returns how many consecutive frames without an accepted
// candidate are tolerated before the track is reset. Zero disables resets.
func (c *TuningConfig) GetMaxMissedFrames() int {
	if c.MaxMissedFrames == nil {
		return 8
	}
	return *c.MaxMissedFrames
}
