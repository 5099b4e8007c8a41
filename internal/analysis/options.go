package analysis

import (
	"github.com/ayusman/shuttlespeed/internal/config"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/ayusman/shuttlespeed/internal/track"
)

// Options tune one analysis run.
type Options struct {
	Decoder detector.Decoder
	Filter  track.FilterConfig
	Gate    track.GateConfig

	// MaxMissedFrames resets the track after this many consecutive frames
	// without an accepted detection. Zero keeps the track forever.
	MaxMissedFrames int
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return OptionsFromTuning(config.EmptyTuningConfig())
}

// OptionsFromTuning builds Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		Decoder: detector.Decoder{
			ConfidenceThreshold: cfg.GetConfidenceThreshold(),
			IoUThreshold:        cfg.GetIoUThreshold(),
		},
		Filter:          track.FilterConfigFromTuning(cfg),
		Gate:            track.GateConfigFromTuning(cfg),
		MaxMissedFrames: cfg.GetMaxMissedFrames(),
	}
}

// Option modifies Options.
type Option func(*Options)

// WithOptions replaces all options at once.
func WithOptions(o Options) Option {
	return func(dst *Options) { *dst = o }
}

// WithDecoder sets the detection decoder thresholds.
func WithDecoder(d detector.Decoder) Option {
	return func(o *Options) { o.Decoder = d }
}

// WithFilter sets the Kalman filter noise model.
func WithFilter(f track.FilterConfig) Option {
	return func(o *Options) { o.Filter = f }
}

// WithGate sets the association gate configuration.
func WithGate(g track.GateConfig) Option {
	return func(o *Options) { o.Gate = g }
}

// WithMaxMissedFrames sets how many misses a track survives.
func WithMaxMissedFrames(n int) Option {
	return func(o *Options) { o.MaxMissedFrames = n }
}
