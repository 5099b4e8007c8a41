// Package analysis runs the per-frame tracking loop over a clip and produces
// calibrated shuttlecock speeds.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ayusman/shuttlespeed/internal/capture"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/ayusman/shuttlespeed/internal/track"
)

var (
	// ErrInvalidConfig is the base of every error returned before processing starts.
	ErrInvalidConfig = errors.New("invalid analysis configuration")

	// ErrInvalidCalibration is returned for a non-positive meters-per-pixel scale.
	ErrInvalidCalibration = fmt.Errorf("%w: meters per pixel must be positive", ErrInvalidConfig)

	// ErrInvalidVideoInfo is returned when the clip has no frame rate or size.
	ErrInvalidVideoInfo = fmt.Errorf("%w: missing video frame rate or size", ErrInvalidConfig)

	// ErrFrameSource wraps a failure reading frames from the clip.
	ErrFrameSource = errors.New("failed to read video frames")
)

// Run tracks the shuttlecock through every frame of source and returns one
// FrameRecord per frame.
//
// ctx is checked between frames. When it is done Run returns the records
// produced so far with Result.Cancelled set and a nil error. A frame whose
// detection was interrupted by cancellation is not recorded. Detector errors
// count as frames without detections. A source failure aborts the run and no
// records are returned.
func Run(ctx context.Context, source capture.Source, det detector.Detector, metersPerPixel float64, progress *Progress, opts ...Option) (*Result, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if !(metersPerPixel > 0) || math.IsInf(metersPerPixel, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCalibration, metersPerPixel)
	}
	if source == nil || det == nil {
		return nil, fmt.Errorf("%w: source and detector are required", ErrInvalidConfig)
	}
	info := source.Info()
	if !info.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidVideoInfo, info)
	}

	progress.SetTotal(info.ExpectedFrames())

	p := newProcessor(info, det, metersPerPixel, o)
	for {
		if ctx.Err() != nil {
			return p.result(true), nil
		}

		frame, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFrameSource, err)
		}

		rec, ok := p.step(ctx, frame)
		frame.Close()
		if !ok {
			return p.result(true), nil
		}

		p.records = append(p.records, rec)
		progress.Advance()
	}

	return p.result(false), nil
}

// processor holds the mutable state of one run.
type processor struct {
	info    capture.VideoInfo
	det     detector.Detector
	decoder detector.Decoder
	filter  *track.Filter
	gate    *track.Gate
	frame   track.FrameContext

	maxMissed int
	missed    int
	moving    bool

	prevTimestamp float64
	hasPrev       bool

	records []FrameRecord
}

func newProcessor(info capture.VideoInfo, det detector.Detector, metersPerPixel float64, o Options) *processor {
	in := det.InputSize()
	return &processor{
		info:    info,
		det:     det,
		decoder: o.Decoder,
		filter:  track.NewFilter(o.Filter),
		gate:    track.NewGate(o.Gate),
		frame: track.FrameContext{
			Mapper:         detector.PixelLetterbox(info.Width, info.Height, in.X, in.Y),
			Width:          info.Width,
			Height:         info.Height,
			FPS:            info.FPS,
			MetersPerPixel: metersPerPixel,
		},
		maxMissed: o.MaxMissedFrames,
	}
}

// step processes one frame. It returns false if ctx was cancelled while the
// detector was running.
func (p *processor) step(ctx context.Context, frame *capture.Frame) (FrameRecord, bool) {
	prediction, predicted := p.filter.Predict(p.elapsedFrames(frame.Timestamp))

	tensor, err := p.det.Detect(ctx, frame.Mat)
	if ctx.Err() != nil {
		return FrameRecord{}, false
	}

	var candidates []detector.Candidate
	if err != nil {
		Logf("analysis: frame %d: detector error: %v", frame.Index, err)
	} else {
		candidates = p.decoder.Decode(tensor)
	}

	var pred *detector.Point
	if predicted {
		pred = &prediction
	}

	tracking := p.filter.Initialized()
	rec := FrameRecord{Index: frame.Index, Timestamp: frame.Timestamp}

	sel, accepted := p.gate.Select(p.filter, pred, candidates, p.frame, p.moving)
	if accepted {
		p.filter.Update(sel.Center)
		p.missed = 0
		box := sel.PixelBox.Normalize(p.info.Width, p.info.Height)
		rec.Box = &box
	} else if tracking {
		p.missed++
	}

	// The seeding frame has no velocity yet.
	if tracking {
		state, _ := p.filter.State()
		speed := state.SpeedKmh(p.info.FPS, p.frame.MetersPerPixel)
		rec.SpeedKmh = &speed
		if accepted && speed > 0 {
			p.moving = true
		}
	}

	if state, ok := p.filter.State(); ok {
		pos := state.Position
		rec.Point = &pos
	}

	if p.maxMissed > 0 && p.missed >= p.maxMissed {
		Logf("analysis: frame %d: track lost after %d missed frames, resetting", frame.Index, p.missed)
		p.filter.Reset()
		p.moving = false
		p.missed = 0
	}

	return rec, true
}

// elapsedFrames returns the time since the previous frame in frame periods.
func (p *processor) elapsedFrames(timestamp float64) float64 {
	dt := 1.0
	if p.hasPrev {
		if d := (timestamp - p.prevTimestamp) * p.info.FPS; d > 0 {
			dt = d
		}
	}
	p.prevTimestamp = timestamp
	p.hasPrev = true
	return dt
}

func (p *processor) result(cancelled bool) *Result {
	return &Result{
		Records:        p.records,
		FPS:            p.info.FPS,
		Width:          p.info.Width,
		Height:         p.info.Height,
		MetersPerPixel: p.frame.MetersPerPixel,
		Cancelled:      cancelled,
	}
}
