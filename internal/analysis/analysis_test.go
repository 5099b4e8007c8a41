package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"testing"

	"github.com/ayusman/shuttlespeed/internal/capture"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/ayusman/shuttlespeed/internal/track"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareInfo matches the mock detector input so boxes map 1:1 to pixels.
var squareInfo = capture.VideoInfo{FPS: 30, Width: 640, Height: 640, Duration: 1}

func at(cx, cy float64) *detector.Tensor {
	return detector.SingleBoxTensor(cx, cy, 10, 10, 0.9, 0.9)
}

// flight returns n detections moving step px per frame along x.
func flight(n int, x0, step float64) []*detector.Tensor {
	seq := make([]*detector.Tensor, n)
	for i := range seq {
		seq[i] = at(x0+step*float64(i), 300)
	}
	return seq
}

func runSequence(t *testing.T, seq []*detector.Tensor, opts ...Option) *Result {
	t.Helper()
	det := detector.NewMockDetector()
	det.SetSequence(seq)

	res, err := Run(context.Background(), capture.NewBlankSource(squareInfo, len(seq)), det, 0.01, nil, opts...)
	require.NoError(t, err)
	require.Len(t, res.Records, len(seq))
	return res
}

func muteLogs(t *testing.T) *[]string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { SetLogger(log.Printf) })
	return &lines
}

func TestRun_ColdStart(t *testing.T) {
	res := runSequence(t, []*detector.Tensor{at(100, 100)})

	rec := res.Records[0]
	require.NotNil(t, rec.Box, "first detection must be accepted")
	require.NotNil(t, rec.Point)
	assert.Nil(t, rec.SpeedKmh, "seeding frame has no speed")
	assert.Equal(t, detector.Point{X: 100, Y: 100}, *rec.Point)
	assert.InDelta(t, 95.0/640, rec.Box.X, 1e-9)
	assert.InDelta(t, 10.0/640, rec.Box.W, 1e-9)

	_, ok := res.PeakSpeedKmh()
	assert.False(t, ok)
}

func TestRun_TwoFrameVelocity(t *testing.T) {
	res := runSequence(t, []*detector.Tensor{at(0, 0), at(10, 0)})

	second := res.Records[1]
	require.NotNil(t, second.SpeedKmh)
	assert.Greater(t, *second.SpeedKmh, 0.0)
	assert.InDelta(t, 10*30*0.01*3.6, *second.SpeedKmh, 0.25)
	assert.InDelta(t, 1.0/30, second.Timestamp, 1e-12)

	peak, ok := res.PeakSpeedKmh()
	require.True(t, ok)
	assert.Equal(t, *second.SpeedKmh, peak)
	assert.Equal(t, 0.01, res.MetersPerPixel)
	assert.Equal(t, 30.0, res.FPS)
	assert.False(t, res.Cancelled)
}

func TestRun_RejectsTeleport(t *testing.T) {
	// 5 cm per pixel: 10 px steps are ~54 km/h, a jump across the frame is far above the envelope.
	seq := []*detector.Tensor{at(100, 100), at(110, 100), at(120, 100), at(600, 100)}
	det := detector.NewMockDetector()
	det.SetSequence(seq)

	res, err := Run(context.Background(), capture.NewBlankSource(squareInfo, len(seq)), det, 0.05, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	// Replay the accepted frames on a reference filter.
	ref := track.NewFilter(track.DefaultFilterConfig())
	ref.Update(detector.Point{X: 100, Y: 100})
	ref.Predict(1)
	ref.Update(detector.Point{X: 110, Y: 100})
	ref.Predict(1)
	ref.Update(detector.Point{X: 120, Y: 100})
	want, _ := ref.Predict(1)

	last := res.Records[3]
	assert.Nil(t, last.Box, "implausible jump must not be accepted")
	require.NotNil(t, last.Point)
	assert.InDelta(t, want.X, last.Point.X, 1e-9)
	assert.InDelta(t, want.Y, last.Point.Y, 1e-9)
	require.NotNil(t, last.SpeedKmh)
	assert.InDelta(t, 54, *last.SpeedKmh, 1)
}

func TestRun_NoDetections(t *testing.T) {
	det := detector.NewMockDetector()
	var calls []int
	progress := NewProgress(func(done, total int) { calls = append(calls, done) })

	res, err := Run(context.Background(), capture.NewBlankSource(squareInfo, 5), det, 0.01, progress)
	require.NoError(t, err)
	require.Len(t, res.Records, 5)

	for i, rec := range res.Records {
		assert.Equal(t, i, rec.Index)
		assert.Nil(t, rec.Box)
		assert.Nil(t, rec.SpeedKmh)
		assert.Nil(t, rec.Point)
	}

	done, total := progress.Snapshot()
	assert.Equal(t, 5, done)
	assert.Equal(t, 30, total)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, calls)
}

func TestRun_CancellationYieldsPrefix(t *testing.T) {
	seq := flight(10, 100, 10)
	full := runSequence(t, seq)

	for _, cancelAt := range []int{0, 1, 4, 9} {
		t.Run(fmt.Sprintf("cancel during frame %d", cancelAt), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			det := detector.NewMockDetector()
			det.SetSequence(seq)
			det.OnDetect(func(call int) {
				if call == cancelAt {
					cancel()
				}
			})

			res, err := Run(ctx, capture.NewBlankSource(squareInfo, len(seq)), det, 0.01, nil)
			require.NoError(t, err)
			assert.True(t, res.Cancelled)
			require.Len(t, res.Records, cancelAt)

			if diff := cmp.Diff(full.Records[:cancelAt], res.Records, cmpEmpty()); diff != "" {
				t.Errorf("cancelled run is not a prefix (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		det := detector.NewMockDetector()
		res, err := Run(ctx, capture.NewBlankSource(squareInfo, 3), det, 0.01, nil)
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Empty(t, res.Records)
		assert.Zero(t, det.Calls())
	})
}

// cmpEmpty treats nil and empty record slices as equal.
func cmpEmpty() cmp.Option {
	return cmp.FilterValues(func(a, b []FrameRecord) bool {
		return len(a) == 0 && len(b) == 0
	}, cmp.Ignore())
}

func TestRun_TrackResetAfterMisses(t *testing.T) {
	seq := make([]*detector.Tensor, 11)
	seq[0] = at(100, 100)
	seq[1] = at(110, 100)
	// frames 2..9 miss
	seq[10] = at(600, 500)

	lines := muteLogs(t)
	res := runSequence(t, seq, WithMaxMissedFrames(8))

	assert.NotNil(t, res.Records[9].Point, "track survives until the reset frame is recorded")
	reseed := res.Records[10]
	require.NotNil(t, reseed.Box, "lost track must reseed from the next detection")
	assert.Nil(t, reseed.SpeedKmh)
	assert.Equal(t, detector.Point{X: 600, Y: 500}, *reseed.Point)
	assert.Len(t, *lines, 1)
}

func TestRun_NoResetWhenDisabled(t *testing.T) {
	seq := make([]*detector.Tensor, 11)
	seq[0] = at(100, 100)
	seq[1] = at(110, 100)
	seq[10] = at(600, 500)

	res := runSequence(t, seq, WithMaxMissedFrames(0))

	for i := 2; i < len(seq); i++ {
		assert.NotNil(t, res.Records[i].SpeedKmh, "frame %d should still be tracked", i)
	}
}

func TestRun_DetectorErrorIsNotFatal(t *testing.T) {
	lines := muteLogs(t)

	det := detector.NewMockDetector()
	det.SetSequence(flight(4, 100, 10))
	det.SetErrorAt(1, errors.New("inference timeout"))

	res, err := Run(context.Background(), capture.NewBlankSource(squareInfo, 4), det, 0.01, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	assert.NotNil(t, res.Records[0].Box)
	assert.Nil(t, res.Records[1].Box)
	assert.NotNil(t, res.Records[2].Box)
	require.Len(t, *lines, 1)
	assert.Contains(t, (*lines)[0], "inference timeout")
}

func TestRun_NonFiniteDetectionsDoNotPoisonTrack(t *testing.T) {
	nan := float32(math.NaN())
	seq := flight(6, 100, 10)
	seq[2] = detector.NewTensor([][]float32{{nan, 300, 10, 10, 0.9, 0.9}})
	seq[3] = detector.NewTensor([][]float32{
		{130, nan, 10, 10, 0.9, 0.9},
		{130, 300, 10, 10, 0.9, 0.9},
	})

	res := runSequence(t, seq)

	assert.Nil(t, res.Records[2].Box, "a NaN-only frame has no accepted box")
	require.NotNil(t, res.Records[3].Box)
	for i, rec := range res.Records[1:] {
		require.NotNil(t, rec.SpeedKmh, "frame %d", i+1)
		assert.False(t, math.IsNaN(*rec.SpeedKmh), "frame %d speed is NaN", i+1)
		require.NotNil(t, rec.Point)
		assert.False(t, math.IsNaN(rec.Point.X), "frame %d point is NaN", i+1)
	}
	assert.InDelta(t, 150, res.Records[5].Point.X, 1)

	_, err := json.Marshal(res)
	assert.NoError(t, err, "the result must stay encodable")
}

func TestRun_SourceFailureDiscardsRecords(t *testing.T) {
	boom := errors.New("truncated stream")
	src := capture.NewBlankSource(squareInfo, 10)
	src.FailAt(3, boom)

	det := detector.NewMockDetector()
	det.SetSequence(flight(10, 100, 10))

	res, err := Run(context.Background(), src, det, 0.01, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrFrameSource)
	assert.ErrorIs(t, err, boom)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		info    capture.VideoInfo
		scale   float64
		wantErr error
	}{
		{name: "zero scale", info: squareInfo, scale: 0, wantErr: ErrInvalidCalibration},
		{name: "negative scale", info: squareInfo, scale: -0.01, wantErr: ErrInvalidCalibration},
		{name: "NaN scale", info: squareInfo, scale: math.NaN(), wantErr: ErrInvalidCalibration},
		{name: "infinite scale", info: squareInfo, scale: math.Inf(1), wantErr: ErrInvalidCalibration},
		{name: "no frame rate", info: capture.VideoInfo{Width: 640, Height: 640}, scale: 0.01, wantErr: ErrInvalidVideoInfo},
		{name: "no frame size", info: capture.VideoInfo{FPS: 30}, scale: 0.01, wantErr: ErrInvalidVideoInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := detector.NewMockDetector()
			res, err := Run(context.Background(), capture.NewBlankSource(tt.info, 3), det, tt.scale, nil)

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Zero(t, det.Calls(), "no frame may be processed")
		})
	}

	_, err := Run(context.Background(), nil, detector.NewMockDetector(), 0.01, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRun_MapsLetterboxedBoxes(t *testing.T) {
	info := capture.VideoInfo{FPS: 30, Width: 1280, Height: 720, Duration: 1}
	det := detector.NewMockDetector()
	// 1280x720 in 640x640: scale 0.5, 140 px of padding top and bottom.
	det.SetTensor(detector.SingleBoxTensor(320, 320, 20, 20, 1, 1))

	res, err := Run(context.Background(), capture.NewBlankSource(info, 1), det, 0.01, nil)
	require.NoError(t, err)

	rec := res.Records[0]
	require.NotNil(t, rec.Box)
	assert.InDelta(t, 640, rec.Point.X, 1e-9)
	assert.InDelta(t, 360, rec.Point.Y, 1e-9)
	assert.InDelta(t, 620.0/1280, rec.Box.X, 1e-9)
	assert.InDelta(t, 40.0/1280, rec.Box.W, 1e-9)
	assert.InDelta(t, 40.0/720, rec.Box.H, 1e-9)
}

func TestProgress(t *testing.T) {
	var nilProgress *Progress
	nilProgress.Advance()
	assert.Zero(t, nilProgress.Fraction())

	p := NewProgress(nil)
	assert.Zero(t, p.Fraction())

	p.SetTotal(4)
	p.Advance()
	assert.InDelta(t, 0.25, p.Fraction(), 1e-12)

	for i := 0; i < 5; i++ {
		p.Advance()
	}
	assert.Equal(t, 1.0, p.Fraction(), "fraction clamps when the clip runs long")

	done, total := p.Snapshot()
	assert.Equal(t, 6, done)
	assert.Equal(t, 4, total)
}

func TestProgress_ConcurrentReaders(t *testing.T) {
	p := NewProgress(nil)
	p.SetTotal(1000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 1000; i++ {
			done, _ := p.Snapshot()
			if done < last {
				t.Errorf("progress went backwards: %d -> %d", last, done)
				return
			}
			last = done
		}
	}()

	for i := 0; i < 1000; i++ {
		p.Advance()
	}
	wg.Wait()
}

func TestOptionsFromTuning(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, detector.DefaultDecoder(), o.Decoder)
	assert.Equal(t, track.DefaultFilterConfig(), o.Filter)
	assert.Equal(t, track.DefaultGateConfig(), o.Gate)
	assert.Equal(t, 8, o.MaxMissedFrames)

	custom := Options{MaxMissedFrames: 3}
	got := DefaultOptions()
	WithOptions(custom)(&got)
	assert.Equal(t, custom, got)
}

func TestResult_PeakSpeedKmh(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	res := &Result{Records: []FrameRecord{
		{SpeedKmh: nil},
		{SpeedKmh: v(12)},
		{SpeedKmh: v(310.5)},
		{SpeedKmh: v(0)},
	}}

	peak, ok := res.PeakSpeedKmh()
	require.True(t, ok)
	assert.Equal(t, 310.5, peak)
}
