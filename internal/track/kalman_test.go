package track

import (
	"testing"

	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFilter_PredictUninitialized(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	_, ok := f.Predict(1)
	assert.False(t, ok, "uninitialized filter must not predict")
	assert.False(t, f.Initialized())

	_, ok = f.State()
	assert.False(t, ok)
}

func TestFilter_FirstUpdateSeeds(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	f.Update(detector.Point{X: 12, Y: 34})

	require.True(t, f.Initialized())
	state, ok := f.State()
	require.True(t, ok)
	assert.Equal(t, detector.Point{X: 12, Y: 34}, state.Position)
	assert.Equal(t, detector.Point{}, state.Velocity)
	assert.Zero(t, state.SpeedPx)

	assert.True(t, mat.Equal(f.Covariance(), NewFilter(DefaultFilterConfig()).Covariance()),
		"first update should carry the initial covariance")
}

func TestFilter_TwoFrameVelocity(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	f.Update(detector.Point{X: 0, Y: 0})
	pred, ok := f.Predict(1)
	require.True(t, ok)
	assert.Equal(t, detector.Point{}, pred, "zero velocity predicts in place")

	f.Update(detector.Point{X: 10, Y: 0})

	state, _ := f.State()
	assert.Greater(t, state.Velocity.X, 9.5)
	assert.LessOrEqual(t, state.Velocity.X, 10.0)
	assert.InDelta(t, 0, state.Velocity.Y, 1e-9)

	speed := state.SpeedKmh(30, 0.01)
	assert.Greater(t, speed, 0.0)
	assert.InDelta(t, 10*30*0.01*3.6, speed, 0.25)
}

func TestFilter_ConvergesOnConstantVelocity(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	for i := 0; i < 20; i++ {
		f.Predict(1)
		f.Update(detector.Point{X: 5 * float64(i), Y: 100 - 2*float64(i)})
	}

	state, _ := f.State()
	assert.InDelta(t, 5, state.Velocity.X, 0.1)
	assert.InDelta(t, -2, state.Velocity.Y, 0.1)
	assert.InDelta(t, 95, state.Position.X, 0.1)
}

func TestFilter_PredictUsesDt(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	for i := 0; i < 10; i++ {
		f.Predict(1)
		f.Update(detector.Point{X: 4 * float64(i)})
	}
	before, _ := f.State()

	pred, ok := f.Predict(2.5)
	require.True(t, ok)
	assert.InDelta(t, before.Position.X+2.5*before.Velocity.X, pred.X, 1e-9)

	after, _ := f.State()
	assert.Equal(t, before.Velocity, after.Velocity, "predict leaves velocity unchanged")
}

func TestFilter_CovarianceStaysSymmetricPSD(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	points := []detector.Point{{X: 0, Y: 0}, {X: 7, Y: 3}, {X: 15, Y: 5}, {X: 21, Y: 9}, {X: 30, Y: 10}}

	for _, p := range points {
		f.Predict(1)
		f.Update(p)
	}
	f.Predict(1)
	f.Predict(1)

	p := f.Covariance()
	r, c := p.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)

	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.InDelta(t, p.At(i, j), p.At(j, i), 1e-9, "P[%d][%d] not symmetric", i, j)
			data = append(data, p.At(i, j))
		}
	}

	var eig mat.EigenSym
	require.True(t, eig.Factorize(mat.NewSymDense(4, data), false))
	for _, v := range eig.Values(nil) {
		assert.GreaterOrEqual(t, v, -1e-9)
	}
}

func TestFilter_CopyIsIndependent(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	f.Update(detector.Point{X: 100, Y: 100})
	f.Predict(1)

	beforeState, _ := f.State()
	beforeCov := f.Covariance()

	c := f.Copy()
	c.Update(detector.Point{X: 500, Y: 500})
	c.Predict(3)

	afterState, _ := f.State()
	assert.Equal(t, beforeState, afterState, "copy must not alias state")
	assert.True(t, mat.Equal(beforeCov, f.Covariance()), "copy must not alias covariance")

	uninit := NewFilter(DefaultFilterConfig()).Copy()
	assert.False(t, uninit.Initialized())
}

func TestFilter_Reset(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	f.Update(detector.Point{X: 1, Y: 1})
	f.Predict(1)
	f.Update(detector.Point{X: 2, Y: 2})

	f.Reset()

	assert.False(t, f.Initialized())
	_, ok := f.Predict(1)
	assert.False(t, ok)
	assert.True(t, mat.Equal(f.Covariance(), NewFilter(DefaultFilterConfig()).Covariance()))

	f.Update(detector.Point{X: 50, Y: 60})
	state, _ := f.State()
	assert.Equal(t, detector.Point{X: 50, Y: 60}, state.Position)
	assert.Zero(t, state.SpeedPx)
}

func TestFilter_SingularInnovationSkipsCorrection(t *testing.T) {
	cfg := FilterConfig{}
	f := NewFilter(cfg)
	f.Update(detector.Point{X: 3, Y: 4})

	f.Update(detector.Point{X: 300, Y: 400})

	state, _ := f.State()
	assert.Equal(t, detector.Point{X: 3, Y: 4}, state.Position)
}

func TestState_SpeedKmh(t *testing.T) {
	s := State{SpeedPx: 10}
	assert.InDelta(t, 10.8, s.SpeedKmh(30, 0.01), 1e-9)
	assert.Zero(t, State{}.SpeedKmh(30, 0.01))
}
