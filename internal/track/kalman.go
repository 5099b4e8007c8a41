// Package track maintains the shuttlecock track: a constant-velocity Kalman
// filter over pixel position and a gate that picks which detection, if any,
// is allowed to update it.
package track

import (
	"math"

	"github.com/ayusman/shuttlespeed/internal/config"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"gonum.org/v1/gonum/mat"
)

// singularDet is the innovation determinant below which a correction is skipped.
const singularDet = 1e-12

// FilterConfig holds the noise model of the filter.
type FilterConfig struct {
	// ProcessNoise is added to every diagonal covariance term per predict.
	ProcessNoise float64

	// MeasurementNoise is the isotropic variance of a position measurement.
	MeasurementNoise float64

	// InitialPositionVariance and InitialVelocityVariance seed the covariance
	// when the first measurement arrives.
	InitialPositionVariance float64
	InitialVelocityVariance float64
}

// DefaultFilterConfig returns a FilterConfig with the default noise model.
func DefaultFilterConfig() FilterConfig {
	return FilterConfigFromTuning(config.EmptyTuningConfig())
}

// FilterConfigFromTuning builds a FilterConfig from a loaded TuningConfig.
func FilterConfigFromTuning(cfg *config.TuningConfig) FilterConfig {
	return FilterConfig{
		ProcessNoise:            cfg.GetProcessNoise(),
		MeasurementNoise:        cfg.GetMeasurementNoise(),
		InitialPositionVariance: cfg.GetInitialPositionVariance(),
		InitialVelocityVariance: cfg.GetInitialVelocityVariance(),
	}
}

// estimate is the tracking belief: x = (x, y, vx, vy) and its covariance.
type estimate struct {
	x *mat.VecDense
	p *mat.Dense
}

func (e *estimate) clone() *estimate {
	return &estimate{
		x: mat.VecDenseCopyOf(e.x),
		p: mat.DenseCopyOf(e.p),
	}
}

// State is a read-only view of the filter belief.
type State struct {
	Position detector.Point
	Velocity detector.Point // pixels per frame
	SpeedPx  float64        // |Velocity|
}

// Filter is a 2D constant-velocity Kalman filter. A nil estimate means no
// measurement has been seen yet.
type Filter struct {
	cfg   FilterConfig
	state *estimate
}

// NewFilter creates an uninitialized filter.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Initialized reports whether the filter has absorbed a measurement.
func (f *Filter) Initialized() bool {
	return f.state != nil
}

// Predict advances the belief by dt frames and returns the predicted
// position. It returns false, and changes nothing, while uninitialized.
func (f *Filter) Predict(dt float64) (detector.Point, bool) {
	if f.state == nil {
		return detector.Point{}, false
	}

	F := transition(dt)

	var x mat.VecDense
	x.MulVec(F, f.state.x)

	var fp, p mat.Dense
	fp.Mul(F, f.state.p)
	p.Mul(&fp, F.T())
	for i := 0; i < 4; i++ {
		p.Set(i, i, p.At(i, i)+f.cfg.ProcessNoise)
	}

	f.state.x = &x
	f.state.p = &p
	return f.position(), true
}

// Update corrects the belief with a measured position. The first call seeds
// the state at the measurement with zero velocity.
func (f *Filter) Update(z detector.Point) {
	if f.state == nil {
		f.state = &estimate{
			x: mat.NewVecDense(4, []float64{z.X, z.Y, 0, 0}),
			p: f.initialCovariance(),
		}
		return
	}

	P := f.state.p

	// S = H P Hᵀ + R is the top-left 2x2 block of P plus r.
	s00 := P.At(0, 0) + f.cfg.MeasurementNoise
	s01 := P.At(0, 1)
	s10 := P.At(1, 0)
	s11 := P.At(1, 1) + f.cfg.MeasurementNoise

	det := s00*s11 - s01*s10
	if math.Abs(det) < singularDet {
		return
	}
	sInv := mat.NewDense(2, 2, []float64{
		s11 / det, -s01 / det,
		-s10 / det, s00 / det,
	})

	// P Hᵀ is the first two columns of P.
	pht := mat.DenseCopyOf(P.Slice(0, 4, 0, 2))

	var K mat.Dense
	K.Mul(pht, sInv)

	innovation := mat.NewVecDense(2, []float64{
		z.X - f.state.x.AtVec(0),
		z.Y - f.state.x.AtVec(1),
	})

	var correction mat.VecDense
	correction.MulVec(&K, innovation)
	f.state.x.AddVec(f.state.x, &correction)

	var kh mat.Dense
	kh.Mul(&K, observation())
	ikh := identity(4)
	ikh.Sub(ikh, &kh)

	var p mat.Dense
	p.Mul(ikh, P)
	symmetrize(&p)
	f.state.p = &p
}

// Copy returns an independent deep copy of the filter.
func (f *Filter) Copy() *Filter {
	c := &Filter{cfg: f.cfg}
	if f.state != nil {
		c.state = f.state.clone()
	}
	return c
}

// Reset drops the track. The next Update reseeds it with the initial
// covariance.
func (f *Filter) Reset() {
	f.state = nil
}

// State returns the current belief, or false while uninitialized.
func (f *Filter) State() (State, bool) {
	if f.state == nil {
		return State{}, false
	}
	v := detector.Point{X: f.state.x.AtVec(2), Y: f.state.x.AtVec(3)}
	return State{
		Position: f.position(),
		Velocity: v,
		SpeedPx:  math.Hypot(v.X, v.Y),
	}, true
}

// Covariance returns a copy of the current covariance, or the initial
// covariance while uninitialized.
func (f *Filter) Covariance() *mat.Dense {
	if f.state == nil {
		return f.initialCovariance()
	}
	return mat.DenseCopyOf(f.state.p)
}

func (f *Filter) position() detector.Point {
	return detector.Point{X: f.state.x.AtVec(0), Y: f.state.x.AtVec(1)}
}

func (f *Filter) initialCovariance() *mat.Dense {
	pos, vel := f.cfg.InitialPositionVariance, f.cfg.InitialVelocityVariance
	return mat.NewDense(4, 4, []float64{
		pos, 0, 0, 0,
		0, pos, 0, 0,
		0, 0, vel, 0,
		0, 0, 0, vel,
	})
}

func transition(dt float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func observation() *mat.Dense {
	return mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// symmetrize replaces m with (m + mᵀ)/2 to absorb rounding drift.
func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}
