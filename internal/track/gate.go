package track

import (
	"math"
	"sort"

	"github.com/ayusman/shuttlespeed/internal/config"
	"github.com/ayusman/shuttlespeed/internal/detector"
)

// GateConfig holds the scoring weights and the plausible speed envelope.
type GateConfig struct {
	ConfidenceWeight float64
	ProximityWeight  float64

	// ProximityDivisor sets the distance at which proximity reaches zero to
	// frameWidth / ProximityDivisor.
	ProximityDivisor float64

	// NeutralProximity is used for every candidate when there is no prediction.
	NeutralProximity float64

	MinSpeedKmh float64
	MaxSpeedKmh float64
}

// DefaultGateConfig returns a GateConfig with the default weights and envelope.
func DefaultGateConfig() GateConfig {
	return GateConfigFromTuning(config.EmptyTuningConfig())
}

// GateConfigFromTuning builds a GateConfig from a loaded TuningConfig.
func GateConfigFromTuning(cfg *config.TuningConfig) GateConfig {
	return GateConfig{
		ConfidenceWeight: cfg.GetConfidenceWeight(),
		ProximityWeight:  cfg.GetProximityWeight(),
		ProximityDivisor: cfg.GetProximityDivisor(),
		NeutralProximity: cfg.GetNeutralProximity(),
		MinSpeedKmh:      cfg.GetMinSpeedKmh(),
		MaxSpeedKmh:      cfg.GetMaxSpeedKmh(),
	}
}

// FrameContext describes the frame the candidates came from.
type FrameContext struct {
	Mapper         detector.Letterbox
	Width          int
	Height         int
	FPS            float64
	MetersPerPixel float64
}

// Selection is the candidate a Gate accepted for one frame.
type Selection struct {
	Candidate detector.Candidate
	PixelBox  detector.Rect
	Center    detector.Point
	Score     float64

	// SpeedKmh is the speed the filter would report after this update,
	// zero when the candidate seeded the track.
	SpeedKmh float64
}

// Gate associates at most one candidate per frame with the track.
type Gate struct {
	config GateConfig
}

// NewGate creates a Gate with the given configuration.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{config: cfg}
}

// Config returns the gate configuration.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Select scores the candidates against the prediction and returns the one
// that should update filter. An uninitialized filter takes the best scoring
// candidate. Otherwise each candidate, best first, is tried on a copy of
// filter and the first whose resulting speed is plausible wins. The lower
// bound only applies when moving is set. filter is never modified.
func (g *Gate) Select(filter *Filter, prediction *detector.Point, candidates []detector.Candidate, fc FrameContext, moving bool) (Selection, bool) {
	if len(candidates) == 0 {
		return Selection{}, false
	}

	scored := g.score(prediction, candidates, fc)
	if len(scored) == 0 {
		return Selection{}, false
	}

	if !filter.Initialized() {
		return scored[0], true
	}

	for _, sel := range scored {
		hypothesis := filter.Copy()
		hypothesis.Update(sel.Center)

		state, _ := hypothesis.State()
		speed := state.SpeedKmh(fc.FPS, fc.MetersPerPixel)

		// Negated so NaN speeds are rejected too
		if !(speed <= g.config.MaxSpeedKmh) || math.IsInf(speed, 0) {
			continue
		}
		if moving && speed < g.config.MinSpeedKmh {
			continue
		}

		sel.SpeedKmh = speed
		return sel, true
	}

	return Selection{}, false
}

// score maps candidates into frame space and orders them by score, highest
// first. Equal scores keep detector order. Candidates that do not map to a
// finite position are dropped.
func (g *Gate) score(prediction *detector.Point, candidates []detector.Candidate, fc FrameContext) []Selection {
	reach := float64(fc.Width) / g.config.ProximityDivisor

	scored := make([]Selection, 0, len(candidates))
	for _, c := range candidates {
		box := fc.Mapper.ToFrame(c.Box)
		center := box.Center()
		if !finitePoint(center) || math.IsNaN(c.Confidence) {
			continue
		}

		proximity := g.config.NeutralProximity
		if prediction != nil {
			proximity = 0
			if reach > 0 {
				proximity = math.Max(0, 1-center.Distance(*prediction)/reach)
			}
		}

		scored = append(scored, Selection{
			Candidate: c,
			PixelBox:  box,
			Center:    center,
			Score:     g.config.ConfidenceWeight*c.Confidence + g.config.ProximityWeight*proximity,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func finitePoint(p detector.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
