// Package optimizer searches the two-dimensional gain space for the vector
// minimizing the measured tracking cost, using cost evaluations only (no
// gradients). The search is driven one evaluation at a time: the control
// loop measures the cost of the last proposal and trades it for the next.
package optimizer

import (
	"fmt"
	"math"

	"github.com/rosflight/rosplane2/internal/domain/model"
)

// Optimizer is the contract the control loop drives. Implementations must be
// safe to call from a single goroutine only; the tuner session owns the
// optimizer exclusively.
type Optimizer interface {
	// InitialGains returns the first candidate to measure, seeded from the
	// live autopilot at startup.
	InitialGains() model.GainVector

	// ProposeNext consumes the cost measured for the most recent proposal
	// and returns the next candidate. After termination it returns the best
	// known gains unchanged.
	ProposeNext(cost float64) model.GainVector

	// Terminated reports whether the search has converged or exhausted its
	// budget. Once true it stays true.
	Terminated() bool

	// BestGains and BestCost expose the best measurement so far, for status
	// reporting and for flashing the winning gains after termination.
	BestGains() model.GainVector
	BestCost() float64

	// Evaluations returns how many cost measurements the search has
	// consumed.
	Evaluations() int

	// Status returns a human-readable summary for operator visibility. Not
	// for control decisions.
	Status() string
}

// rejectedCost stands in for NaN, infinite, or negative measurements: a
// legitimate, maximally bad evaluation rather than a crash.
const rejectedCost = 1e12

// stallLimit is how many consecutive cycles may pass without meaningful
// improvement before the search gives up.
const stallLimit = 3

// Config holds the search hyperparameters. Zero values fall back to
// defaults.
type Config struct {
	// StepScale sizes the initial simplex edge relative to each gain's
	// magnitude.
	StepScale float64
	// Reflection, Expansion, Contraction, Shrink are the simplex update
	// coefficients.
	Reflection  float64
	Expansion   float64
	Contraction float64
	Shrink      float64
	// ImprovementTol is the minimum relative improvement of the best cost
	// per cycle; below it the cycle counts as stalled.
	ImprovementTol float64
	// CostTol terminates the search once the simplex cost spread collapses.
	CostTol float64
	// MaxEvaluations bounds the total number of cost measurements.
	MaxEvaluations int
	// MinGain and MaxGain bound every proposed gain. Proposals are clipped,
	// never allowed to reach the live controller outside this range.
	MinGain float64
	MaxGain float64
}

// DefaultConfig mirrors the hyperparameters the tuning procedure has flown
// with.
func DefaultConfig() Config {
	return Config{
		StepScale:      0.5,
		Reflection:     1.0,
		Expansion:      1.5,
		Contraction:    0.5,
		Shrink:         0.5,
		ImprovementTol: 1e-4,
		CostTol:        1e-3,
		MaxEvaluations: 100,
		MinGain:        0.01,
		MaxGain:        25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StepScale <= 0 {
		c.StepScale = d.StepScale
	}
	if c.Reflection <= 0 {
		c.Reflection = d.Reflection
	}
	if c.Expansion <= 1 {
		c.Expansion = d.Expansion
	}
	if c.Contraction <= 0 || c.Contraction >= 1 {
		c.Contraction = d.Contraction
	}
	if c.Shrink <= 0 || c.Shrink >= 1 {
		c.Shrink = d.Shrink
	}
	if c.ImprovementTol <= 0 {
		c.ImprovementTol = d.ImprovementTol
	}
	if c.CostTol <= 0 {
		c.CostTol = d.CostTol
	}
	if c.MaxEvaluations <= 0 {
		c.MaxEvaluations = d.MaxEvaluations
	}
	if c.MaxGain <= c.MinGain {
		c.MinGain = d.MinGain
		c.MaxGain = d.MaxGain
	}
	return c
}

// Validate reports configuration errors that must abort startup.
func (c Config) Validate() error {
	if c.MaxGain <= c.MinGain {
		return fmt.Errorf("gain bounds invalid: min %g must be below max %g", c.MinGain, c.MaxGain)
	}
	return nil
}

type phase int

const (
	phaseSeed phase = iota // measuring the initial simplex vertices
	phaseReflect
	phaseExpand
	phaseContract
	phaseShrink
)

type vertex struct {
	gains model.GainVector
	cost  float64
}

// NelderMead is the default Optimizer: a bounded, incrementally-driven
// downhill simplex on the 2-D gain plane.
type NelderMead struct {
	cfg    Config
	target model.TuningTarget

	vertices [3]vertex
	phase    phase

	pending    model.GainVector // candidate awaiting its measurement
	pendingIdx int              // vertex being filled during seed/shrink

	centroid     model.GainVector // of the two best vertices, per cycle
	reflected    vertex           // cached while probing expansion
	contractBase vertex           // what the contraction must beat

	cycles      int
	evaluations int
	stalls      int
	prevBest    float64

	terminated bool
	reason     string
}

var _ Optimizer = (*NelderMead)(nil)

// NewNelderMead seeds the simplex around the gains read from the live
// autopilot.
func NewNelderMead(target model.TuningTarget, initial model.GainVector, cfg Config) *NelderMead {
	cfg = cfg.withDefaults()
	o := &NelderMead{
		cfg:      cfg,
		target:   target,
		prevBest: math.Inf(1),
	}

	base := o.clamp(initial)
	o.vertices[0] = vertex{gains: base, cost: math.Inf(1)}
	for i := 0; i < 2; i++ {
		v := base
		step := cfg.StepScale * math.Abs(v[i])
		if step == 0 {
			step = cfg.StepScale
		}
		v[i] += step
		o.vertices[i+1] = vertex{gains: o.clamp(v), cost: math.Inf(1)}
	}

	o.phase = phaseSeed
	o.pendingIdx = 0
	o.pending = o.vertices[0].gains
	return o
}

func (o *NelderMead) InitialGains() model.GainVector {
	return o.vertices[0].gains
}

func (o *NelderMead) Terminated() bool {
	return o.terminated
}

// Evaluations returns how many cost measurements the search has consumed.
func (o *NelderMead) Evaluations() int { return o.evaluations }

// BestGains returns the best vertex measured so far.
func (o *NelderMead) BestGains() model.GainVector { return o.best().gains }

// BestCost returns the cost of the best vertex, +Inf before any measurement.
func (o *NelderMead) BestCost() float64 { return o.best().cost }

func (o *NelderMead) Status() string {
	best := o.best()
	state := "searching"
	if o.terminated {
		state = "terminated (" + o.reason + ")"
	} else if o.phase == phaseSeed {
		state = "seeding simplex"
	}
	return fmt.Sprintf("target=%s %s: cycles=%d evaluations=%d best_cost=%.6g best_gains=[%.5g, %.5g]",
		o.target, state, o.cycles, o.evaluations, best.cost, best.gains[0], best.gains[1])
}

func (o *NelderMead) ProposeNext(cost float64) model.GainVector {
	if o.terminated {
		return o.best().gains
	}

	cost = sanitizeCost(cost)
	o.evaluations++

	switch o.phase {
	case phaseSeed:
		o.vertices[o.pendingIdx].cost = cost
		if o.pendingIdx < 2 {
			o.pendingIdx++
			o.pending = o.vertices[o.pendingIdx].gains
			break
		}
		o.startCycle()

	case phaseReflect:
		o.onReflected(cost)

	case phaseExpand:
		// Keep whichever of reflected/expanded measured better.
		if cost < o.reflected.cost {
			o.replaceWorst(vertex{gains: o.pending, cost: cost})
		} else {
			o.replaceWorst(o.reflected)
		}
		o.startCycle()

	case phaseContract:
		if cost <= o.contractBase.cost {
			o.replaceWorst(vertex{gains: o.pending, cost: cost})
			o.startCycle()
		} else {
			o.beginShrink()
		}

	case phaseShrink:
		o.vertices[o.pendingIdx].cost = cost
		if o.pendingIdx < 2 {
			o.pendingIdx++
			o.pending = o.vertices[o.pendingIdx].gains
			break
		}
		o.startCycle()
	}

	if !o.terminated && o.evaluations >= o.cfg.MaxEvaluations {
		o.terminate("evaluation budget exhausted")
	}
	if o.terminated {
		return o.best().gains
	}
	return o.pending
}

// startCycle orders the simplex, applies the termination criteria, and, if
// the search continues, proposes the reflection of the worst vertex.
func (o *NelderMead) startCycle() {
	o.sortVertices()
	o.cycles++

	best := o.vertices[0].cost
	worst := o.vertices[2].cost

	spread := worst - best
	if spread <= o.cfg.CostTol*(1+math.Abs(best)) {
		o.terminate("cost spread within tolerance")
		return
	}

	if o.prevBest < math.Inf(1) {
		improvement := (o.prevBest - best) / math.Max(math.Abs(o.prevBest), 1e-12)
		if improvement < o.cfg.ImprovementTol {
			o.stalls++
		} else {
			o.stalls = 0
		}
		if o.stalls >= stallLimit {
			o.terminate("no improvement across consecutive cycles")
			return
		}
	}
	o.prevBest = best

	for i := 0; i < 2; i++ {
		o.centroid[i] = (o.vertices[0].gains[i] + o.vertices[1].gains[i]) / 2
	}
	reflected := o.clamp(o.move(o.centroid, o.vertices[2].gains, -o.cfg.Reflection))
	o.phase = phaseReflect
	o.pending = reflected
}

func (o *NelderMead) onReflected(cost float64) {
	best := o.vertices[0].cost
	second := o.vertices[1].cost
	worst := o.vertices[2].cost

	switch {
	case cost < best:
		// Promising direction; probe further out before committing.
		o.reflected = vertex{gains: o.pending, cost: cost}
		expanded := o.clamp(o.move(o.centroid, o.pending, o.cfg.Expansion))
		if expanded == o.pending {
			// Clipped against the gain bounds; nothing further to probe.
			o.replaceWorst(o.reflected)
			o.startCycle()
			return
		}
		o.phase = phaseExpand
		o.pending = expanded

	case cost < second:
		o.replaceWorst(vertex{gains: o.pending, cost: cost})
		o.startCycle()

	case cost < worst:
		// Outside contraction: pull the reflected point toward the centroid.
		o.contractBase = vertex{gains: o.pending, cost: cost}
		o.phase = phaseContract
		o.pending = o.clamp(o.move(o.centroid, o.pending, o.cfg.Contraction))

	default:
		// Inside contraction: pull the worst vertex toward the centroid.
		o.contractBase = o.vertices[2]
		o.phase = phaseContract
		o.pending = o.clamp(o.move(o.centroid, o.vertices[2].gains, o.cfg.Contraction))
	}
}

// beginShrink collapses the simplex toward the best vertex and queues the
// two moved vertices for re-measurement.
func (o *NelderMead) beginShrink() {
	best := o.vertices[0]
	for i := 1; i < 3; i++ {
		var shrunk model.GainVector
		for j := 0; j < 2; j++ {
			shrunk[j] = best.gains[j] + o.cfg.Shrink*(o.vertices[i].gains[j]-best.gains[j])
		}
		o.vertices[i] = vertex{gains: o.clamp(shrunk), cost: math.Inf(1)}
	}
	o.phase = phaseShrink
	o.pendingIdx = 1
	o.pending = o.vertices[1].gains
}

// move returns base + coeff*(point - base), the shared geometry of
// reflection, expansion, and contraction.
func (o *NelderMead) move(base, point model.GainVector, coeff float64) model.GainVector {
	var out model.GainVector
	for i := 0; i < 2; i++ {
		out[i] = base[i] + coeff*(point[i]-base[i])
	}
	return out
}

func (o *NelderMead) replaceWorst(v vertex) {
	o.vertices[2] = v
}

func (o *NelderMead) sortVertices() {
	// Three elements; a fixed network is clearer than sort.Slice.
	if o.vertices[0].cost > o.vertices[1].cost {
		o.vertices[0], o.vertices[1] = o.vertices[1], o.vertices[0]
	}
	if o.vertices[1].cost > o.vertices[2].cost {
		o.vertices[1], o.vertices[2] = o.vertices[2], o.vertices[1]
	}
	if o.vertices[0].cost > o.vertices[1].cost {
		o.vertices[0], o.vertices[1] = o.vertices[1], o.vertices[0]
	}
}

func (o *NelderMead) best() vertex {
	b := o.vertices[0]
	for _, v := range o.vertices[1:] {
		if v.cost < b.cost {
			b = v
		}
	}
	return b
}

func (o *NelderMead) terminate(reason string) {
	o.terminated = true
	o.reason = reason
	o.pending = o.best().gains
}

func (o *NelderMead) clamp(g model.GainVector) model.GainVector {
	for i := 0; i < 2; i++ {
		g[i] = math.Min(math.Max(g[i], o.cfg.MinGain), o.cfg.MaxGain)
	}
	return g
}

func sanitizeCost(cost float64) float64 {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return rejectedCost
	}
	return cost
}
