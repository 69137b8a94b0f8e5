// Package cost reduces one collection window to a scalar tracking-error
// cost. Lower is better; the value is always finite and non-negative so the
// optimizer can consume it unconditionally.
package cost

import (
	"math"

	"github.com/rosflight/rosplane2/internal/domain/model"
)

// SentinelCost is returned for windows that cannot be evaluated (too few
// samples, degenerate time base). It is finite and large so the optimizer
// treats the window as a legitimate, maximally bad data point.
const SentinelCost = 1e9

// Evaluator reduces a drained window to a cost. The reduction is a design
// choice, not a fixed contract; keep implementations swappable.
type Evaluator interface {
	Evaluate(target model.TuningTarget, data model.WindowData) float64
}

// Config tunes the penalty terms layered on the integral-squared-error
// baseline. Zero weights disable a term.
type Config struct {
	OvershootWeight float64
	SettlingWeight  float64
	// SettlingBand is the fraction of the step magnitude within which the
	// response counts as settled.
	SettlingBand float64
}

// DefaultConfig weights the penalties lightly; the ISE term dominates.
func DefaultConfig() Config {
	return Config{
		OvershootWeight: 0.5,
		SettlingWeight:  0.2,
		SettlingBand:    0.05,
	}
}

// ISE is the baseline evaluator: time-normalized integral of squared
// tracking error, plus optional overshoot and settling-time penalties.
type ISE struct {
	cfg Config
}

func NewISE(cfg Config) *ISE {
	if cfg.SettlingBand <= 0 {
		cfg.SettlingBand = 0.05
	}
	return &ISE{cfg: cfg}
}

type point struct {
	t float64
	v float64
}

func (e *ISE) Evaluate(target model.TuningTarget, data model.WindowData) float64 {
	spec := target.Spec()

	response := series(data.State, spec.ResponseField)
	var setpoint []point
	switch spec.SetpointStream {
	case model.StreamCommands:
		setpoint = series(data.Commands, spec.SetpointField)
	case model.StreamDebug:
		setpoint = series(data.Debug, spec.SetpointField)
	}

	// A window needs at least two response samples to integrate over and at
	// least one setpoint sample to track against.
	if len(response) < 2 || len(setpoint) < 1 {
		return SentinelCost
	}

	duration := response[len(response)-1].t - response[0].t
	if duration <= 0 {
		return SentinelCost
	}

	// Align the setpoint onto the response time base and integrate the
	// squared error with the trapezoidal rule.
	var integral float64
	prevErr := interpolate(setpoint, response[0].t) - response[0].v
	prevT := response[0].t
	for _, p := range response[1:] {
		err := interpolate(setpoint, p.t) - p.v
		integral += (prevErr*prevErr + err*err) / 2 * (p.t - prevT)
		prevErr = err
		prevT = p.t
	}
	c := integral / duration

	finalSetpoint := setpoint[len(setpoint)-1].v
	step := finalSetpoint - response[0].v
	if math.Abs(step) > 1e-12 {
		c += e.cfg.OvershootWeight * overshoot(response, finalSetpoint, step)
		c += e.cfg.SettlingWeight * settlingFraction(response, finalSetpoint, step, e.cfg.SettlingBand)
	}

	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		return SentinelCost
	}
	return c
}

// series extracts (timestamp, values[field]) pairs, skipping samples too
// short for the field or carrying non-finite values.
func series(samples []model.Sample, field int) []point {
	out := make([]point, 0, len(samples))
	for _, s := range samples {
		if field >= len(s.Values) {
			continue
		}
		v := s.Values[field]
		if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(s.Timestamp) || math.IsInf(s.Timestamp, 0) {
			continue
		}
		out = append(out, point{t: s.Timestamp, v: v})
	}
	return out
}

// interpolate evaluates the setpoint series at time t: linear between
// samples, held flat before the first and after the last. This never
// truncates the response series however sparse the setpoint stream is.
func interpolate(pts []point, t float64) float64 {
	if t <= pts[0].t {
		return pts[0].v
	}
	last := pts[len(pts)-1]
	if t >= last.t {
		return last.v
	}
	for i := 1; i < len(pts); i++ {
		if t <= pts[i].t {
			a, b := pts[i-1], pts[i]
			if b.t == a.t {
				return b.v
			}
			frac := (t - a.t) / (b.t - a.t)
			return a.v + frac*(b.v-a.v)
		}
	}
	return last.v
}

// overshoot returns the peak excursion beyond the final setpoint as a
// fraction of the step magnitude, zero if the response never crosses it.
func overshoot(response []point, finalSetpoint, step float64) float64 {
	var peak float64
	for _, p := range response {
		// Excursion past the setpoint in the direction of the step.
		excess := (p.v - finalSetpoint) / step
		if excess > peak {
			peak = excess
		}
	}
	return peak
}

// settlingFraction returns the fraction of the window after which the
// response stays within the band around the final setpoint. 1.0 means it
// never settles.
func settlingFraction(response []point, finalSetpoint, step, band float64) float64 {
	threshold := math.Abs(step) * band
	start := response[0].t
	duration := response[len(response)-1].t - start

	settledAt := start
	for _, p := range response {
		if math.Abs(p.v-finalSetpoint) > threshold {
			settledAt = p.t
		}
	}
	return (settledAt - start) / duration
}
