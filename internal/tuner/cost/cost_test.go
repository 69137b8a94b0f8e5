package cost

import (
	"math"
	"testing"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rollWindow builds a window for the roll target: the setpoint arrives on the
// debug stream (phi_c), the response on the state stream (phi).
func rollWindow(phiC float64, response func(t float64) float64, dt float64, n int) model.WindowData {
	var data model.WindowData
	for i := 0; i < n; i++ {
		t := float64(i) * dt
		data.State = append(data.State, model.Sample{
			Timestamp: t,
			Values:    []float64{20, response(t), 0, 0, 100},
		})
	}
	// Sparse setpoint stream: two samples are enough, interpolation must
	// handle the count mismatch.
	data.Debug = append(data.Debug,
		model.Sample{Timestamp: 0, Values: []float64{phiC, 0}},
		model.Sample{Timestamp: float64(n-1) * dt, Values: []float64{phiC, 0}},
	)
	return data
}

func exponential(target, tau float64) func(t float64) float64 {
	return func(t float64) float64 {
		return target * (1 - math.Exp(-t/tau))
	}
}

func TestISE_PerfectTrackingIsNearZero(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := rollWindow(0.5, func(t float64) float64 { return 0.5 }, 0.01, 200)
	// The response starts exactly on the setpoint, so the step magnitude is
	// zero and only the ISE term contributes.
	c := e.Evaluate(model.TargetRoll, data)
	assert.InDelta(t, 0, c, 1e-9)
}

func TestISE_Deterministic(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := rollWindow(0.5, exponential(0.5, 0.3), 0.01, 200)
	first := e.Evaluate(model.TargetRoll, data)
	second := e.Evaluate(model.TargetRoll, data)
	assert.Equal(t, first, second)
}

func TestISE_NonNegative(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := rollWindow(-0.5, exponential(-0.5, 0.3), 0.01, 200)
	assert.GreaterOrEqual(t, e.Evaluate(model.TargetRoll, data), 0.0)
}

func TestISE_FasterConvergenceCostsLess(t *testing.T) {
	// Step to phi_c with a 2 s window: a 0.3 s time constant must beat a
	// 3.0 s one.
	e := NewISE(DefaultConfig())
	fast := rollWindow(0.5, exponential(0.5, 0.3), 0.01, 200)
	slow := rollWindow(0.5, exponential(0.5, 3.0), 0.01, 200)

	cFast := e.Evaluate(model.TargetRoll, fast)
	cSlow := e.Evaluate(model.TargetRoll, slow)
	assert.Less(t, cFast, cSlow)
}

func TestISE_OvershootPenalized(t *testing.T) {
	e := NewISE(Config{OvershootWeight: 1.0, SettlingWeight: 0, SettlingBand: 0.05})

	clean := rollWindow(0.5, exponential(0.5, 0.1), 0.01, 200)
	ringing := rollWindow(0.5, func(t float64) float64 {
		return 0.5 * (1 - math.Exp(-t/0.1)*math.Cos(20*t)*1.2)
	}, 0.01, 200)

	assert.Less(t, e.Evaluate(model.TargetRoll, clean), e.Evaluate(model.TargetRoll, ringing))
}

func TestISE_EmptyStateSequenceYieldsSentinel(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := model.WindowData{
		Debug: []model.Sample{{Timestamp: 0, Values: []float64{0.5, 0}}},
	}
	assert.Equal(t, SentinelCost, e.Evaluate(model.TargetRoll, data))
}

func TestISE_SingleStateSampleYieldsSentinel(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := model.WindowData{
		State: []model.Sample{{Timestamp: 0, Values: []float64{20, 0.1, 0, 0, 100}}},
		Debug: []model.Sample{{Timestamp: 0, Values: []float64{0.5, 0}}},
	}
	assert.Equal(t, SentinelCost, e.Evaluate(model.TargetRoll, data))
}

func TestISE_EmptySetpointSequenceYieldsSentinel(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := rollWindow(0.5, exponential(0.5, 0.3), 0.01, 50)
	data.Debug = nil
	assert.Equal(t, SentinelCost, e.Evaluate(model.TargetRoll, data))
}

func TestISE_ZeroDurationYieldsSentinel(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := model.WindowData{
		State: []model.Sample{
			{Timestamp: 1, Values: []float64{0, 0.1, 0, 0, 0}},
			{Timestamp: 1, Values: []float64{0, 0.2, 0, 0, 0}},
		},
		Debug: []model.Sample{{Timestamp: 1, Values: []float64{0.5, 0}}},
	}
	assert.Equal(t, SentinelCost, e.Evaluate(model.TargetRoll, data))
}

func TestISE_NonFiniteValuesSkipped(t *testing.T) {
	e := NewISE(DefaultConfig())
	data := rollWindow(0.5, exponential(0.5, 0.3), 0.01, 50)
	data.State = append(data.State, model.Sample{Timestamp: 1.0, Values: []float64{0, math.NaN(), 0, 0, 0}})
	c := e.Evaluate(model.TargetRoll, data)
	require.False(t, math.IsNaN(c))
	assert.Less(t, c, SentinelCost)
}

func TestISE_CourseTargetUsesCommandStream(t *testing.T) {
	e := NewISE(DefaultConfig())
	var data model.WindowData
	for i := 0; i < 100; i++ {
		t := float64(i) * 0.01
		data.State = append(data.State, model.Sample{
			Timestamp: t,
			Values:    []float64{20, 0, 1.5 * (1 - math.Exp(-t/0.2)), 0, 100},
		})
	}
	data.Commands = append(data.Commands, model.Sample{Timestamp: 0, Values: []float64{20, 1.5, 100}})

	c := e.Evaluate(model.TargetCourse, data)
	assert.Greater(t, c, 0.0)
	assert.Less(t, c, SentinelCost)
}

func TestISE_CountMismatchDoesNotTruncate(t *testing.T) {
	// 200 response samples against a single setpoint sample: the setpoint is
	// held, not the response truncated.
	e := NewISE(Config{SettlingBand: 0.05})
	data := rollWindow(0.5, exponential(0.5, 0.3), 0.01, 200)
	data.Debug = data.Debug[:1]

	c := e.Evaluate(model.TargetRoll, data)
	assert.Greater(t, c, 0.0)
	assert.Less(t, c, SentinelCost)
}
