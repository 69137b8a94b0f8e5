package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTuningTarget_Valid(t *testing.T) {
	for _, name := range []string{"roll", "course", "pitch", "altitude", "airspeed"} {
		target, err := ParseTuningTarget(name)
		require.NoError(t, err)
		assert.Equal(t, name, target.String())
	}
}

func TestParseTuningTarget_NormalizesInput(t *testing.T) {
	target, err := ParseTuningTarget("  Roll ")
	require.NoError(t, err)
	assert.Equal(t, TargetRoll, target)
}

func TestParseTuningTarget_Invalid(t *testing.T) {
	_, err := ParseTuningTarget("yaw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid tuning autopilot")
}

func TestGainNames_TwoDistinctPerTarget(t *testing.T) {
	seen := make(map[string]TuningTarget)
	for _, target := range AllTargets() {
		names := target.GainNames()
		assert.NotEqual(t, names[0], names[1], "target %s has duplicate gain names", target)
		for _, name := range names {
			prev, dup := seen[name]
			assert.False(t, dup, "gain %s shared by %s and %s", name, prev, target)
			seen[name] = target
		}
	}
}

func TestTargetSpec_SetpointWiring(t *testing.T) {
	// Inner loops are commanded by controller internals, outer loops by the
	// commanded setpoints.
	assert.Equal(t, StreamDebug, TargetRoll.Spec().SetpointStream)
	assert.Equal(t, StreamDebug, TargetPitch.Spec().SetpointStream)
	assert.Equal(t, StreamCommands, TargetCourse.Spec().SetpointStream)
	assert.Equal(t, StreamCommands, TargetAltitude.Spec().SetpointStream)
	assert.Equal(t, StreamCommands, TargetAirspeed.Spec().SetpointStream)
}

func TestWireTypes_SampleLayout(t *testing.T) {
	state := StateEstimate{Timestamp: 1.5, Airspeed: 20, Roll: 0.1, Course: 1.2, Pitch: 0.05, Altitude: 100}
	s := state.Sample()
	assert.Equal(t, 1.5, s.Timestamp)
	assert.Equal(t, 0.1, s.Values[StateFieldRoll])
	assert.Equal(t, 100.0, s.Values[StateFieldAltitude])

	cmd := ControllerCommands{Timestamp: 2, AirspeedCmd: 22, CourseCmd: 1.6, AltitudeCmd: 120}
	c := cmd.Sample()
	assert.Equal(t, 1.6, c.Values[CommandFieldCourse])

	dbg := ControllerInternals{Timestamp: 3, RollCmd: 0.3, PitchCmd: -0.1}
	d := dbg.Sample()
	assert.Equal(t, 0.3, d.Values[DebugFieldRollCmd])
	assert.Equal(t, -0.1, d.Values[DebugFieldPitchCmd])
}
