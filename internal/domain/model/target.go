package model

import (
	"fmt"
	"strings"
)

// TuningTarget identifies which autopilot loop is being tuned. It is selected
// once at startup and immutable for the process lifetime.
type TuningTarget string

const (
	TargetRoll     TuningTarget = "roll"
	TargetCourse   TuningTarget = "course"
	TargetPitch    TuningTarget = "pitch"
	TargetAltitude TuningTarget = "altitude"
	TargetAirspeed TuningTarget = "airspeed"
)

// Stream identifies one of the three telemetry streams captured during a
// collection window.
type Stream string

const (
	StreamState    Stream = "state"
	StreamCommands Stream = "commands"
	StreamDebug    Stream = "debug"
)

// Value indices within a state sample: [va, phi, chi, theta, h].
const (
	StateFieldAirspeed = iota
	StateFieldRoll
	StateFieldCourse
	StateFieldPitch
	StateFieldAltitude
)

// Value indices within a commands sample: [va_c, chi_c, h_c].
const (
	CommandFieldAirspeed = iota
	CommandFieldCourse
	CommandFieldAltitude
)

// Value indices within a debug sample: [phi_c, theta_c].
const (
	DebugFieldRollCmd = iota
	DebugFieldPitchCmd
)

// TargetSpec describes everything target-specific: the two gain names the
// parameter service knows, and where the setpoint and response live in the
// telemetry streams. Adding a target is a table change, not a code change.
type TargetSpec struct {
	GainNames [2]string

	// SetpointStream/SetpointField locate the commanded value. The inner
	// loops (roll, pitch) are commanded by the controller internals, the
	// outer loops by the commanded setpoints.
	SetpointStream Stream
	SetpointField  int

	// ResponseField indexes into state samples.
	ResponseField int
}

var targetTable = map[TuningTarget]TargetSpec{
	TargetRoll: {
		GainNames:      [2]string{"r_kp", "r_kd"},
		SetpointStream: StreamDebug,
		SetpointField:  DebugFieldRollCmd,
		ResponseField:  StateFieldRoll,
	},
	TargetCourse: {
		GainNames:      [2]string{"c_kp", "c_ki"},
		SetpointStream: StreamCommands,
		SetpointField:  CommandFieldCourse,
		ResponseField:  StateFieldCourse,
	},
	TargetPitch: {
		GainNames:      [2]string{"p_kp", "p_kd"},
		SetpointStream: StreamDebug,
		SetpointField:  DebugFieldPitchCmd,
		ResponseField:  StateFieldPitch,
	},
	TargetAltitude: {
		GainNames:      [2]string{"a_kp", "a_ki"},
		SetpointStream: StreamCommands,
		SetpointField:  CommandFieldAltitude,
		ResponseField:  StateFieldAltitude,
	},
	TargetAirspeed: {
		GainNames:      [2]string{"a_t_kp", "a_t_ki"},
		SetpointStream: StreamCommands,
		SetpointField:  CommandFieldAirspeed,
		ResponseField:  StateFieldAirspeed,
	},
}

// ParseTuningTarget validates a configured autopilot name. An unknown name is
// a fatal configuration error at startup.
func ParseTuningTarget(s string) (TuningTarget, error) {
	t := TuningTarget(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := targetTable[t]; !ok {
		return "", fmt.Errorf("%q is not a valid tuning autopilot; must be one of: roll, course, pitch, altitude, airspeed", s)
	}
	return t, nil
}

// Spec returns the target's lookup-table row.
func (t TuningTarget) Spec() TargetSpec {
	return targetTable[t]
}

// GainNames returns the ordered pair of parameter names for the target.
func (t TuningTarget) GainNames() [2]string {
	return targetTable[t].GainNames
}

func (t TuningTarget) String() string { return string(t) }

// AllTargets lists the supported targets in a stable order.
func AllTargets() []TuningTarget {
	return []TuningTarget{TargetRoll, TargetCourse, TargetPitch, TargetAltitude, TargetAirspeed}
}
