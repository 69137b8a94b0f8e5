package model

import (
	"time"

	"github.com/google/uuid"
)

// Sample is one timestamped telemetry reading. Values layout depends on the
// stream; see the field index constants in target.go.
type Sample struct {
	Timestamp float64   `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// CollectionWindow owns exactly one generation of the three sample sequences.
// It is created when excitation begins and closed when the collection timer
// elapses; samples never persist across windows.
type CollectionWindow struct {
	ID        uuid.UUID
	Target    TuningTarget
	StartTime time.Time
	EndTime   time.Time
}

// WindowData is the drained contents of one closed window.
type WindowData struct {
	State    []Sample
	Commands []Sample
	Debug    []Sample
}

// GainVector is the optimizer's decision variable: the ordered pair of gain
// values for the active target.
type GainVector [2]float64

// StateEstimate is the wire form of an estimated-state telemetry message.
// Altitude is already sign-corrected by the publisher (h = -position down).
type StateEstimate struct {
	Timestamp float64 `json:"timestamp"`
	Airspeed  float64 `json:"va"`
	Roll      float64 `json:"phi"`
	Course    float64 `json:"chi"`
	Pitch     float64 `json:"theta"`
	Altitude  float64 `json:"h"`
}

func (m StateEstimate) Sample() Sample {
	return Sample{
		Timestamp: m.Timestamp,
		Values:    []float64{m.Airspeed, m.Roll, m.Course, m.Pitch, m.Altitude},
	}
}

// ControllerCommands is the wire form of a commanded-setpoints message.
type ControllerCommands struct {
	Timestamp   float64 `json:"timestamp"`
	AirspeedCmd float64 `json:"va_c"`
	CourseCmd   float64 `json:"chi_c"`
	AltitudeCmd float64 `json:"h_c"`
}

func (m ControllerCommands) Sample() Sample {
	return Sample{
		Timestamp: m.Timestamp,
		Values:    []float64{m.AirspeedCmd, m.CourseCmd, m.AltitudeCmd},
	}
}

// ControllerInternals is the wire form of the controller-internal debug
// message carrying the inner-loop setpoints.
type ControllerInternals struct {
	Timestamp float64 `json:"timestamp"`
	RollCmd   float64 `json:"phi_c"`
	PitchCmd  float64 `json:"theta_c"`
}

func (m ControllerInternals) Sample() Sample {
	return Sample{
		Timestamp: m.Timestamp,
		Values:    []float64{m.RollCmd, m.PitchCmd},
	}
}

// IterationRecord is the persisted outcome of one tuning iteration.
type IterationRecord struct {
	ID             uuid.UUID
	Target         TuningTarget
	Gains          GainVector
	Cost           float64
	Degraded       bool
	StateSamples   int
	CommandSamples int
	DebugSamples   int
	StartedAt      time.Time
	CompletedAt    time.Time
}
