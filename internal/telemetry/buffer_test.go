package telemetry

import (
	"testing"
	"time"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(ts float64, values ...float64) model.Sample {
	return model.Sample{Timestamp: ts, Values: values}
}

func TestBuffer_DropsSamplesWithoutOpenWindow(t *testing.T) {
	b := NewBuffer()

	b.Record(model.StreamState, sample(1.0, 20, 0, 0, 0, 100))
	data := b.Drain(model.TargetRoll)
	assert.Empty(t, data.State)
	assert.Empty(t, data.Commands)
	assert.Empty(t, data.Debug)
}

func TestBuffer_RecordsIntoOpenWindow(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())

	b.Record(model.StreamState, sample(1.0, 20, 0.1, 0, 0, 100))
	b.Record(model.StreamState, sample(1.1, 20, 0.2, 0, 0, 100))
	b.Record(model.StreamCommands, sample(1.05, 22, 1.5, 120))
	b.Record(model.StreamDebug, sample(1.02, 0.3, -0.1))

	b.Close(time.Now())
	data := b.Drain(model.TargetRoll)
	assert.Len(t, data.State, 2)
	assert.Len(t, data.Commands, 1)
	assert.Len(t, data.Debug, 1)
}

func TestBuffer_StopsRecordingAfterClose(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())
	b.Record(model.StreamState, sample(1.0, 0, 0, 0, 0, 0))
	b.Close(time.Now())

	b.Record(model.StreamState, sample(2.0, 0, 0, 0, 0, 0))
	data := b.Drain(model.TargetRoll)
	require.Len(t, data.State, 1)
	assert.Equal(t, 1.0, data.State[0].Timestamp)
}

func TestBuffer_RejectsOutOfOrderTimestamps(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())

	b.Record(model.StreamState, sample(2.0, 0, 0, 0, 0, 0))
	b.Record(model.StreamState, sample(1.0, 0, 0, 0, 0, 0)) // moves time backwards
	b.Record(model.StreamState, sample(2.0, 0, 0, 0, 0, 0)) // equal timestamps are fine

	b.Close(time.Now())
	data := b.Drain(model.TargetRoll)
	require.Len(t, data.State, 2)
	assert.Equal(t, 2.0, data.State[0].Timestamp)
	assert.Equal(t, 2.0, data.State[1].Timestamp)
}

func TestBuffer_OutOfOrderIsPerStream(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())

	b.Record(model.StreamState, sample(5.0, 0, 0, 0, 0, 0))
	// Commands arrive from an independent source; an earlier timestamp there
	// is legitimate.
	b.Record(model.StreamCommands, sample(1.0, 0, 0, 0))

	b.Close(time.Now())
	data := b.Drain(model.TargetRoll)
	assert.Len(t, data.State, 1)
	assert.Len(t, data.Commands, 1)
}

func TestBuffer_DrainIsIdempotentEmpty(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())
	b.Record(model.StreamState, sample(1.0, 0, 0, 0, 0, 0))
	b.Close(time.Now())

	first := b.Drain(model.TargetRoll)
	require.Len(t, first.State, 1)

	second := b.Drain(model.TargetRoll)
	assert.Empty(t, second.State)
	assert.Empty(t, second.Commands)
	assert.Empty(t, second.Debug)
}

func TestBuffer_OpenResetsPreviousGeneration(t *testing.T) {
	b := NewBuffer()
	b.Open(model.TargetRoll, time.Now())
	b.Record(model.StreamState, sample(1.0, 0, 0, 0, 0, 0))
	b.Close(time.Now())

	// New window without draining the old one: old samples must not leak in.
	b.Open(model.TargetRoll, time.Now())
	b.Record(model.StreamState, sample(9.0, 0, 0, 0, 0, 0))
	b.Close(time.Now())

	data := b.Drain(model.TargetRoll)
	require.Len(t, data.State, 1)
	assert.Equal(t, 9.0, data.State[0].Timestamp)
}

func TestBuffer_Collecting(t *testing.T) {
	b := NewBuffer()
	assert.False(t, b.Collecting())
	b.Open(model.TargetRoll, time.Now())
	assert.True(t, b.Collecting())
	b.Close(time.Now())
	assert.False(t, b.Collecting())
}
