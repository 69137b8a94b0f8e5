package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestIntake_RecordsAllThreeStreams(t *testing.T) {
	bus := transport.NewInMemoryStream()
	buf := NewBuffer()
	intake := NewIntake(bus, buf, DefaultStreamNames(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- intake.Run(ctx) }()

	// Give the consumers time to subscribe before opening the window.
	time.Sleep(20 * time.Millisecond)
	buf.Open(model.TargetRoll, time.Now())

	_, err := bus.PublishJSON(ctx, "autotune.state", model.StateEstimate{Timestamp: 1, Roll: 0.2})
	require.NoError(t, err)
	_, err = bus.PublishJSON(ctx, "autotune.commands", model.ControllerCommands{Timestamp: 1, CourseCmd: 1.5})
	require.NoError(t, err)
	_, err = bus.PublishJSON(ctx, "autotune.internals", model.ControllerInternals{Timestamp: 1, RollCmd: 0.4})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data := peek(buf)
		return len(data.State) == 1 && len(data.Commands) == 1 && len(data.Debug) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// peek inspects the buffered sequences without draining.
func peek(b *Buffer) model.WindowData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.WindowData{State: b.state, Commands: b.commands, Debug: b.debug}
}

func TestIntake_DropsWhileNoWindowOpen(t *testing.T) {
	bus := transport.NewInMemoryStream()
	buf := NewBuffer()
	intake := NewIntake(bus, buf, DefaultStreamNames(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = intake.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	_, err := bus.PublishJSON(ctx, "autotune.state", model.StateEstimate{Timestamp: 1})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	data := buf.Drain(model.TargetRoll)
	assert.Empty(t, data.State)
}

func TestIntake_SurvivesMalformedMessage(t *testing.T) {
	bus := transport.NewInMemoryStream()
	buf := NewBuffer()
	intake := NewIntake(bus, buf, DefaultStreamNames(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = intake.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	buf.Open(model.TargetRoll, time.Now())

	// A message whose payload cannot decode into StateEstimate.
	_, err := bus.PublishJSON(ctx, "autotune.state", []string{"not", "a", "state"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = bus.PublishJSON(ctx, "autotune.state", model.StateEstimate{Timestamp: 2, Roll: 0.1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(peek(buf).State) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIntake_StopsWhenTransportCloses(t *testing.T) {
	bus := transport.NewInMemoryStream()
	buf := NewBuffer()
	intake := NewIntake(bus, buf, DefaultStreamNames(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- intake.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bus.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("intake kept running against a closed transport")
	}
}
