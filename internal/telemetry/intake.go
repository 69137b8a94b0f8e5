package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/metrics"
	"github.com/rosflight/rosplane2/internal/transport"
	"golang.org/x/sync/errgroup"
)

// StreamNames maps the three telemetry streams to transport stream names.
type StreamNames struct {
	State    string
	Commands string
	Debug    string
}

// DefaultStreamNames matches the vehicle-side publisher defaults.
func DefaultStreamNames() StreamNames {
	return StreamNames{
		State:    "autotune.state",
		Commands: "autotune.commands",
		Debug:    "autotune.internals",
	}
}

// Intake consumes the three telemetry streams and records each decoded
// sample into the buffer. The buffer's window gate decides whether a sample
// is kept; the intake never blocks on it.
type Intake struct {
	bus     transport.MessageTransport
	buffer  *Buffer
	streams StreamNames
	logger  *slog.Logger
}

func NewIntake(bus transport.MessageTransport, buffer *Buffer, streams StreamNames, logger *slog.Logger) *Intake {
	return &Intake{
		bus:     bus,
		buffer:  buffer,
		streams: streams,
		logger:  logger.With("component", "intake"),
	}
}

// Run consumes all three streams until ctx is done. Each stream gets its own
// consumer goroutine; a decode failure on one message drops that message
// only.
func (i *Intake) Run(ctx context.Context) error {
	i.logger.Info("telemetry intake started",
		"state_stream", i.streams.State,
		"commands_stream", i.streams.Commands,
		"debug_stream", i.streams.Debug,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gCtx, i, i.streams.State, model.StreamState, func(m model.StateEstimate) model.Sample { return m.Sample() })
	})
	g.Go(func() error {
		return consume(gCtx, i, i.streams.Commands, model.StreamCommands, func(m model.ControllerCommands) model.Sample { return m.Sample() })
	})
	g.Go(func() error {
		return consume(gCtx, i, i.streams.Debug, model.StreamDebug, func(m model.ControllerInternals) model.Sample { return m.Sample() })
	})

	err := g.Wait()
	i.logger.Info("telemetry intake stopped")
	return err
}

func consume[T any](ctx context.Context, i *Intake, streamName string, stream model.Stream, toSample func(T) model.Sample) error {
	lastID := "" // only messages published from now on
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var msg T
		nextID, err := i.bus.ReadJSON(ctx, streamName, lastID, &msg)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// A closed transport never yields another message; looping on it
			// would spin.
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			metrics.SamplesDropped.WithLabelValues(string(stream), "decode_error").Inc()
			i.logger.Warn("telemetry message dropped", "stream", streamName, "error", err)
			// A failed read does not yield the message ID, so skip past
			// the bad message by resubscribing from now.
			lastID = ""
			continue
		}

		lastID = nextID
		i.buffer.Record(stream, toSample(msg))
	}
}
