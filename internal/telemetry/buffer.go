package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/metrics"
)

// Buffer stores the three telemetry streams for the currently open
// collection window. Samples arriving while no window is open are dropped:
// pre/post-window telemetry carries no information about the response being
// evaluated. One lock covers the window state and all three sequences, so
// recording callbacks and window transitions never interleave destructively.
type Buffer struct {
	mu     sync.Mutex
	window *model.CollectionWindow

	state    []model.Sample
	commands []model.Sample
	debug    []model.Sample
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Open starts a new collection window, clearing any previous generation of
// samples. The returned window identifies the generation for Drain.
func (b *Buffer) Open(target model.TuningTarget, now time.Time) model.CollectionWindow {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := model.CollectionWindow{
		ID:        uuid.New(),
		Target:    target,
		StartTime: now,
	}
	b.window = &w
	b.state = nil
	b.commands = nil
	b.debug = nil

	metrics.WindowsOpened.WithLabelValues(target.String()).Inc()
	return w
}

// Close marks the open window's end time. Recording stops immediately; the
// samples stay buffered until Drain.
func (b *Buffer) Close(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.window == nil {
		return
	}
	b.window.EndTime = now
	b.window = nil
}

// Record appends a sample to the named stream iff a window is open and the
// sample does not move time backwards within its sequence. Everything else
// is dropped and counted.
func (b *Buffer) Record(stream model.Stream, s model.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.window == nil {
		metrics.SamplesDropped.WithLabelValues(string(stream), "window_closed").Inc()
		return
	}

	seq := b.sequence(stream)
	if seq == nil {
		metrics.SamplesDropped.WithLabelValues(string(stream), "unknown_stream").Inc()
		return
	}
	if n := len(*seq); n > 0 && s.Timestamp < (*seq)[n-1].Timestamp {
		metrics.SamplesDropped.WithLabelValues(string(stream), "out_of_order").Inc()
		return
	}

	*seq = append(*seq, s)
	metrics.SamplesRecorded.WithLabelValues(string(stream)).Inc()
}

// Drain returns the buffered sequences for one closed window and resets all
// three. A second drain yields empty data.
func (b *Buffer) Drain(target model.TuningTarget) model.WindowData {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := model.WindowData{
		State:    b.state,
		Commands: b.commands,
		Debug:    b.debug,
	}
	b.state = nil
	b.commands = nil
	b.debug = nil

	metrics.WindowsDrained.WithLabelValues(target.String()).Inc()
	return data
}

// Collecting reports whether a window is currently open.
func (b *Buffer) Collecting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window != nil
}

func (b *Buffer) sequence(stream model.Stream) *[]model.Sample {
	switch stream {
	case model.StreamState:
		return &b.state
	case model.StreamCommands:
		return &b.commands
	case model.StreamDebug:
		return &b.debug
	default:
		return nil
	}
}
