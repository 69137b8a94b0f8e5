// Package tuner runs the closed-loop tuning session: it arms iterations,
// drives the excitation state machine against the autopilot, and feeds the
// measured cost of each gain set back into the optimizer.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/gateway"
	"github.com/rosflight/rosplane2/internal/metrics"
	"github.com/rosflight/rosplane2/internal/store"
	"github.com/rosflight/rosplane2/internal/telemetry"
	"github.com/rosflight/rosplane2/internal/tuner/cost"
	"github.com/rosflight/rosplane2/internal/tuner/optimizer"
)

var (
	// ErrBusy means an iteration is already in flight; the request is
	// dropped, not queued.
	ErrBusy = errors.New("tuner: iteration already in progress")

	// ErrFinished means the optimizer has terminated; further iteration
	// requests are no-ops.
	ErrFinished = errors.New("tuner: tuning finished")

	// ErrStopped means the session has been shut down.
	ErrStopped = errors.New("tuner: session stopped")
)

// State is the excitation state machine position.
type State int

const (
	// StateIdle: no iteration in flight; requests are accepted.
	StateIdle State = iota
	// StateStabilizing: new gains are live, waiting for the aircraft to
	// settle before exciting it.
	StateStabilizing
	// StateCollecting: step signal active, telemetry streaming into the
	// sample buffer.
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStabilizing:
		return "STABILIZING"
	case StateCollecting:
		return "COLLECTING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the session timing knobs.
type Config struct {
	Target model.TuningTarget
	// StabilizePeriod is both the settle time after a gain write and the
	// length of the collection window; the step signal holds for exactly
	// one period.
	StabilizePeriod time.Duration
	// GatewayTimeout bounds every autopilot call made by the state machine.
	GatewayTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StabilizePeriod <= 0 {
		c.StabilizePeriod = 10 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 5 * time.Second
	}
	return c
}

// Status is a point-in-time snapshot for operator surfaces.
type Status struct {
	Target      string            `json:"target"`
	State       string            `json:"state"`
	Iterations  int               `json:"iterations"`
	Evaluations int               `json:"evaluations"`
	LastCost    *float64          `json:"last_cost,omitempty"`
	// LastDegraded marks the most recent completed iteration as unreliable:
	// a gateway failure on the gain write or step toggle means the measured
	// cost cannot be attributed to the proposed gains.
	LastDegraded bool              `json:"last_degraded"`
	BestCost     *float64          `json:"best_cost,omitempty"`
	BestGains    *model.GainVector `json:"best_gains,omitempty"`
	Terminated   bool              `json:"terminated"`
	Optimizer    string            `json:"optimizer"`
}

// Receipt acknowledges an armed iteration. Degraded is already known here
// because the gain write completes before RunIteration returns.
type Receipt struct {
	ID       uuid.UUID        `json:"iteration_id"`
	Gains    model.GainVector `json:"gains"`
	Degraded bool             `json:"degraded"`
}

// Session owns one tuning run for one target. Iterations are armed by
// RunIteration and then advance on timers; only one iteration is in flight
// at a time.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	gw        gateway.Client
	buffer    *telemetry.Buffer
	evaluator cost.Evaluator
	opt       optimizer.Optimizer
	history   store.IterationRepository // nil disables persistence

	mu           sync.Mutex
	baseCtx      context.Context
	state        State
	timer        *time.Timer
	pending      model.GainVector
	havePending  bool
	current      model.IterationRecord
	lastCost     float64
	lastDegraded bool
	iterations   int
	stopped      bool
}

// NewSession wires a session. history may be nil when no database is
// configured.
func NewSession(cfg Config, logger *slog.Logger, gw gateway.Client, buffer *telemetry.Buffer,
	evaluator cost.Evaluator, opt optimizer.Optimizer, history store.IterationRepository) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		logger:    logger.With("component", "tuner", "target", cfg.Target),
		gw:        gw,
		buffer:    buffer,
		evaluator: evaluator,
		opt:       opt,
		history:   history,
		baseCtx:   context.Background(),
		state:     StateIdle,
		lastCost:  math.NaN(),
	}
	s.publishState(StateIdle)
	return s
}

// Start binds the session to ctx: timer callbacks derive their gateway
// budgets from it, and the session stops when it is cancelled.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the state machine. Best effort: a collection in flight is
// abandoned and the step signal is toggled off.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	interrupted := s.state != StateIdle
	s.setState(StateIdle)
	s.buffer.Close(time.Now())
	s.mu.Unlock()

	if interrupted {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
		defer cancel()
		if err := s.gw.ToggleStep(ctx, false); err != nil {
			s.logger.Warn("could not clear step signal on shutdown", "error", err)
		}
	}
}

// Target returns the tuning target this session drives.
func (s *Session) Target() model.TuningTarget { return s.cfg.Target }

// RunIteration arms one tuning iteration: write the pending gains, settle,
// excite, collect, evaluate. It returns as soon as the iteration is armed;
// the rest runs on timers. Returns ErrBusy while an iteration is in flight
// and ErrFinished once the optimizer has terminated.
func (s *Session) RunIteration() (Receipt, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Receipt{}, ErrStopped
	}
	if s.opt.Terminated() {
		s.mu.Unlock()
		metrics.IterationsRejected.WithLabelValues(s.cfg.Target.String(), "terminated").Inc()
		return Receipt{}, fmt.Errorf("%w: %s", ErrFinished, s.opt.Status())
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		metrics.IterationsRejected.WithLabelValues(s.cfg.Target.String(), "busy").Inc()
		return Receipt{}, fmt.Errorf("%w (state %s)", ErrBusy, state)
	}

	if !s.havePending {
		s.pending = s.opt.InitialGains()
		s.havePending = true
	}
	gains := s.pending
	s.current = model.IterationRecord{
		ID:        uuid.New(),
		Target:    s.cfg.Target,
		Gains:     gains,
		StartedAt: time.Now(),
	}
	id := s.current.ID
	s.setState(StateStabilizing)
	ctx := s.baseCtx
	s.mu.Unlock()

	metrics.IterationsStarted.WithLabelValues(s.cfg.Target.String()).Inc()
	s.logger.Info("iteration armed",
		"iteration", id,
		"gains", fmt.Sprintf("[%.5g, %.5g]", gains[0], gains[1]))

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	result, err := s.gw.WriteGains(writeCtx, s.cfg.Target, gains)
	degraded := result.Degraded
	if err != nil {
		// The aircraft keeps flying on its previous gains; the measurement
		// still happens but cannot be attributed to the proposal.
		degraded = true
		s.logger.Error("gain write failed", "iteration", id, "error", err)
	} else if result.Degraded {
		s.logger.Warn("gain write degraded", "iteration", id, "failed", result.Failed)
	}

	receipt := Receipt{ID: id, Gains: gains, Degraded: degraded}

	s.mu.Lock()
	if s.stopped || s.state != StateStabilizing {
		s.mu.Unlock()
		return receipt, nil
	}
	s.current.Degraded = degraded
	if degraded {
		metrics.IterationsDegraded.WithLabelValues(s.cfg.Target.String()).Inc()
	}
	names := s.cfg.Target.GainNames()
	for i, name := range names {
		metrics.ProposedGain.WithLabelValues(s.cfg.Target.String(), name).Set(gains[i])
	}
	s.timer = time.AfterFunc(s.cfg.StabilizePeriod, s.beginCollection)
	s.mu.Unlock()
	return receipt, nil
}

// beginCollection fires after the stabilize period: raise the step signal
// and open the collection window.
func (s *Session) beginCollection() {
	s.mu.Lock()
	if s.stopped || s.state != StateStabilizing {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	toggleCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.gw.ToggleStep(toggleCtx, true); err != nil {
		s.abort("could not raise step signal", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.state != StateStabilizing {
		return
	}
	window := s.buffer.Open(s.cfg.Target, time.Now())
	s.setState(StateCollecting)
	s.timer = time.AfterFunc(s.cfg.StabilizePeriod, s.finishCollection)
	s.logger.Info("collection window opened", "iteration", s.current.ID, "window", window.ID)
}

// finishCollection fires after the collection window: lower the step signal,
// drain the window, score it, and advance the optimizer.
func (s *Session) finishCollection() {
	s.mu.Lock()
	if s.stopped || s.state != StateCollecting {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	toggleCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	toggleErr := s.gw.ToggleStep(toggleCtx, false)

	s.mu.Lock()
	if s.stopped || s.state != StateCollecting {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	s.buffer.Close(now)
	data := s.buffer.Drain(s.cfg.Target)

	evalStart := time.Now()
	measured := s.evaluator.Evaluate(s.cfg.Target, data)
	next := s.opt.ProposeNext(measured)
	metrics.EvaluationDuration.WithLabelValues(s.cfg.Target.String()).Observe(time.Since(evalStart).Seconds())

	if toggleErr != nil {
		// The step signal state is now unknown; flag the iteration rather
		// than trust the next window.
		if !s.current.Degraded {
			metrics.IterationsDegraded.WithLabelValues(s.cfg.Target.String()).Inc()
		}
		s.current.Degraded = true
		s.logger.Error("could not lower step signal", "iteration", s.current.ID, "error", toggleErr)
	}

	s.pending = next
	s.current.Cost = measured
	s.current.StateSamples = len(data.State)
	s.current.CommandSamples = len(data.Commands)
	s.current.DebugSamples = len(data.Debug)
	s.current.CompletedAt = now
	rec := s.current
	s.lastCost = measured
	s.lastDegraded = rec.Degraded
	s.iterations++
	s.setState(StateIdle)

	target := s.cfg.Target.String()
	metrics.IterationsCompleted.WithLabelValues(target).Inc()
	metrics.LatestCost.WithLabelValues(target).Set(measured)
	metrics.BestCost.WithLabelValues(target).Set(s.opt.BestCost())
	metrics.OptimizerEvaluations.WithLabelValues(target).Set(float64(s.opt.Evaluations()))

	terminated := s.opt.Terminated()
	optStatus := s.opt.Status()
	s.mu.Unlock()

	s.logger.Info("iteration evaluated",
		"iteration", rec.ID,
		"cost", measured,
		"samples_state", rec.StateSamples,
		"samples_commands", rec.CommandSamples,
		"samples_debug", rec.DebugSamples,
		"degraded", rec.Degraded,
		"next_gains", fmt.Sprintf("[%.5g, %.5g]", next[0], next[1]))
	if terminated {
		s.logger.Info("tuning finished", "status", optStatus)
	}

	s.persist(ctx, rec)
}

// abort unwinds a half-armed iteration. The pending gains are kept so the
// next request retries the same proposal.
func (s *Session) abort(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.buffer.Close(time.Now())
	s.buffer.Drain(s.cfg.Target)
	s.setState(StateIdle)
	s.logger.Error(msg, "iteration", s.current.ID, "error", err)
}

func (s *Session) persist(ctx context.Context, rec model.IterationRecord) {
	if s.history == nil {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.history.Insert(insertCtx, rec); err != nil {
		metrics.HistoryInsertFailures.Inc()
		s.logger.Error("history insert failed", "iteration", rec.ID, "error", err)
	}
}

// Status reports a snapshot for the admin surface.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Target:       s.cfg.Target.String(),
		State:        s.state.String(),
		Iterations:   s.iterations,
		Evaluations:  s.opt.Evaluations(),
		LastDegraded: s.lastDegraded,
		Terminated:   s.opt.Terminated(),
		Optimizer:    s.opt.Status(),
	}
	if !math.IsNaN(s.lastCost) {
		last := s.lastCost
		st.LastCost = &last
	}
	if best := s.opt.BestCost(); !math.IsInf(best, 1) {
		bc := best
		bg := s.opt.BestGains()
		st.BestCost = &bc
		st.BestGains = &bg
	}
	return st
}

// CurrentState returns the state machine position.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to State) {
	s.state = to
	s.publishState(to)
}

func (s *Session) publishState(st State) {
	metrics.SessionState.WithLabelValues(s.cfg.Target.String()).Set(float64(st))
}
