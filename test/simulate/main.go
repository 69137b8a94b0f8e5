// Package main implements a simulated autopilot for exercising the tuner
// end to end without an aircraft. It serves the parameter and step-toggle
// API on HTTP and publishes the three telemetry streams to Redis, closing
// the loop with a second-order plant whose tracking behavior depends on the
// gains the tuner writes.
//
// Usage:
//
//	go run ./test/simulate \
//	  -listen :9090 \
//	  -redis-url "redis://localhost:6379/0" \
//	  -target roll \
//	  -rate 50 \
//	  -amplitude 0.35
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/telemetry"
	"github.com/rosflight/rosplane2/internal/transport"
)

// Wire types mirror the parameter service contract the gateway client
// speaks. They are duplicated here because the harness plays the other side
// of that contract.

type parameterValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type getParametersRequest struct {
	Names []string `json:"names"`
}

type getParametersResponse struct {
	Values []parameterValue `json:"values"`
}

type setParametersRequest struct {
	Parameters []parameterValue `json:"parameters"`
}

type setResult struct {
	Successful bool   `json:"successful"`
	Reason     string `json:"reason,omitempty"`
}

type setParametersResponse struct {
	Results []setResult `json:"results"`
}

type toggleStepRequest struct {
	Enabled bool `json:"enabled"`
}

type toggleStepResponse struct {
	Enabled bool `json:"enabled"`
}

// plant is a second-order tracking loop. The first gain acts as a
// proportional term on the setpoint error, the second as damping, so the
// transient sharpens or rings the way a real loop does as the tuner moves
// the gains.
type plant struct {
	mu sync.Mutex

	target    model.TuningTarget
	params    map[string]float64
	stepOn    bool
	baseline  float64
	amplitude float64

	y    float64
	ydot float64
}

func newPlant(target model.TuningTarget, amplitude, kp, kd float64) *plant {
	names := target.GainNames()
	baseline := cruiseValue(target)
	return &plant{
		target:    target,
		params:    map[string]float64{names[0]: kp, names[1]: kd},
		baseline:  baseline,
		amplitude: amplitude,
		y:         baseline,
	}
}

// cruiseValue is the trim value of the target's response variable.
func cruiseValue(target model.TuningTarget) float64 {
	switch target {
	case model.TargetAirspeed:
		return 20
	case model.TargetAltitude:
		return 100
	default:
		return 0
	}
}

func (p *plant) setpoint() float64 {
	if p.stepOn {
		return p.baseline + p.amplitude
	}
	return p.baseline
}

// advance integrates one step of dt seconds and returns the current
// setpoint and response.
func (p *plant) advance(dt float64) (yc, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := p.target.GainNames()
	kp := p.params[names[0]]
	kd := p.params[names[1]]

	yc = p.setpoint()
	p.ydot += dt * (kp*(yc-p.y) - kd*p.ydot)
	p.y += dt * p.ydot
	return yc, p.y
}

func (p *plant) getParams(names []string) ([]parameterValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make([]parameterValue, 0, len(names))
	for _, name := range names {
		v, ok := p.params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
		values = append(values, parameterValue{Name: name, Value: v})
	}
	return values, nil
}

func (p *plant) setParams(params []parameterValue) []setResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]setResult, len(params))
	for i, pv := range params {
		if _, ok := p.params[pv.Name]; !ok {
			results[i] = setResult{Successful: false, Reason: "unknown parameter: " + pv.Name}
			continue
		}
		p.params[pv.Name] = pv.Value
		results[i] = setResult{Successful: true}
	}
	return results
}

func (p *plant) toggleStep(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepOn = enabled
}

func main() {
	var (
		listen    = flag.String("listen", ":9090", "Parameter service listen address")
		redisURL  = flag.String("redis-url", "redis://localhost:6379/0", "Redis connection string for telemetry streams")
		targetArg = flag.String("target", "roll", "Autopilot to simulate (roll, course, pitch, altitude, airspeed)")
		rate      = flag.Float64("rate", 50, "Telemetry publish rate in Hz")
		amplitude = flag.Float64("amplitude", 0.35, "Step amplitude applied while the step signal is enabled")
		kp        = flag.Float64("kp", 0.2, "Initial value of the target's first gain")
		kd        = flag.Float64("kd", 0.05, "Initial value of the target's second gain")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	target, err := model.ParseTuningTarget(*targetArg)
	if err != nil {
		logger.Error("invalid target", "error", err)
		os.Exit(1)
	}

	bus, err := transport.NewRedisStream(*redisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	sim := newPlant(target, *amplitude, *kp, *kd)
	streams := telemetry.DefaultStreamNames()

	logger.Info("simulated autopilot starting",
		"listen", *listen,
		"target", target,
		"rate_hz", *rate,
		"amplitude", *amplitude,
		"gains", target.GainNames(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/parameters/get", func(w http.ResponseWriter, r *http.Request) {
		var req getParametersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		values, err := sim.getParams(req.Names)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, getParametersResponse{Values: values})
	})
	mux.HandleFunc("POST /v1/parameters/set", func(w http.ResponseWriter, r *http.Request) {
		var req setParametersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("gains written", "parameters", req.Parameters)
		writeJSON(w, setParametersResponse{Results: sim.setParams(req.Parameters)})
	})
	mux.HandleFunc("POST /v1/step/toggle", func(w http.ResponseWriter, r *http.Request) {
		var req toggleStepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sim.toggleStep(req.Enabled)
		logger.Info("step signal toggled", "enabled", req.Enabled)
		writeJSON(w, toggleStepResponse{Enabled: req.Enabled})
	})

	srv := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("parameter service failed", "error", err)
			stop()
		}
	}()

	dt := 1.0 / *rate
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			logger.Info("simulated autopilot stopped")
			return
		case now := <-ticker.C:
			ts := now.Sub(start).Seconds()
			yc, y := sim.advance(dt)
			state, commands, internals := buildMessages(target, ts, yc, y)
			publish(ctx, bus, logger, streams.State, state)
			publish(ctx, bus, logger, streams.Commands, commands)
			publish(ctx, bus, logger, streams.Debug, internals)
		}
	}
}

// buildMessages places the plant's setpoint and response into the fields the
// tuner watches for the given target and fills the rest with trim values.
func buildMessages(target model.TuningTarget, ts, yc, y float64) (model.StateEstimate, model.ControllerCommands, model.ControllerInternals) {
	state := model.StateEstimate{Timestamp: ts, Airspeed: 20, Altitude: 100}
	commands := model.ControllerCommands{Timestamp: ts, AirspeedCmd: 20, AltitudeCmd: 100}
	internals := model.ControllerInternals{Timestamp: ts}

	switch target {
	case model.TargetRoll:
		state.Roll = y
		internals.RollCmd = yc
	case model.TargetCourse:
		state.Course = y
		commands.CourseCmd = yc
	case model.TargetPitch:
		state.Pitch = y
		internals.PitchCmd = yc
	case model.TargetAltitude:
		state.Altitude = y
		commands.AltitudeCmd = yc
	case model.TargetAirspeed:
		state.Airspeed = y
		commands.AirspeedCmd = yc
	}
	return state, commands, internals
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func publish(ctx context.Context, bus transport.MessageTransport, logger *slog.Logger, stream string, v any) {
	if _, err := bus.PublishJSON(ctx, stream, v); err != nil && ctx.Err() == nil {
		logger.Error("publish failed", "stream", stream, "error", err)
	}
}
