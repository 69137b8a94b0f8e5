package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rosflight/rosplane2/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, rejecting calls
	StateHalfOpen              // probing whether the service recovered
)

// Breaker guards the gain gateway: once the parameter service keeps failing,
// further calls are rejected locally until a cool-down elapses, so iterations
// fail fast instead of each burning the full gateway timeout.
type Breaker struct {
	mu             sync.Mutex
	state          State
	failures       int
	probeSuccesses int

	failureLimit int
	probeLimit   int // successes needed in half-open to close
	cooldown     time.Duration
	lastFailure  time.Time
}

// Config configures a breaker. Zero values fall back to defaults.
type Config struct {
	FailureLimit int           // consecutive failures before opening (default 5)
	ProbeLimit   int           // half-open successes before closing (default 2)
	Cooldown     time.Duration // open duration before probing (default 30s)
}

func New(cfg Config) *Breaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 5
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		state:        StateClosed,
		failureLimit: cfg.FailureLimit,
		probeLimit:   cfg.ProbeLimit,
		cooldown:     cfg.Cooldown,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until the cooldown elapses, then lets a probe through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) <= b.cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.probeSuccesses++
			if b.probeSuccesses >= b.probeLimit {
				b.setState(StateClosed)
			}
		}
		return
	}

	b.failures++
	b.probeSuccesses = 0
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.failureLimit) {
		b.setState(StateOpen)
	}
}

// CurrentState returns the breaker state, promoting open to half-open when
// the cooldown has elapsed.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) > b.cooldown {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.probeSuccesses = 0
	if to == StateClosed {
		b.failures = 0
	}
	metrics.GatewayBreakerState.Set(float64(to))
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
