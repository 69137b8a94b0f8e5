// Package gateway talks to the autopilot's parameter service: reading and
// writing controller gains and toggling the step excitation signal. Every
// call is budgeted, rate limited, and guarded by a circuit breaker so a
// wedged autopilot link cannot hang the tuning loop.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rosflight/rosplane2/internal/circuitbreaker"
	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/metrics"
	"github.com/rosflight/rosplane2/internal/retry"
)

const (
	pathGetParameters = "/v1/parameters/get"
	pathSetParameters = "/v1/parameters/set"
	pathToggleStep    = "/v1/step/toggle"
)

// ErrBreakerOpen is returned without touching the network while the circuit
// breaker is cooling down.
var ErrBreakerOpen = errors.New("gateway: circuit breaker open")

// WriteResult reports the per-gain outcome of a gain write. A write with
// Degraded set reached the autopilot but some parameters were refused; the
// measured cost for that iteration does not reflect the requested gains.
type WriteResult struct {
	Degraded bool
	Failed   []string // names of refused parameters, with reasons folded in
}

// Client is the autopilot-facing surface the tuner session depends on.
type Client interface {
	// ReadGains fetches the current values of the target's two gains.
	ReadGains(ctx context.Context, target model.TuningTarget) (model.GainVector, error)

	// WriteGains pushes new gain values. Per-parameter refusals come back in
	// the WriteResult; transport-level failures come back as an error.
	WriteGains(ctx context.Context, target model.TuningTarget, gains model.GainVector) (WriteResult, error)

	// ToggleStep switches the step excitation signal on or off, retrying
	// transient transport failures within the call budget.
	ToggleStep(ctx context.Context, enabled bool) error
}

// Config tunes the HTTP client wrapper.
type Config struct {
	BaseURL string
	// Timeout bounds each attempt end to end.
	Timeout time.Duration
	// ToggleRetries is how many extra attempts ToggleStep gets on transient
	// failures.
	ToggleRetries int
	// RetryBackoff is the base delay between toggle attempts; it doubles
	// per retry.
	RetryBackoff time.Duration
	// Breaker configures the circuit breaker guarding all calls.
	Breaker circuitbreaker.Config
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ToggleRetries <= 0 {
		c.ToggleRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	return c
}

// HTTPClient implements Client over the autopilot's JSON parameter API.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *RateLimiter
	breaker    *circuitbreaker.Breaker
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	cfg = cfg.withDefaults()
	return &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.With("component", "gateway"),
		breaker: circuitbreaker.New(cfg.Breaker),
	}
}

// SetRateLimiter sets the request rate limiter for this client.
func (c *HTTPClient) SetRateLimiter(l *RateLimiter) {
	c.limiter = l
}

func (c *HTTPClient) ReadGains(ctx context.Context, target model.TuningTarget) (model.GainVector, error) {
	names := target.GainNames()
	req := getParametersRequest{Names: names[:]}

	var resp getParametersResponse
	if err := c.post(ctx, "read_gains", pathGetParameters, req, &resp); err != nil {
		return model.GainVector{}, err
	}

	if len(resp.Values) != len(names) {
		return model.GainVector{}, retry.Terminal(
			fmt.Errorf("gateway: requested %d parameters, got %d values", len(names), len(resp.Values)))
	}

	var gains model.GainVector
	for i, want := range names {
		got := resp.Values[i]
		if got.Name != want {
			return model.GainVector{}, retry.Terminal(
				fmt.Errorf("gateway: parameter %q returned in place of %q", got.Name, want))
		}
		gains[i] = got.Value
	}
	return gains, nil
}

func (c *HTTPClient) WriteGains(ctx context.Context, target model.TuningTarget, gains model.GainVector) (WriteResult, error) {
	names := target.GainNames()
	req := setParametersRequest{
		Parameters: []parameterValue{
			{Name: names[0], Value: gains[0]},
			{Name: names[1], Value: gains[1]},
		},
	}

	var resp setParametersResponse
	if err := c.post(ctx, "write_gains", pathSetParameters, req, &resp); err != nil {
		return WriteResult{}, err
	}

	if len(resp.Results) != len(req.Parameters) {
		return WriteResult{}, retry.Terminal(
			fmt.Errorf("gateway: sent %d parameters, got %d results", len(req.Parameters), len(resp.Results)))
	}

	var result WriteResult
	for i, r := range resp.Results {
		if r.Successful {
			continue
		}
		result.Degraded = true
		name := req.Parameters[i].Name
		if r.Reason != "" {
			name = name + ": " + r.Reason
		}
		result.Failed = append(result.Failed, name)
	}
	if result.Degraded {
		c.logger.Warn("gain write partially refused",
			"target", target,
			"failed", strings.Join(result.Failed, "; "))
	}
	return result, nil
}

func (c *HTTPClient) ToggleStep(ctx context.Context, enabled bool) error {
	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt <= c.cfg.ToggleRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var resp toggleStepResponse
		err := c.post(ctx, "toggle_step", pathToggleStep, toggleStepRequest{Enabled: enabled}, &resp)
		if err == nil {
			if resp.Enabled != enabled {
				return retry.Terminal(fmt.Errorf("gateway: step toggle requested %v, autopilot reports %v", enabled, resp.Enabled))
			}
			metrics.StepTogglesTotal.WithLabelValues(fmt.Sprintf("%v", enabled)).Inc()
			return nil
		}
		lastErr = err
		if !retry.Classify(err).IsTransient() {
			return err
		}
		c.logger.Warn("step toggle attempt failed",
			"attempt", attempt+1,
			"enabled", enabled,
			"error", err)
	}
	return fmt.Errorf("gateway: step toggle exhausted retries: %w", lastErr)
}

// post runs one guarded request/response exchange against the parameter
// service.
func (c *HTTPClient) post(ctx context.Context, op, path string, reqBody, respBody any) error {
	if err := c.breaker.Allow(); err != nil {
		metrics.GatewayCalls.WithLabelValues(op, "breaker_open").Inc()
		return retry.Transient(fmt.Errorf("%w: %v", ErrBreakerOpen, err))
	}

	if c.limiter != nil {
		if err := c.limiter.wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := c.doPost(ctx, path, reqBody, respBody)
	metrics.GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	c.breaker.Record(err)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.GatewayCalls.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *HTTPClient) doPost(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return retry.Transient(fmt.Errorf("http status %d: %s", resp.StatusCode, string(raw)))
	default:
		return retry.Terminal(fmt.Errorf("http status %d: %s", resp.StatusCode, string(raw)))
	}

	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
