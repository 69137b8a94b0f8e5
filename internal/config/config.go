// Package config assembles the runtime configuration from defaults, an
// optional YAML file (AUTOTUNE_CONFIG), and environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rosflight/rosplane2/internal/domain/model"
)

type Config struct {
	Tuning    TuningConfig
	Optimizer OptimizerConfig
	Cost      CostConfig
	Gateway   GatewayConfig
	Telemetry TelemetryConfig
	DB        DBConfig
	Server    ServerConfig
	Log       LogConfig
}

type TuningConfig struct {
	Target          model.TuningTarget
	StabilizePeriod time.Duration
}

type OptimizerConfig struct {
	StepScale      float64
	Reflection     float64
	Expansion      float64
	Contraction    float64
	Shrink         float64
	ImprovementTol float64
	CostTol        float64
	MaxEvaluations int
	MinGain        float64
	MaxGain        float64
}

type CostConfig struct {
	OvershootWeight float64
	SettlingWeight  float64
	SettlingBand    float64
}

type GatewayConfig struct {
	URL           string
	Timeout       time.Duration
	RPS           float64
	Burst         int
	ToggleRetries int
	RetryBackoff  time.Duration

	BreakerFailureLimit int
	BreakerProbeLimit   int
	BreakerCooldown     time.Duration
}

type TelemetryConfig struct {
	// Transport selects the telemetry source: "redis" in flight, "memory"
	// for bench runs and tests.
	Transport     string
	RedisURL      string
	StateStream   string
	CommandStream string
	DebugStream   string
}

type DBConfig struct {
	// URL empty disables iteration history persistence.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type ServerConfig struct {
	HealthPort int
	AdminPort  int
}

type LogConfig struct {
	Level string
}

const (
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// fileConfig mirrors Config with optional fields and wire-friendly units so
// a partial YAML file overrides only what it names.
type fileConfig struct {
	Target             *string  `yaml:"target"`
	StabilizePeriodSec *float64 `yaml:"stabilize_period_sec"`

	Optimizer struct {
		StepScale      *float64 `yaml:"step_scale"`
		Reflection     *float64 `yaml:"reflection"`
		Expansion      *float64 `yaml:"expansion"`
		Contraction    *float64 `yaml:"contraction"`
		Shrink         *float64 `yaml:"shrink"`
		ImprovementTol *float64 `yaml:"improvement_tol"`
		CostTol        *float64 `yaml:"cost_tol"`
		MaxEvaluations *int     `yaml:"max_evaluations"`
		MinGain        *float64 `yaml:"min_gain"`
		MaxGain        *float64 `yaml:"max_gain"`
	} `yaml:"optimizer"`

	Cost struct {
		OvershootWeight *float64 `yaml:"overshoot_weight"`
		SettlingWeight  *float64 `yaml:"settling_weight"`
		SettlingBand    *float64 `yaml:"settling_band"`
	} `yaml:"cost"`

	Gateway struct {
		URL            *string  `yaml:"url"`
		TimeoutSec     *float64 `yaml:"timeout_sec"`
		RPS            *float64 `yaml:"rps"`
		Burst          *int     `yaml:"burst"`
		ToggleRetries  *int     `yaml:"toggle_retries"`
		RetryBackoffMS *int     `yaml:"retry_backoff_ms"`

		BreakerFailureLimit *int     `yaml:"breaker_failure_limit"`
		BreakerProbeLimit   *int     `yaml:"breaker_probe_limit"`
		BreakerCooldownSec  *float64 `yaml:"breaker_cooldown_sec"`
	} `yaml:"gateway"`

	Telemetry struct {
		Transport     *string `yaml:"transport"`
		RedisURL      *string `yaml:"redis_url"`
		StateStream   *string `yaml:"state_stream"`
		CommandStream *string `yaml:"command_stream"`
		DebugStream   *string `yaml:"debug_stream"`
	} `yaml:"telemetry"`

	DB struct {
		URL *string `yaml:"url"`
	} `yaml:"db"`

	Server struct {
		HealthPort *int `yaml:"health_port"`
		AdminPort  *int `yaml:"admin_port"`
	} `yaml:"server"`

	Log struct {
		Level *string `yaml:"level"`
	} `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Tuning: TuningConfig{
			Target:          model.TargetRoll,
			StabilizePeriod: 10 * time.Second,
		},
		Optimizer: OptimizerConfig{
			StepScale:      0.5,
			Reflection:     1.0,
			Expansion:      1.5,
			Contraction:    0.5,
			Shrink:         0.5,
			ImprovementTol: 1e-4,
			CostTol:        1e-3,
			MaxEvaluations: 100,
			MinGain:        0.01,
			MaxGain:        25,
		},
		Cost: CostConfig{
			OvershootWeight: 0.5,
			SettlingWeight:  0.2,
			SettlingBand:    0.05,
		},
		Gateway: GatewayConfig{
			URL:           "http://localhost:9090",
			Timeout:       5 * time.Second,
			RPS:           10,
			Burst:         5,
			ToggleRetries: 2,
			RetryBackoff:  200 * time.Millisecond,

			BreakerFailureLimit: 5,
			BreakerProbeLimit:   2,
			BreakerCooldown:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Transport:     TransportRedis,
			RedisURL:      "redis://localhost:6379",
			StateStream:   "autotune.state",
			CommandStream: "autotune.commands",
			DebugStream:   "autotune.internals",
		},
		DB: DBConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Server: ServerConfig{
			HealthPort: 8080,
			AdminPort:  8081,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("AUTOTUNE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.Target != nil {
		c.Tuning.Target = model.TuningTarget(*f.Target)
	}
	if f.StabilizePeriodSec != nil {
		c.Tuning.StabilizePeriod = secondsToDuration(*f.StabilizePeriodSec)
	}

	setFloat(&c.Optimizer.StepScale, f.Optimizer.StepScale)
	setFloat(&c.Optimizer.Reflection, f.Optimizer.Reflection)
	setFloat(&c.Optimizer.Expansion, f.Optimizer.Expansion)
	setFloat(&c.Optimizer.Contraction, f.Optimizer.Contraction)
	setFloat(&c.Optimizer.Shrink, f.Optimizer.Shrink)
	setFloat(&c.Optimizer.ImprovementTol, f.Optimizer.ImprovementTol)
	setFloat(&c.Optimizer.CostTol, f.Optimizer.CostTol)
	setInt(&c.Optimizer.MaxEvaluations, f.Optimizer.MaxEvaluations)
	setFloat(&c.Optimizer.MinGain, f.Optimizer.MinGain)
	setFloat(&c.Optimizer.MaxGain, f.Optimizer.MaxGain)

	setFloat(&c.Cost.OvershootWeight, f.Cost.OvershootWeight)
	setFloat(&c.Cost.SettlingWeight, f.Cost.SettlingWeight)
	setFloat(&c.Cost.SettlingBand, f.Cost.SettlingBand)

	setString(&c.Gateway.URL, f.Gateway.URL)
	if f.Gateway.TimeoutSec != nil {
		c.Gateway.Timeout = secondsToDuration(*f.Gateway.TimeoutSec)
	}
	setFloat(&c.Gateway.RPS, f.Gateway.RPS)
	setInt(&c.Gateway.Burst, f.Gateway.Burst)
	setInt(&c.Gateway.ToggleRetries, f.Gateway.ToggleRetries)
	if f.Gateway.RetryBackoffMS != nil {
		c.Gateway.RetryBackoff = time.Duration(*f.Gateway.RetryBackoffMS) * time.Millisecond
	}
	setInt(&c.Gateway.BreakerFailureLimit, f.Gateway.BreakerFailureLimit)
	setInt(&c.Gateway.BreakerProbeLimit, f.Gateway.BreakerProbeLimit)
	if f.Gateway.BreakerCooldownSec != nil {
		c.Gateway.BreakerCooldown = secondsToDuration(*f.Gateway.BreakerCooldownSec)
	}

	setString(&c.Telemetry.Transport, f.Telemetry.Transport)
	setString(&c.Telemetry.RedisURL, f.Telemetry.RedisURL)
	setString(&c.Telemetry.StateStream, f.Telemetry.StateStream)
	setString(&c.Telemetry.CommandStream, f.Telemetry.CommandStream)
	setString(&c.Telemetry.DebugStream, f.Telemetry.DebugStream)

	setString(&c.DB.URL, f.DB.URL)

	setInt(&c.Server.HealthPort, f.Server.HealthPort)
	setInt(&c.Server.AdminPort, f.Server.AdminPort)

	setString(&c.Log.Level, f.Log.Level)
	return nil
}

func (c *Config) applyEnv() error {
	c.Tuning.Target = model.TuningTarget(getEnv("AUTOTUNE_TARGET", string(c.Tuning.Target)))
	c.Tuning.StabilizePeriod = secondsToDuration(getEnvFloat("STABILIZE_PERIOD_SEC", c.Tuning.StabilizePeriod.Seconds()))

	c.Optimizer.StepScale = getEnvFloat("OPT_STEP_SCALE", c.Optimizer.StepScale)
	c.Optimizer.Reflection = getEnvFloat("OPT_REFLECTION", c.Optimizer.Reflection)
	c.Optimizer.Expansion = getEnvFloat("OPT_EXPANSION", c.Optimizer.Expansion)
	c.Optimizer.Contraction = getEnvFloat("OPT_CONTRACTION", c.Optimizer.Contraction)
	c.Optimizer.Shrink = getEnvFloat("OPT_SHRINK", c.Optimizer.Shrink)
	c.Optimizer.ImprovementTol = getEnvFloat("OPT_IMPROVEMENT_TOL", c.Optimizer.ImprovementTol)
	c.Optimizer.CostTol = getEnvFloat("OPT_COST_TOL", c.Optimizer.CostTol)
	c.Optimizer.MaxEvaluations = getEnvInt("OPT_MAX_EVALUATIONS", c.Optimizer.MaxEvaluations)
	c.Optimizer.MinGain = getEnvFloat("OPT_MIN_GAIN", c.Optimizer.MinGain)
	c.Optimizer.MaxGain = getEnvFloat("OPT_MAX_GAIN", c.Optimizer.MaxGain)

	c.Cost.OvershootWeight = getEnvFloat("COST_OVERSHOOT_WEIGHT", c.Cost.OvershootWeight)
	c.Cost.SettlingWeight = getEnvFloat("COST_SETTLING_WEIGHT", c.Cost.SettlingWeight)
	c.Cost.SettlingBand = getEnvFloat("COST_SETTLING_BAND", c.Cost.SettlingBand)

	c.Gateway.URL = getEnv("GATEWAY_URL", c.Gateway.URL)
	c.Gateway.Timeout = secondsToDuration(getEnvFloat("GATEWAY_TIMEOUT_SEC", c.Gateway.Timeout.Seconds()))
	c.Gateway.RPS = getEnvFloat("GATEWAY_RPS", c.Gateway.RPS)
	c.Gateway.Burst = getEnvInt("GATEWAY_BURST", c.Gateway.Burst)
	c.Gateway.ToggleRetries = getEnvInt("STEP_RETRY_MAX", c.Gateway.ToggleRetries)
	c.Gateway.RetryBackoff = time.Duration(getEnvInt("STEP_BACKOFF_MS", int(c.Gateway.RetryBackoff.Milliseconds()))) * time.Millisecond
	c.Gateway.BreakerFailureLimit = getEnvInt("BREAKER_FAILURE_LIMIT", c.Gateway.BreakerFailureLimit)
	c.Gateway.BreakerProbeLimit = getEnvInt("BREAKER_PROBE_LIMIT", c.Gateway.BreakerProbeLimit)
	c.Gateway.BreakerCooldown = secondsToDuration(getEnvFloat("BREAKER_COOLDOWN_SEC", c.Gateway.BreakerCooldown.Seconds()))

	c.Telemetry.Transport = getEnv("TELEMETRY_TRANSPORT", c.Telemetry.Transport)
	c.Telemetry.RedisURL = getEnv("REDIS_URL", c.Telemetry.RedisURL)
	c.Telemetry.StateStream = getEnv("TELEMETRY_STATE_STREAM", c.Telemetry.StateStream)
	c.Telemetry.CommandStream = getEnv("TELEMETRY_COMMAND_STREAM", c.Telemetry.CommandStream)
	c.Telemetry.DebugStream = getEnv("TELEMETRY_DEBUG_STREAM", c.Telemetry.DebugStream)

	c.DB.URL = getEnv("DB_URL", c.DB.URL)
	c.DB.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.DB.MaxOpenConns)
	c.DB.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.DB.MaxIdleConns)
	c.DB.ConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", int(c.DB.ConnMaxLifetime.Minutes()))) * time.Minute

	c.Server.HealthPort = getEnvInt("HEALTH_PORT", c.Server.HealthPort)
	c.Server.AdminPort = getEnvInt("ADMIN_PORT", c.Server.AdminPort)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	return nil
}

func (c *Config) validate() error {
	target, err := model.ParseTuningTarget(string(c.Tuning.Target))
	if err != nil {
		return err
	}
	c.Tuning.Target = target
	if c.Tuning.StabilizePeriod <= 0 {
		return fmt.Errorf("STABILIZE_PERIOD_SEC must be positive, got %s", c.Tuning.StabilizePeriod)
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT_SEC must be positive, got %s", c.Gateway.Timeout)
	}
	if c.Optimizer.MinGain >= c.Optimizer.MaxGain {
		return fmt.Errorf("gain bounds invalid: OPT_MIN_GAIN %g must be below OPT_MAX_GAIN %g",
			c.Optimizer.MinGain, c.Optimizer.MaxGain)
	}
	switch c.Telemetry.Transport {
	case TransportRedis:
		if c.Telemetry.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis transport")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("TELEMETRY_TRANSPORT must be %q or %q, got %q",
			TransportRedis, TransportMemory, c.Telemetry.Transport)
	}
	return nil
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
