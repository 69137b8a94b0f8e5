package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosflight/rosplane2/internal/domain/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.TargetRoll, cfg.Tuning.Target)
	assert.Equal(t, 10*time.Second, cfg.Tuning.StabilizePeriod)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, TransportRedis, cfg.Telemetry.Transport)
	assert.Equal(t, "autotune.state", cfg.Telemetry.StateStream)
	assert.Empty(t, cfg.DB.URL, "persistence is opt-in")
	assert.Equal(t, 100, cfg.Optimizer.MaxEvaluations)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOTUNE_TARGET", "course")
	t.Setenv("STABILIZE_PERIOD_SEC", "2.5")
	t.Setenv("GATEWAY_TIMEOUT_SEC", "1")
	t.Setenv("OPT_MAX_EVALUATIONS", "40")
	t.Setenv("TELEMETRY_TRANSPORT", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.TargetCourse, cfg.Tuning.Target)
	assert.Equal(t, 2500*time.Millisecond, cfg.Tuning.StabilizePeriod)
	assert.Equal(t, time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 40, cfg.Optimizer.MaxEvaluations)
	assert.Equal(t, TransportMemory, cfg.Telemetry.Transport)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: pitch
stabilize_period_sec: 4
gateway:
  url: http://autopilot.local:9090
  timeout_sec: 3
optimizer:
  max_evaluations: 25
telemetry:
  transport: memory
`), 0o644))

	t.Setenv("AUTOTUNE_CONFIG", path)
	t.Setenv("STABILIZE_PERIOD_SEC", "7") // env beats file

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.TargetPitch, cfg.Tuning.Target)
	assert.Equal(t, 7*time.Second, cfg.Tuning.StabilizePeriod)
	assert.Equal(t, "http://autopilot.local:9090", cfg.Gateway.URL)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 25, cfg.Optimizer.MaxEvaluations)
	assert.Equal(t, TransportMemory, cfg.Telemetry.Transport)
	// keys the file omits keep their defaults
	assert.Equal(t, "autotune.commands", cfg.Telemetry.CommandStream)
}

func TestLoad_InvalidTarget(t *testing.T) {
	t.Setenv("AUTOTUNE_TARGET", "yaw")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaw")
}

func TestLoad_InvalidStabilizePeriod(t *testing.T) {
	t.Setenv("STABILIZE_PERIOD_SEC", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STABILIZE_PERIOD_SEC")
}

func TestLoad_InvalidGainBounds(t *testing.T) {
	t.Setenv("OPT_MIN_GAIN", "10")
	t.Setenv("OPT_MAX_GAIN", "1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPT_MIN_GAIN")
}

func TestLoad_UnknownTransport(t *testing.T) {
	t.Setenv("TELEMETRY_TRANSPORT", "kafka")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEMETRY_TRANSPORT")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("AUTOTUNE_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}
