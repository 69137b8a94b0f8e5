package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewHTTPClient(Config{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	return client, srv
}

func TestHTTPClient_ReadGains(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathGetParameters, r.URL.Path)

		var req getParametersRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"r_kp", "r_kd"}, req.Names)

		json.NewEncoder(w).Encode(getParametersResponse{Values: []parameterValue{
			{Name: "r_kp", Value: 0.15},
			{Name: "r_kd", Value: 0.04},
		}})
	}))

	gains, err := client.ReadGains(context.Background(), model.TargetRoll)
	require.NoError(t, err)
	assert.Equal(t, model.GainVector{0.15, 0.04}, gains)
}

func TestHTTPClient_ReadGainsWrongValueCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(getParametersResponse{Values: []parameterValue{
			{Name: "r_kp", Value: 0.15},
		}})
	}))

	_, err := client.ReadGains(context.Background(), model.TargetRoll)
	require.Error(t, err)
	assert.False(t, retry.Classify(err).IsTransient())
}

func TestHTTPClient_ReadGainsMisorderedNames(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(getParametersResponse{Values: []parameterValue{
			{Name: "r_kd", Value: 0.04},
			{Name: "r_kp", Value: 0.15},
		}})
	}))

	_, err := client.ReadGains(context.Background(), model.TargetRoll)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r_kd")
}

func TestHTTPClient_WriteGains(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathSetParameters, r.URL.Path)

		var req setParametersRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Parameters, 2)
		assert.Equal(t, "c_kp", req.Parameters[0].Name)
		assert.Equal(t, "c_ki", req.Parameters[1].Name)

		json.NewEncoder(w).Encode(setParametersResponse{Results: []setResult{
			{Successful: true},
			{Successful: true},
		}})
	}))

	result, err := client.WriteGains(context.Background(), model.TargetCourse, model.GainVector{1.2, 0.3})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Failed)
}

func TestHTTPClient_WriteGainsPartialRefusal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(setParametersResponse{Results: []setResult{
			{Successful: true},
			{Successful: false, Reason: "value out of range"},
		}})
	}))

	result, err := client.WriteGains(context.Background(), model.TargetPitch, model.GainVector{0.8, 0.2})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0], "p_kd")
	assert.Contains(t, result.Failed[0], "value out of range")
}

func TestHTTPClient_ToggleStepRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathToggleStep, r.URL.Path)
		if hits.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(toggleStepResponse{Enabled: true})
	}))

	err := client.ToggleStep(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPClient_ToggleStepTerminalNotRetried(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "invalid argument", http.StatusBadRequest)
	}))

	err := client.ToggleStep(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPClient_ToggleStepExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	}))

	err := client.ToggleStep(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted retries")
	assert.Equal(t, int32(3), hits.Load()) // initial attempt plus two retries
}

func TestHTTPClient_ToggleStepDisagreementIsTerminal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(toggleStepResponse{Enabled: false})
	}))

	err := client.ToggleStep(context.Background(), true)
	require.Error(t, err)
	assert.False(t, retry.Classify(err).IsTransient())
}

func TestHTTPClient_TimeoutBoundsHungServer(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewHTTPClient(Config{
		BaseURL: srv.URL,
		Timeout: 100 * time.Millisecond,
	}, testLogger())

	start := time.Now()
	_, err := client.ReadGains(context.Background(), model.TargetAltitude)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, retry.Classify(err).IsTransient())
}

func TestHTTPClient_BreakerRejectsAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	}))

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := client.ReadGains(ctx, model.TargetRoll)
		require.Error(t, err)
	}

	before := hits.Load()
	_, err := client.ReadGains(ctx, model.TargetRoll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, before, hits.Load(), "open breaker must not touch the network")
}
