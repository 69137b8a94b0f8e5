// Package admin exposes the operator HTTP API: trigger tuning iterations,
// inspect session status, and browse iteration history.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/store"
	"github.com/rosflight/rosplane2/internal/tuner"
)

// IterationRunner is the slice of the tuner session the admin API drives.
type IterationRunner interface {
	RunIteration() (tuner.Receipt, error)
	Status() tuner.Status
	Target() model.TuningTarget
}

// Server provides the HTTP admin API for a tuning session.
type Server struct {
	session IterationRunner
	history store.IterationRepository // nil when no database is configured
	logger  *slog.Logger
}

// NewServer creates the admin API server. history may be nil when
// persistence is disabled.
func NewServer(session IterationRunner, history store.IterationRepository, logger *slog.Logger) *Server {
	return &Server{
		session: session,
		history: history,
		logger:  logger.With("component", "admin"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/v1/iterations", s.handleRunIteration)
	mux.HandleFunc("GET /admin/v1/status", s.handleStatus)
	mux.HandleFunc("GET /admin/v1/history", s.handleHistory)
	return mux
}

func (s *Server) handleRunIteration(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.session.RunIteration()
	switch {
	case errors.Is(err, tuner.ErrBusy):
		writeError(w, http.StatusConflict, "iteration already in progress")
	case errors.Is(err, tuner.ErrFinished):
		writeJSON(w, http.StatusOK, map[string]any{
			"finished": true,
			"status":   s.session.Status(),
		})
	case errors.Is(err, tuner.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "session stopped")
	case err != nil:
		s.logger.Error("iteration request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "iteration failed to arm")
	default:
		msg := "iteration armed"
		if receipt.Degraded {
			msg = "iteration armed; gain write degraded, measurement will be unreliable"
		}
		writeJSON(w, http.StatusAccepted, runIterationResponse{
			IterationID: receipt.ID.String(),
			Gains:       [2]float64(receipt.Gains),
			GainNames:   s.session.Target().GainNames(),
			Degraded:    receipt.Degraded,
			Status:      msg,
		})
	}
}

type runIterationResponse struct {
	IterationID string     `json:"iteration_id"`
	Gains       [2]float64 `json:"gains"`
	GainNames   [2]string  `json:"gain_names"`
	Degraded    bool       `json:"degraded"`
	Status      string     `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "iteration history persistence is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]")
			return
		}
		limit = n
	}

	records, err := s.history.ListRecent(r.Context(), s.session.Target(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	out := make([]iterationResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toIterationResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"target":     s.session.Target().String(),
		"iterations": out,
	})
}

type iterationResponse struct {
	ID             string     `json:"id"`
	Target         string     `json:"target"`
	Gains          [2]float64 `json:"gains"`
	GainNames      [2]string  `json:"gain_names"`
	Cost           float64    `json:"cost"`
	Degraded       bool       `json:"degraded"`
	StateSamples   int        `json:"state_samples"`
	CommandSamples int        `json:"command_samples"`
	DebugSamples   int        `json:"debug_samples"`
	StartedAt      string     `json:"started_at"`
	CompletedAt    string     `json:"completed_at"`
}

func toIterationResponse(rec model.IterationRecord) iterationResponse {
	return iterationResponse{
		ID:             rec.ID.String(),
		Target:         rec.Target.String(),
		Gains:          [2]float64(rec.Gains),
		GainNames:      rec.Target.GainNames(),
		Cost:           rec.Cost,
		Degraded:       rec.Degraded,
		StateSamples:   rec.StateSamples,
		CommandSamples: rec.CommandSamples,
		DebugSamples:   rec.DebugSamples,
		StartedAt:      rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		CompletedAt:    rec.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
