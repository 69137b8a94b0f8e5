package postgres

import (
	"context"
	"fmt"

	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/store"
)

type IterationRepo struct {
	db *DB
}

var _ store.IterationRepository = (*IterationRepo)(nil)

func NewIterationRepo(db *DB) *IterationRepo {
	return &IterationRepo{db: db}
}

func (r *IterationRepo) Insert(ctx context.Context, rec model.IterationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO autotune_iterations
			(id, target, gain_a, gain_b, cost, degraded,
			 state_samples, command_samples, debug_samples, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Target, rec.Gains[0], rec.Gains[1], rec.Cost, rec.Degraded,
		rec.StateSamples, rec.CommandSamples, rec.DebugSamples, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}

func (r *IterationRepo) ListRecent(ctx context.Context, target model.TuningTarget, limit int) ([]model.IterationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, target, gain_a, gain_b, cost, degraded,
		       state_samples, command_samples, debug_samples, started_at, completed_at
		FROM autotune_iterations
		WHERE target = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []model.IterationRecord
	for rows.Next() {
		var rec model.IterationRecord
		if err := rows.Scan(
			&rec.ID, &rec.Target, &rec.Gains[0], &rec.Gains[1], &rec.Cost, &rec.Degraded,
			&rec.StateSamples, &rec.CommandSamples, &rec.DebugSamples, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return out, nil
}
