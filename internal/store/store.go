// Package store defines the persistence ports for tuning history.
package store

import (
	"context"

	"github.com/rosflight/rosplane2/internal/domain/model"
)

// IterationRepository persists completed tuning iterations for post-flight
// analysis. Implementations must be safe for concurrent use.
type IterationRepository interface {
	// Insert stores one completed iteration.
	Insert(ctx context.Context, rec model.IterationRecord) error

	// ListRecent returns up to limit iterations for target, newest first.
	ListRecent(ctx context.Context, target model.TuningTarget, limit int) ([]model.IterationRecord, error)
}
