package store

import (
	"context"

	"github.com/kwonjuyong/stagehand/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run history.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error)
	ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error)
	LatestRun(ctx context.Context, project string) (*domain.Run, error)

	// Stage record operations
	CreateStageRecord(ctx context.Context, rec *domain.StageRecord) error
	UpdateStageRecord(ctx context.Context, rec *domain.StageRecord) error
	ListStageRecords(ctx context.Context, runID string) ([]domain.StageRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
