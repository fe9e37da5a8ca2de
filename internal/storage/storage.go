// Package storage persists the history of benchmark runs.
package storage

import (
	"context"

	"github.com/gateway-fm/txbench/pkg/types"
)

// RunStore defines the persistence interface for run history.
type RunStore interface {
	// SaveRun inserts or replaces a run together with its violation samples.
	SaveRun(ctx context.Context, run *types.RunDetail) error
	// GetRun returns nil without error when no run has the id.
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)
	ListRuns(ctx context.Context, limit, offset int) (*types.RunHistoryResponse, error)
	DeleteRun(ctx context.Context, id string) error

	Close() error
}
