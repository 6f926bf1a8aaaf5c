// Package store keeps the execution history. The default database lives in
// memory, so history does not survive a restart.
package store

import (
	"context"

	"github.com/seantiz/kernelgate/internal/model"
)

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	CountByKernel map[string]int `json:"count_by_kernel"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for execution history.
type Store interface {
	InsertExecution(ctx context.Context, rec *model.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error)
	ListExecutions(ctx context.Context, kernelID string, limit, offset int) ([]*model.ExecutionRecord, int, error)
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)
	Close() error
}
