// Package store keeps the ledger of batch runs.
package store

import (
	"context"
	"strings"
	"time"
)

// Stage is the step of a batch a run reached.
type Stage string

// Batch stages, in order.
const (
	StagePrepare  Stage = "prepare"
	StageEngine   Stage = "engine"
	StageValidate Stage = "validate"
	StageDone     Stage = "done"
)

// Status of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Run is one attempt at a batch of states.
type Run struct {
	ID        string    `json:"id"`
	Batch     string    `json:"batch"`
	States    []string  `json:"states"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Batch  string `json:"batch,omitempty"`
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store persists batch runs.
type Store interface {
	CreateRun(ctx context.Context, batch string, states []string) (*Run, error)
	// UpdateRun moves a run to stage with status. errMsg is kept for failures.
	UpdateRun(ctx context.Context, id string, stage Stage, status Status, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func joinStates(states []string) string { return strings.Join(states, ",") }

func splitStates(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func newRun(id, batch string, states []string, now time.Time) *Run {
	return &Run{
		ID:        id,
		Batch:     batch,
		States:    states,
		Stage:     StagePrepare,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
