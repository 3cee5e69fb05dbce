package repository

import (
	"context"
	"time"

	"nbsync/internal/domain"
)

// Run is one recorded reconciliation pass
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempted  int       `json:"attempted"`
	Reconciled int       `json:"reconciled"`
	Failed     int       `json:"failed"`
}

// Duration is the wall time of the run
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutcomeRecord is the stored result of one entity in a run
type OutcomeRecord struct {
	RunID  string `json:"run_id"`
	Entity string `json:"entity"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Stage  string `json:"stage,omitempty"`
	Class  string `json:"class,omitempty"`
	Error  string `json:"error,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Journal records what each pass did. It holds results only; nothing in it
// is read back to decide what a later pass does.
type Journal interface {
	RecordRun(ctx context.Context, summary *domain.BatchSummary) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error)
	Close() error
}
