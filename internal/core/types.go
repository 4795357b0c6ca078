package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/ResourceImport/internal/mapping"
)

// RunStatus is the ledger state of one import run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one ledger entry. A retry of a failed run is a new Run that
// starts at the failed batch.
type Run struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"sessionId"`
	ResourceType     string     `json:"resourceType"`
	FileName         string     `json:"fileName"`
	Status           RunStatus  `json:"status"`
	BatchSize        int        `json:"batchSize"`
	StartBatch       int        `json:"startBatch"`
	TotalRows        int        `json:"totalRows"`
	TotalBatches     int        `json:"totalBatches"`
	CompletedBatches int        `json:"completedBatches"`
	CommittedRows    int        `json:"committedRows"`
	Error            string     `json:"error,omitempty"`
	ClientIP         string     `json:"clientIp,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// RunStore persists the import-run ledger.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// PresetStore persists saved mappings. GetPreset and DeletePreset return
// ErrPresetNotFound for unknown IDs.
type PresetStore interface {
	CreatePreset(ctx context.Context, p mapping.Preset) (mapping.Preset, error)
	GetPreset(ctx context.Context, id string) (mapping.Preset, error)
	ListPresets(ctx context.Context, resourceType string) ([]mapping.Preset, error)
	DeletePreset(ctx context.Context, id string) error
}
