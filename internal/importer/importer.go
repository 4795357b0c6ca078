// Package importer commits validated records to a create target in ordered,
// strictly sequential batches.
//
// A failed batch halts the run. Batches already committed stay committed;
// there is no compensation step. A later run can resume at the failed batch
// with Options.StartBatch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/ResourceImport/internal/logging"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 10

var (
	ErrNothingToImport = errors.New("no valid rows to import")
	ErrCancelled       = errors.New("import cancelled")
)

// Creator persists one batch of records. The batch succeeds or fails as a whole.
type Creator interface {
	Create(ctx context.Context, records []Record) error
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context, records []Record) error

func (f CreatorFunc) Create(ctx context.Context, records []Record) error { return f(ctx, records) }

// TransportError reports a batch the create target rejected.
type TransportError struct {
	Batch        int   // 1-based index of the failed batch
	TotalBatches int
	Rows         []int // Row numbers in the failed batch
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("batch %d of %d failed: %v", e.Batch, e.TotalBatches, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Progress is reported after every committed batch.
type Progress struct {
	Percent          float64 `json:"percent"`
	CurrentBatch     int     `json:"currentBatch"` // 1-based index of the batch just committed
	CompletedBatches int     `json:"completedBatches"`
	TotalBatches     int     `json:"totalBatches"`
	CommittedRows    int     `json:"committedRows"`
}

// Options controls a single run.
type Options struct {
	// StartBatch skips batches already committed by an earlier run (0-based).
	StartBatch int

	// OnProgress is called synchronously after each committed batch.
	OnProgress func(Progress)
}

// Report describes what a run committed and what it left behind.
type Report struct {
	ResourceType     string        `json:"resourceType"`
	TotalRows        int           `json:"totalRows"`
	TotalBatches     int           `json:"totalBatches"`
	CompletedBatches int           `json:"completedBatches"`
	CommittedRows    []int         `json:"committedRows"`
	PendingRows      []int         `json:"pendingRows"` // Never committed, including the failed batch
	Duration         time.Duration `json:"duration"`
}

// Percent returns completed/total as a percentage.
func (r Report) Percent() float64 {
	if r.TotalBatches == 0 {
		return 0
	}
	return float64(r.CompletedBatches) / float64(r.TotalBatches) * 100
}

// Done reports whether every batch was committed.
func (r Report) Done() bool {
	return r.TotalBatches > 0 && r.CompletedBatches == r.TotalBatches
}

// Importer submits batches to a Creator.
type Importer struct {
	creator   Creator
	batchSize int
}

// New creates an importer. A non-positive batchSize selects DefaultBatchSize.
func New(creator Creator, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{creator: creator, batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (im *Importer) BatchSize() int { return im.batchSize }

// Run submits records batch by batch. Cancellation is observed only between
// batches; a batch already handed to the Creator runs to completion.
//
// The returned Report is always non-nil. On failure the error is a
// *TransportError, or ErrCancelled wrapping the context error.
func (im *Importer) Run(ctx context.Context, resourceType string, records []Record, opts Options) (*Report, error) {
	start := time.Now()
	batches := Batches(records, im.batchSize)

	report := &Report{
		ResourceType:  resourceType,
		TotalRows:     len(records),
		TotalBatches:  len(batches),
		CommittedRows: []int{},
		PendingRows:   []int{},
	}
	defer func() { report.Duration = time.Since(start) }()

	if len(batches) == 0 {
		return report, ErrNothingToImport
	}

	first := max(opts.StartBatch, 0)
	if first > len(batches) {
		first = len(batches)
	}
	report.CompletedBatches = first
	report.CommittedRows = append(report.CommittedRows, rowNumbers(batches[:first])...)

	log := logging.WithFields(ctx, "resource_type", resourceType, "total_batches", len(batches))
	if first > 0 {
		log.Info("resuming import", "start_batch", first+1)
	}

	for i := first; i < len(batches); i++ {
		if err := ctx.Err(); err != nil {
			report.PendingRows = rowNumbers(batches[i:])
			log.Info("import cancelled between batches", "completed_batches", report.CompletedBatches)
			return report, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		batch := batches[i]
		if err := im.creator.Create(context.WithoutCancel(ctx), batch); err != nil {
			report.PendingRows = rowNumbers(batches[i:])
			log.Error("batch failed, halting import",
				"batch", i+1,
				"committed_batches", report.CompletedBatches,
				"error", err,
			)
			return report, &TransportError{
				Batch:        i + 1,
				TotalBatches: len(batches),
				Rows:         rowNumbers(batches[i : i+1]),
				Err:          err,
			}
		}

		report.CompletedBatches++
		report.CommittedRows = append(report.CommittedRows, rowNumbers(batches[i:i+1])...)
		log.Debug("batch committed", "batch", i+1, "rows", len(batch))

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Percent:          report.Percent(),
				CurrentBatch:     i + 1,
				CompletedBatches: report.CompletedBatches,
				TotalBatches:     report.TotalBatches,
				CommittedRows:    len(report.CommittedRows),
			})
		}
	}

	log.Info("import complete", "rows", len(records), "duration", time.Since(start))
	return report, nil
}
