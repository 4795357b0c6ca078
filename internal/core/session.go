package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
	"github.com/JonMunkholm/ResourceImport/internal/validate"
)

// Stage is the step of the import flow a session is in.
//
// Forward: upload → mapping → validation → import.
// Backward: mapping → upload and validation → mapping. Import is final.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageMapping    Stage = "mapping"
	StageValidation Stage = "validation"
	StageImport     Stage = "import"
)

// ImportStatus tracks the batch run once a session reaches StageImport.
type ImportStatus string

const (
	ImportPending   ImportStatus = ""
	ImportRunning   ImportStatus = "running"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
	ImportCancelled ImportStatus = "cancelled"
)

// Event is broadcast to progress subscribers.
type Event struct {
	SessionID string            `json:"sessionId"`
	Stage     Stage             `json:"stage"`
	Status    ImportStatus      `json:"status"`
	Progress  importer.Progress `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Report    *importer.Report  `json:"report,omitempty"`
}

// Session owns all transient state for one upload. Every mutation goes
// through a method that enforces the stage rules.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	stage        Stage
	resourceType string
	catalog      catalog.Catalog
	table        *parser.Table
	mapping      mapping.Mapping
	results      []validate.ImportResult
	records      []importer.Record

	status   ImportStatus
	progress importer.Progress
	report   *importer.Report
	err      error
	runID    string
	cancel   context.CancelFunc
	done     chan struct{}

	listeners []chan Event
	touched   time.Time
}

// NewSession starts a session in the upload stage.
func NewSession(id, resourceType string, c catalog.Catalog) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		stage:        StageUpload,
		resourceType: resourceType,
		catalog:      c,
		mapping:      mapping.Mapping{},
		touched:      now,
	}
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// ResourceType returns the selected resource type.
func (s *Session) ResourceType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resourceType
}

// Mapping returns a copy of the current mapping.
func (s *Session) Mapping() mapping.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Clone()
}

// Results returns the latest validation results.
func (s *Session) Results() []validate.ImportResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validate.ImportResult(nil), s.results...)
}

// FailedRow is an invalid row with its original cells, for export.
type FailedRow struct {
	Row    int
	Reason string
	Cells  []string
}

// FailedRows returns the file's headers and every row that failed
// validation. Both are empty before a file is attached.
func (s *Session) FailedRows() ([]string, []FailedRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return nil, nil
	}
	var rows []FailedRow
	for i, r := range s.results {
		if r.Valid || i >= len(s.table.Rows) {
			continue
		}
		rows = append(rows, FailedRow{
			Row:    r.Row,
			Reason: strings.Join(r.Messages(), "; "),
			Cells:  s.table.Rows[i].Cells,
		})
	}
	return append([]string(nil), s.table.Headers...), rows
}

// Attach stores a parsed file and suggests a mapping. Only allowed in the
// upload stage; on success the session moves to mapping.
func (s *Session) Attach(table *parser.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageUpload {
		return &TransitionError{Op: "upload a file", Stage: s.stage}
	}
	s.table = table
	s.mapping = mapping.AutoMap(s.catalog, table.Headers)
	s.results = nil
	s.stage = StageMapping
	return nil
}

// SetResourceType switches catalogs. The mapping is cleared and, when a
// file is attached, recomputed against the new catalog.
func (s *Session) SetResourceType(resourceType string, c catalog.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageUpload && s.stage != StageMapping {
		return &TransitionError{Op: "change resource type", Stage: s.stage}
	}
	s.resourceType = resourceType
	s.catalog = c
	s.mapping = mapping.Mapping{}
	if s.table != nil {
		s.mapping = mapping.AutoMap(c, s.table.Headers)
	}
	s.results = nil
	return nil
}

// UpdateMapping applies user edits. An empty header unmaps a field.
func (s *Session) UpdateMapping(updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageMapping {
		return &TransitionError{Op: "edit the mapping", Stage: s.stage}
	}
	m, err := s.mapping.Apply(updates, s.catalog, s.table.Headers)
	if err != nil {
		return err
	}
	s.mapping = m
	return nil
}

// ResetMapping discards edits and restores the automatic suggestion.
func (s *Session) ResetMapping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageMapping {
		return &TransitionError{Op: "reset the mapping", Stage: s.stage}
	}
	s.mapping = mapping.AutoMap(s.catalog, s.table.Headers)
	return nil
}

// ApplyPreset replaces the mapping with a saved preset.
func (s *Session) ApplyPreset(p mapping.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageMapping {
		return &TransitionError{Op: "apply a preset", Stage: s.stage}
	}
	s.mapping = p.ApplyTo(s.catalog, s.table.Headers)
	return nil
}

// Validate coerces and checks every row. Allowed from mapping, and again
// from validation to re-run against the same mapping.
func (s *Session) Validate() ([]validate.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageMapping && s.stage != StageValidation {
		return nil, &TransitionError{Op: "validate", Stage: s.stage}
	}
	s.results = validate.Rows(s.catalog, s.mapping, s.table.Rows)
	s.stage = StageValidation
	return append([]validate.ImportResult(nil), s.results...), nil
}

// Back moves one stage backward: validation → mapping, mapping → upload.
func (s *Session) Back() (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	switch s.stage {
	case StageValidation:
		s.results = nil
		s.stage = StageMapping
	case StageMapping:
		s.table = nil
		s.mapping = mapping.Mapping{}
		s.stage = StageUpload
	default:
		return s.stage, &TransitionError{Op: "go back", Stage: s.stage}
	}
	return s.stage, nil
}

// beginImport moves validation → import and snapshots the valid records.
func (s *Session) beginImport(runID string, cancel context.CancelFunc) ([]importer.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageValidation {
		return nil, &TransitionError{Op: "start an import", Stage: s.stage}
	}
	records := importer.Records(s.resourceType, s.results)
	if len(records) == 0 {
		return nil, ErrNoValidRows
	}

	s.records = records
	s.stage = StageImport
	s.start(runID, cancel)
	return records, nil
}

// beginRetry restarts a failed import at the first uncommitted batch.
func (s *Session) beginRetry(runID string, cancel context.CancelFunc) ([]importer.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.stage != StageImport {
		return nil, 0, &TransitionError{Op: "retry", Stage: s.stage}
	}
	if s.status == ImportRunning {
		return nil, 0, ErrImportInProgress
	}
	if s.status != ImportFailed || s.report == nil {
		return nil, 0, ErrNotRetryable
	}

	startBatch := s.report.CompletedBatches
	s.start(runID, cancel)
	return s.records, startBatch, nil
}

func (s *Session) start(runID string, cancel context.CancelFunc) {
	s.status = ImportRunning
	s.runID = runID
	s.cancel = cancel
	s.err = nil
	s.done = make(chan struct{})
}

// abortStart rolls back a start that could not get an import slot.
func (s *Session) abortStart(previous ImportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if previous == ImportPending {
		s.stage = StageValidation
		s.records = nil
	}
	s.status = previous
	s.cancel = nil
	close(s.done)
}

func (s *Session) setProgress(p importer.Progress) {
	s.mu.Lock()
	s.progress = p
	ev := s.eventLocked()
	s.mu.Unlock()
	s.notify(ev)
}

// finish records the run outcome, notifies and closes all listeners.
func (s *Session) finish(report *importer.Report, err error) Event {
	s.mu.Lock()
	s.report = report
	s.err = err
	switch {
	case err == nil:
		s.status = ImportCompleted
	case isCancellation(err):
		s.status = ImportCancelled
	default:
		s.status = ImportFailed
	}
	if report != nil {
		s.progress.TotalBatches = report.TotalBatches
		s.progress.CompletedBatches = report.CompletedBatches
		s.progress.CommittedRows = len(report.CommittedRows)
		s.progress.Percent = report.Percent()
	}
	s.cancel = nil
	ev := s.eventLocked()
	listeners := s.listeners
	s.listeners = nil
	done := s.done
	s.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
	close(done)
	return ev
}

// requestCancel stops the run before its next batch. Returns false if no
// run is active.
func (s *Session) requestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != ImportRunning || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// subscribe registers a listener. The current state is sent immediately.
// If no run is active the channel is closed after that first event.
func (s *Session) subscribe() <-chan Event {
	ch := make(chan Event, 10)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.eventLocked()
	if s.status == ImportRunning {
		s.listeners = append(s.listeners, ch)
	} else {
		close(ch)
	}
	return ch
}

// notify sends without blocking; slow listeners miss intermediate updates.
func (s *Session) notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Wait blocks until the active run finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (*importer.Report, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil, ErrNoImport
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.err
}

func (s *Session) eventLocked() Event {
	ev := Event{
		SessionID: s.ID,
		Stage:     s.stage,
		Status:    s.status,
		Progress:  s.progress,
		Report:    s.report,
	}
	if s.err != nil {
		ev.Error = s.err.Error()
	}
	return ev
}

func (s *Session) touch() { s.touched = time.Now() }

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == ImportRunning
}

func isCancellation(err error) bool {
	return errors.Is(err, importer.ErrCancelled)
}

// View is a read-only snapshot of a session for API responses.
type View struct {
	ID               string              `json:"id"`
	ResourceType     string              `json:"resourceType"`
	Stage            Stage               `json:"stage"`
	Status           ImportStatus        `json:"status,omitempty"`
	FileName         string              `json:"fileName,omitempty"`
	Delimiter        string              `json:"delimiter,omitempty"`
	Columns          []parser.ColumnInfo `json:"columns"`
	RowCount         int                 `json:"rowCount"`
	Mapping          mapping.Mapping     `json:"mapping"`
	Unmapped         []string            `json:"unmapped"`
	RequiredUnmapped []string            `json:"requiredUnmapped"`
	Summary          *validate.Summary   `json:"summary,omitempty"`
	Progress         importer.Progress   `json:"progress"`
	Report           *importer.Report    `json:"report,omitempty"`
	RunID            string              `json:"runId,omitempty"`
	Error            string              `json:"error,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:           s.ID,
		ResourceType: s.resourceType,
		Stage:        s.stage,
		Status:       s.status,
		Columns:      []parser.ColumnInfo{},
		Mapping:      s.mapping.Clone(),
		Unmapped:     s.mapping.Unmapped(s.catalog),
		Progress:     s.progress,
		Report:       s.report,
		RunID:        s.runID,
		CreatedAt:    s.CreatedAt,
	}
	for _, name := range v.Unmapped {
		if f, ok := s.catalog.Field(name); ok && f.Required {
			v.RequiredUnmapped = append(v.RequiredUnmapped, name)
		}
	}
	if s.table != nil {
		v.FileName = s.table.FileName
		v.Delimiter = string(s.table.Delimiter)
		v.Columns = s.table.Columns
		v.RowCount = len(s.table.Rows)
	}
	if s.results != nil {
		summary := validate.Summarize(s.results)
		v.Summary = &summary
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}
