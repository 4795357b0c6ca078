package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
	"github.com/JonMunkholm/ResourceImport/internal/validate"
)

// Defaults for Options fields left at zero.
const (
	DefaultSessionTTL     = 2 * time.Hour
	DefaultCompletedGrace = 5 * time.Minute
	DefaultMaxFileSize    = 100 << 20
)

// Options configures a Service.
type Options struct {
	MaxFileSize    int64
	MaxConcurrent  int
	MaxWait        time.Duration
	SessionTTL     time.Duration // Idle sessions older than this are dropped
	CompletedGrace time.Duration // How long a finished session stays readable
}

// Service runs import sessions. It is safe for concurrent use.
type Service struct {
	registry *catalog.Registry
	importer *importer.Importer
	limiter  *ImportLimiter
	runs     RunStore
	presets  PresetStore
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service. runs and presets may be nil, which disables
// the run ledger and saved presets respectively.
func NewService(registry *catalog.Registry, imp *importer.Importer, runs RunStore, presets PresetStore, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.CompletedGrace <= 0 {
		opts.CompletedGrace = DefaultCompletedGrace
	}
	return &Service{
		registry: registry,
		importer: imp,
		limiter:  NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		runs:     runs,
		presets:  presets,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Registry returns the catalog registry the service reads from.
func (s *Service) Registry() *catalog.Registry { return s.registry }

// Limiter returns the import limiter.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// CreateSession starts a session in the upload stage.
func (s *Service) CreateSession(ctx context.Context, resourceType string) (*Session, error) {
	c, err := s.registry.Get(resourceType)
	if err != nil {
		return nil, err
	}

	sess := NewSession(uuid.New().String(), resourceType, c)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	logging.FromContext(ctx).Info("import session created", "session_id", sess.ID, "resource_type", resourceType)
	return sess, nil
}

// Session looks up a live session.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Upload parses a file into the session. A file that cannot be parsed
// leaves the session in the upload stage.
func (s *Service) Upload(ctx context.Context, id, fileName string, r io.Reader) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	if stage := sess.Stage(); stage != StageUpload {
		return View{}, &TransitionError{Op: "upload a file", Stage: stage}
	}

	table, err := parser.Parse(r, parser.Options{FileName: fileName, MaxBytes: s.opts.MaxFileSize})
	if err != nil {
		logging.FromContext(ctx).Warn("upload rejected", "session_id", id, "file", fileName, "error", err)
		return sess.View(), err
	}
	if err := sess.Attach(table); err != nil {
		return View{}, err
	}

	logging.FromContext(ctx).Info("file parsed",
		"session_id", id,
		"file", fileName,
		"rows", len(table.Rows),
		"columns", len(table.Headers),
		"delimiter", string(table.Delimiter),
	)
	return sess.View(), nil
}

// SetResourceType switches a session to another catalog.
func (s *Service) SetResourceType(id, resourceType string) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	c, err := s.registry.Get(resourceType)
	if err != nil {
		return View{}, err
	}
	if err := sess.SetResourceType(resourceType, c); err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// UpdateMapping applies mapping edits.
func (s *Service) UpdateMapping(id string, updates map[string]string) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	if err := sess.UpdateMapping(updates); err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// ResetMapping restores the automatic mapping.
func (s *Service) ResetMapping(id string) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	if err := sess.ResetMapping(); err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// Validate runs row validation for a session.
func (s *Service) Validate(ctx context.Context, id string) (View, []validate.ImportResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, nil, err
	}
	results, err := sess.Validate()
	if err != nil {
		return View{}, nil, err
	}

	view := sess.View()
	logging.FromContext(ctx).Info("rows validated",
		"session_id", id,
		"total", view.Summary.TotalRows,
		"valid", view.Summary.ValidRows,
		"invalid", view.Summary.InvalidRows,
	)
	return view, results, nil
}

// Results returns the session's validation results. With onlyProblems set,
// rows that are valid and carry no warnings are left out.
func (s *Service) Results(id string, onlyProblems bool) ([]validate.ImportResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	results := sess.Results()
	if !onlyProblems {
		return results, nil
	}
	problems := make([]validate.ImportResult, 0, len(results))
	for _, r := range results {
		if !r.Valid || len(r.Warnings) > 0 {
			problems = append(problems, r)
		}
	}
	return problems, nil
}

// FailedRows returns the headers and invalid rows of a validated session.
func (s *Service) FailedRows(id string) ([]string, []FailedRow, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, nil, err
	}
	if stage := sess.Stage(); stage == StageUpload || stage == StageMapping {
		return nil, nil, &TransitionError{Op: "export failed rows", Stage: stage}
	}
	headers, rows := sess.FailedRows()
	return headers, rows, nil
}

// Back moves a session one stage backward.
func (s *Service) Back(id string) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	if _, err := sess.Back(); err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// StartImport commits the session's valid rows in the background.
// Returns ErrTooManyImports when no import slot frees up in time.
func (s *Service) StartImport(ctx context.Context, id string) (View, error) {
	return s.launch(ctx, id, false)
}

// Retry resumes a failed import at its first uncommitted batch.
func (s *Service) Retry(ctx context.Context, id string) (View, error) {
	return s.launch(ctx, id, true)
}

func (s *Service) launch(ctx context.Context, id string, retry bool) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.Background())

	var (
		records    []importer.Record
		startBatch int
		previous   = ImportPending
	)
	if retry {
		previous = ImportFailed
		records, startBatch, err = sess.beginRetry(runID, cancel)
	} else {
		records, err = sess.beginImport(runID, cancel)
	}
	if err != nil {
		cancel()
		return View{}, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		cancel()
		sess.abortStart(previous)
		return View{}, err
	}

	run := Run{
		ID:               runID,
		SessionID:        id,
		ResourceType:     sess.ResourceType(),
		FileName:         sess.View().FileName,
		Status:           RunRunning,
		BatchSize:        s.importer.BatchSize(),
		StartBatch:       startBatch,
		TotalRows:        len(records),
		TotalBatches:     (len(records) + s.importer.BatchSize() - 1) / s.importer.BatchSize(),
		CompletedBatches: startBatch,
		ClientIP:         ClientIPFromContext(ctx),
		StartedAt:        time.Now(),
	}
	s.recordRun(ctx, run, true)

	log := logging.WithFields(ctx, "session_id", id, "run_id", runID, "resource_type", run.ResourceType)
	log.Info("import started", "rows", len(records), "start_batch", startBatch+1, "retry", retry)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import", "session_id", id, "run_id", runID, "panic", r)
				s.complete(sess, &run, nil, fmt.Errorf("internal error: %v", r))
			}
		}()

		report, err := s.importer.Run(runCtx, run.ResourceType, records, importer.Options{
			StartBatch: startBatch,
			OnProgress: func(p importer.Progress) {
				sess.setProgress(p)
				run.CompletedBatches = p.CompletedBatches
				run.CommittedRows = p.CommittedRows
				s.recordRun(context.Background(), run, false)
			},
		})
		s.complete(sess, &run, report, err)
	}()

	return sess.View(), nil
}

// complete closes out a run: session state, listeners, ledger and cleanup.
func (s *Service) complete(sess *Session, run *Run, report *importer.Report, err error) {
	ev := sess.finish(report, err)

	now := time.Now()
	run.FinishedAt = &now
	if report != nil {
		run.CompletedBatches = report.CompletedBatches
		run.CommittedRows = len(report.CommittedRows)
	}
	switch ev.Status {
	case ImportCompleted:
		run.Status = RunCompleted
	case ImportCancelled:
		run.Status = RunCancelled
	default:
		run.Status = RunFailed
		if err != nil {
			run.Error = err.Error()
		}
	}
	s.recordRun(context.Background(), *run, false)

	log := slog.With("session_id", sess.ID, "run_id", run.ID)
	switch ev.Status {
	case ImportCompleted:
		log.Info("import completed", "rows", run.CommittedRows)
		s.cleanup(sess.ID, s.opts.CompletedGrace)
	case ImportCancelled:
		log.Info("import cancelled", "committed_rows", run.CommittedRows)
		s.drop(sess.ID)
	default:
		log.Error("import failed", "committed_rows", run.CommittedRows, "error", err)
	}
}

// recordRun writes the ledger entry. Ledger problems are logged and never
// interrupt the import itself.
func (s *Service) recordRun(ctx context.Context, run Run, create bool) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if create {
		err = s.runs.CreateRun(ctx, run)
	} else {
		err = s.runs.UpdateRun(ctx, run)
	}
	if err != nil {
		slog.Warn("import ledger write failed", "run_id", run.ID, "error", err)
	}
}

// Subscribe returns a channel of progress events. It receives the current
// state immediately and is closed when the running import finishes.
func (s *Service) Subscribe(id string) (<-chan Event, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.subscribe(), nil
}

// Cancel discards a session. A running import stops before its next batch;
// batches already committed stay committed.
func (s *Service) Cancel(ctx context.Context, id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if sess.requestCancel() {
		logging.FromContext(ctx).Info("import cancellation requested", "session_id", id)
		return nil
	}
	s.drop(id)
	logging.FromContext(ctx).Info("import session discarded", "session_id", id)
	return nil
}

func (s *Service) drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() { s.drop(id) })
}

// Sweep drops idle sessions that have no running import. Returns the
// number removed.
func (s *Service) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.running() {
			continue
		}
		if now.Sub(sess.idleSince()) > s.opts.SessionTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps idle sessions every interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				slog.Info("expired idle import sessions", "count", n)
			}
		}
	}
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ListRuns returns recent ledger entries, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.runs == nil {
		return []Run{}, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// ErrPresetsDisabled is returned when no preset store is configured.
var ErrPresetsDisabled = errors.New("saved mappings are not available")

// SavePreset stores the session's current mapping under name.
func (s *Service) SavePreset(ctx context.Context, id, name string) (mapping.Preset, error) {
	if s.presets == nil {
		return mapping.Preset{}, ErrPresetsDisabled
	}
	sess, err := s.Session(id)
	if err != nil {
		return mapping.Preset{}, err
	}

	view := sess.View()
	if len(view.Columns) == 0 {
		return mapping.Preset{}, &TransitionError{Op: "save a mapping", Stage: view.Stage}
	}
	headers := make([]string, len(view.Columns))
	for i, c := range view.Columns {
		headers[i] = c.Header
	}

	return s.presets.CreatePreset(ctx, mapping.Preset{
		ID:           uuid.New().String(),
		ResourceType: view.ResourceType,
		Name:         name,
		Mapping:      view.Mapping,
		Headers:      headers,
	})
}

// ListPresets returns saved mappings for a resource type.
func (s *Service) ListPresets(ctx context.Context, resourceType string) ([]mapping.Preset, error) {
	if s.presets == nil {
		return []mapping.Preset{}, nil
	}
	return s.presets.ListPresets(ctx, resourceType)
}

// MatchPresets suggests saved mappings that fit the session's file.
func (s *Service) MatchPresets(ctx context.Context, id string) ([]mapping.PresetMatch, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	view := sess.View()
	presets, err := s.ListPresets(ctx, view.ResourceType)
	if err != nil {
		return nil, err
	}
	headers := make([]string, len(view.Columns))
	for i, c := range view.Columns {
		headers[i] = c.Header
	}
	return mapping.MatchPresets(presets, headers), nil
}

// ApplyPreset loads a saved mapping into a session.
func (s *Service) ApplyPreset(ctx context.Context, id, presetID string) (View, error) {
	if s.presets == nil {
		return View{}, ErrPresetsDisabled
	}
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	p, err := s.presets.GetPreset(ctx, presetID)
	if err != nil {
		return View{}, err
	}
	if p.ResourceType != sess.ResourceType() {
		return View{}, fmt.Errorf("preset %q is for %s, session imports %s", p.Name, p.ResourceType, sess.ResourceType())
	}
	if err := sess.ApplyPreset(p); err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// DeletePreset removes a saved mapping.
func (s *Service) DeletePreset(ctx context.Context, presetID string) error {
	if s.presets == nil {
		return ErrPresetsDisabled
	}
	return s.presets.DeletePreset(ctx, presetID)
}

// Shutdown waits for running imports to finish or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
