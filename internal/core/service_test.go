package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// target is a Creator that records committed rows. It can block each call
// until released and fail a given call once.
type target struct {
	mu      sync.Mutex
	calls   int
	rows    []int
	failOn  int
	started chan int
	release chan struct{}
}

func (tg *target) Create(ctx context.Context, records []importer.Record) error {
	tg.mu.Lock()
	tg.calls++
	call := tg.calls
	tg.mu.Unlock()

	if tg.started != nil {
		tg.started <- call
	}
	if tg.release != nil {
		<-tg.release
	}

	tg.mu.Lock()
	defer tg.mu.Unlock()
	if call == tg.failOn {
		return errors.New("503 service unavailable")
	}
	for _, r := range records {
		tg.rows = append(tg.rows, r.Row)
	}
	return nil
}

func (tg *target) committed() []int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]int(nil), tg.rows...)
}

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]Run
}

func (m *memoryRuns) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]Run)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRuns) UpdateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return fmt.Errorf("run %s not found", run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRuns) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryPresets struct {
	mu      sync.Mutex
	presets map[string]mapping.Preset
}

func (m *memoryPresets) CreatePreset(_ context.Context, p mapping.Preset) (mapping.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presets == nil {
		m.presets = make(map[string]mapping.Preset)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.presets[p.ID] = p
	return p, nil
}

func (m *memoryPresets) GetPreset(_ context.Context, id string) (mapping.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[id]
	if !ok {
		return mapping.Preset{}, ErrPresetNotFound
	}
	return p, nil
}

func (m *memoryPresets) ListPresets(_ context.Context, rt string) ([]mapping.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mapping.Preset
	for _, p := range m.presets {
		if p.ResourceType == rt {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryPresets) DeletePreset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok {
		return ErrPresetNotFound
	}
	delete(m.presets, id)
	return nil
}

func newTestService(tg *target, opts Options) (*Service, *memoryRuns, *memoryPresets) {
	runs := &memoryRuns{}
	presets := &memoryPresets{}
	reg := builtinRegistry()
	return NewService(reg, importer.New(tg, 10), runs, presets, opts), runs, presets
}

// articles builds a CSV with n valid article rows.
func articles(n int) string {
	var b strings.Builder
	b.WriteString("Title,Author,URL\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Article %d,Author %d,https://example.com/%d\n", i, i, i)
	}
	return b.String()
}

// validated creates a session and takes it through upload and validation.
func validated(t *testing.T, svc *Service, csv string) string {
	t.Helper()
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, "article")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.Upload(ctx, sess.ID, "articles.csv", strings.NewReader(csv)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, _, err := svc.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return sess.ID
}

func wait(t *testing.T, svc *Service, id string) (*importer.Report, error) {
	t.Helper()
	sess, err := svc.Session(id)
	if err != nil {
		t.Fatalf("Session(%s) error = %v", id, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sess.Wait(ctx)
}

func rowRange(from, to int) []int {
	out := []int{}
	for r := from; r <= to; r++ {
		out = append(out, r)
	}
	return out
}

func TestService_ImportCommitsAllBatches(t *testing.T) {
	tg := &target{started: make(chan int, 10), release: make(chan struct{})}
	svc, runs, _ := newTestService(tg, Options{})
	id := validated(t, svc, articles(23))

	view, err := svc.StartImport(context.Background(), id)
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	if view.Stage != StageImport || view.Status != ImportRunning {
		t.Errorf("view after start = %s/%s, want import/running", view.Stage, view.Status)
	}

	<-tg.started
	events, err := svc.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	close(tg.release)

	var last Event
	for ev := range events {
		last = ev
	}
	if last.Status != ImportCompleted {
		t.Errorf("last event status = %q, want completed", last.Status)
	}
	if last.Progress.Percent != 100 {
		t.Errorf("last event percent = %v, want 100", last.Progress.Percent)
	}

	report, err := wait(t, svc, id)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if report.CompletedBatches != 3 || len(report.CommittedRows) != 23 {
		t.Errorf("report = %d batches, %d rows; want 3, 23", report.CompletedBatches, len(report.CommittedRows))
	}
	if diff := cmp.Diff(rowRange(2, 24), tg.committed()); diff != "" {
		t.Errorf("committed rows mismatch (-want +got):\n%s", diff)
	}

	list, _ := runs.ListRuns(context.Background(), 0)
	if len(list) != 1 || list[0].Status != RunCompleted || list[0].CommittedRows != 23 {
		t.Errorf("ledger = %+v, want one completed run with 23 rows", list)
	}
	waitFor(t, func() bool { return svc.Limiter().ActiveCount() == 0 })
}

func TestService_RetryResumesAtFailedBatch(t *testing.T) {
	tg := &target{failOn: 2}
	svc, runs, _ := newTestService(tg, Options{})
	id := validated(t, svc, articles(23))

	if _, err := svc.StartImport(context.Background(), id); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	report, err := wait(t, svc, id)

	var te *importer.TransportError
	if !errors.As(err, &te) || te.Batch != 2 {
		t.Fatalf("import error = %v, want TransportError for batch 2", err)
	}
	if report.CompletedBatches != 1 {
		t.Errorf("CompletedBatches = %d, want 1", report.CompletedBatches)
	}
	if MapError(err).Code != "IMP004" {
		t.Errorf("MapError code = %q, want IMP004", MapError(err).Code)
	}

	sess, _ := svc.Session(id)
	if got := sess.View(); got.Status != ImportFailed || got.Stage != StageImport {
		t.Errorf("after failure = %s/%s, want import/failed", got.Stage, got.Status)
	}

	if _, err := svc.StartImport(context.Background(), id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("StartImport after failure error = %v, want ErrInvalidTransition", err)
	}

	waitFor(t, func() bool { return svc.Limiter().ActiveCount() == 0 })
	if _, err := svc.Retry(context.Background(), id); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	report, err = wait(t, svc, id)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if report.CompletedBatches != 3 {
		t.Errorf("CompletedBatches after retry = %d, want 3", report.CompletedBatches)
	}
	if diff := cmp.Diff(rowRange(2, 24), tg.committed()); diff != "" {
		t.Errorf("rows committed more than once or missing (-want +got):\n%s", diff)
	}

	list, _ := runs.ListRuns(context.Background(), 0)
	statuses := map[RunStatus]int{}
	for _, r := range list {
		statuses[r.Status]++
		if r.Status == RunCompleted && r.StartBatch != 1 {
			t.Errorf("retry run StartBatch = %d, want 1", r.StartBatch)
		}
	}
	if statuses[RunFailed] != 1 || statuses[RunCompleted] != 1 {
		t.Errorf("ledger statuses = %v, want one failed and one completed", statuses)
	}
}

func TestService_RetryRequiresFailure(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	id := validated(t, svc, articles(3))

	if _, err := svc.Retry(context.Background(), id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Retry before import error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.StartImport(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, svc, id); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Retry(context.Background(), id); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry after success error = %v, want ErrNotRetryable", err)
	}
	waitFor(t, func() bool { return svc.Limiter().ActiveCount() == 0 })
}

func TestService_CancelStopsBetweenBatches(t *testing.T) {
	tg := &target{started: make(chan int, 10), release: make(chan struct{})}
	svc, runs, _ := newTestService(tg, Options{})
	id := validated(t, svc, articles(23))

	if _, err := svc.StartImport(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	<-tg.started
	sess, _ := svc.Session(id)

	if err := svc.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(tg.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := sess.Wait(ctx)
	if !errors.Is(err, importer.ErrCancelled) {
		t.Fatalf("import error = %v, want ErrCancelled", err)
	}
	if report.CompletedBatches != 1 {
		t.Errorf("CompletedBatches = %d, want 1", report.CompletedBatches)
	}
	if diff := cmp.Diff(rowRange(2, 11), tg.committed()); diff != "" {
		t.Errorf("committed rows mismatch (-want +got):\n%s", diff)
	}

	waitFor(t, func() bool {
		_, err := svc.Session(id)
		return errors.Is(err, ErrSessionNotFound)
	})
	waitFor(t, func() bool {
		list, _ := runs.ListRuns(context.Background(), 1)
		return len(list) == 1 && list[0].Status == RunCancelled
	})
	waitFor(t, func() bool { return svc.Limiter().ActiveCount() == 0 })
}

func TestService_CancelDiscardsIdleSession(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	id := validated(t, svc, articles(2))

	if err := svc.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := svc.Session(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() error = %v, want ErrSessionNotFound", err)
	}
	if err := svc.Cancel(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Cancel() error = %v, want ErrSessionNotFound", err)
	}
}

func TestService_LimiterRejectsWhenBusy(t *testing.T) {
	tg := &target{started: make(chan int, 10), release: make(chan struct{})}
	svc, _, _ := newTestService(tg, Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	first := validated(t, svc, articles(3))
	second := validated(t, svc, articles(3))

	if _, err := svc.StartImport(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	<-tg.started

	if _, err := svc.StartImport(context.Background(), second); !errors.Is(err, ErrTooManyImports) {
		t.Errorf("second StartImport error = %v, want ErrTooManyImports", err)
	}
	sess, _ := svc.Session(second)
	if got := sess.View(); got.Stage != StageValidation || got.Status != ImportPending {
		t.Errorf("rejected session = %s/%q, want validation with no status", got.Stage, got.Status)
	}

	close(tg.release)
	if _, err := wait(t, svc, first); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return svc.Limiter().ActiveCount() == 0 })
}

func TestService_NoValidRows(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	id := validated(t, svc, "Title,Author\n,nobody\n")

	if _, err := svc.StartImport(context.Background(), id); !errors.Is(err, ErrNoValidRows) {
		t.Errorf("StartImport() error = %v, want ErrNoValidRows", err)
	}
	sess, _ := svc.Session(id)
	if sess.Stage() != StageValidation {
		t.Errorf("stage = %q, want validation", sess.Stage())
	}
}

func TestService_UploadRejectsBadFile(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{MaxFileSize: 64})
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, "article")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty", "", "FILE002"},
		{"header only", "Title,Author\n", "FILE002"},
		{"too large", articles(10), "FILE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := svc.Upload(ctx, sess.ID, "bad.csv", strings.NewReader(tt.body))
			if err == nil {
				t.Fatal("Upload() succeeded, want error")
			}
			if got := MapError(err).Code; got != tt.code {
				t.Errorf("MapError code = %q, want %q", got, tt.code)
			}
			if view.Stage != StageUpload {
				t.Errorf("stage = %q, want upload", view.Stage)
			}
		})
	}
}

func TestService_UnknownResourceType(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	if _, err := svc.CreateSession(context.Background(), "podcast"); !errors.Is(err, catalog.ErrUnknownResourceType) {
		t.Errorf("CreateSession() error = %v, want ErrUnknownResourceType", err)
	}
}

func TestService_Presets(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	ctx := context.Background()
	csv := "Headline,Writer,Link\nA,Ann,https://example.com\n"

	sess, _ := svc.CreateSession(ctx, "article")
	if _, err := svc.Upload(ctx, sess.ID, "a.csv", strings.NewReader(csv)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateMapping(sess.ID, map[string]string{"title": "Headline", "author": "Writer", "url": "Link"}); err != nil {
		t.Fatal(err)
	}
	saved, err := svc.SavePreset(ctx, sess.ID, "newsletter export")
	if err != nil {
		t.Fatalf("SavePreset() error = %v", err)
	}

	other, _ := svc.CreateSession(ctx, "article")
	if _, err := svc.Upload(ctx, other.ID, "b.csv", strings.NewReader("headline,writer,link,extra\nB,Bo,https://example.org,x\n")); err != nil {
		t.Fatal(err)
	}
	matches, err := svc.MatchPresets(ctx, other.ID)
	if err != nil {
		t.Fatalf("MatchPresets() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Preset.ID != saved.ID || matches[0].Score != 1 {
		t.Fatalf("MatchPresets() = %+v, want the saved preset with score 1", matches)
	}

	view, err := svc.ApplyPreset(ctx, other.ID, saved.ID)
	if err != nil {
		t.Fatalf("ApplyPreset() error = %v", err)
	}
	want := mapping.Mapping{"title": "headline", "author": "writer", "url": "link"}
	if diff := cmp.Diff(want, view.Mapping); diff != "" {
		t.Errorf("mapping after preset mismatch (-want +got):\n%s", diff)
	}

	if err := svc.DeletePreset(ctx, saved.ID); err != nil {
		t.Fatalf("DeletePreset() error = %v", err)
	}
	if _, err := svc.ApplyPreset(ctx, other.ID, saved.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("ApplyPreset after delete error = %v, want ErrPresetNotFound", err)
	}
}

func TestService_PresetsDisabled(t *testing.T) {
	reg := builtinRegistry()
	svc := NewService(reg, importer.New(&target{}, 10), nil, nil, Options{})
	id := validated(t, svc, articles(1))

	if _, err := svc.SavePreset(context.Background(), id, "x"); !errors.Is(err, ErrPresetsDisabled) {
		t.Errorf("SavePreset() error = %v, want ErrPresetsDisabled", err)
	}
	list, err := svc.ListPresets(context.Background(), "article")
	if err != nil || len(list) != 0 {
		t.Errorf("ListPresets() = %v, %v; want empty", list, err)
	}
	runs, err := svc.ListRuns(context.Background(), 10)
	if err != nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %v, %v; want empty", runs, err)
	}
}

func TestService_SweepExpiresIdleSessions(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{SessionTTL: time.Minute})
	validated(t, svc, articles(1))
	validated(t, svc, articles(1))

	if n := svc.Sweep(time.Now()); n != 0 {
		t.Errorf("Sweep(now) removed %d, want 0", n)
	}
	if n := svc.Sweep(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("Sweep(+2m) removed %d, want 2", n)
	}
	if svc.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", svc.SessionCount())
	}
}

func TestService_JanitorStopsWithContext(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_ResultsAndFailedRows(t *testing.T) {
	svc, _, _ := newTestService(&target{}, Options{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "article")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	csv := "Title,Author,URL\n" +
		"Good,Ann,https://example.com/a\n" +
		"Missing author,,https://example.com/b\n" +
		"Also good,Bob,https://example.com/c\n"
	if _, err := svc.Upload(ctx, sess.ID, "articles.csv", strings.NewReader(csv)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, _, err := svc.FailedRows(sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FailedRows before validation error = %v, want ErrInvalidTransition", err)
	}

	if _, _, err := svc.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	all, err := svc.Results(sess.ID, false)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(Results) = %d, want 3", len(all))
	}

	problems, err := svc.Results(sess.ID, true)
	if err != nil {
		t.Fatalf("Results(problems) error = %v", err)
	}
	if len(problems) != 1 || problems[0].Row != 3 {
		t.Errorf("problem rows = %+v, want only row 3", problems)
	}

	headers, rows, err := svc.FailedRows(sess.ID)
	if err != nil {
		t.Fatalf("FailedRows() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Title", "Author", "URL"}, headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
	if len(rows) != 1 {
		t.Fatalf("len(FailedRows) = %d, want 1", len(rows))
	}
	if rows[0].Row != 3 || rows[0].Reason == "" {
		t.Errorf("failed row = %+v, want row 3 with a reason", rows[0])
	}
	if diff := cmp.Diff([]string{"Missing author", "", "https://example.com/b"}, rows[0].Cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
}
