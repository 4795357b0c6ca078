package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
)

const mixedCSV = "Title,Author,URL\n" +
	"Good,Ann,https://example.com/a\n" +
	"Missing author,,https://example.com/b\n"

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CATALOG_PATH", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTypesCmd(t *testing.T) {
	out, _, err := execute(t, "types")
	if err != nil {
		t.Fatalf("types error = %v", err)
	}
	for _, want := range []string{"TYPE", "article", "dataset", "tool", "title, author"} {
		if !strings.Contains(out, want) {
			t.Errorf("types output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "types", "-v")
	if err != nil {
		t.Fatalf("types -v error = %v", err)
	}
	if !strings.Contains(out, "reading_time") {
		t.Errorf("types -v should list fields:\n%s", out)
	}
}

func TestTemplateCmd(t *testing.T) {
	out, _, err := execute(t, "template", "article")
	if err != nil {
		t.Fatalf("template error = %v", err)
	}
	if !strings.HasPrefix(out, `"Title","URL"`) {
		t.Errorf("template output = %q", out)
	}

	path := filepath.Join(t.TempDir(), "articles.csv")
	if _, _, err := execute(t, "template", "article", "-o", path); err != nil {
		t.Fatalf("template -o error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != out {
		t.Error("file contents differ from stdout output")
	}

	if _, _, err := execute(t, "template", "podcast"); !errors.Is(err, catalog.ErrUnknownResourceType) {
		t.Errorf("template podcast error = %v, want ErrUnknownResourceType", err)
	}
}

func TestValidateCmd(t *testing.T) {
	path := writeFile(t, "mixed.csv", mixedCSV)

	out, _, err := execute(t, "validate", path, "--type", "article")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	for _, want := range []string{"2 rows, 1 valid, 1 invalid", `author <- "Author"`, "row 3: error:"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}

	if _, _, err := execute(t, "validate", path, "--type", "article", "--strict"); !errors.Is(err, errInvalidRows) {
		t.Errorf("validate --strict error = %v, want errInvalidRows", err)
	}

	if _, _, err := execute(t, "validate", path); err == nil || !strings.Contains(err.Error(), `"type"`) {
		t.Errorf("validate without --type error = %v", err)
	}
}

func TestValidateCmd_JSONWithOverride(t *testing.T) {
	path := writeFile(t, "notes.csv", "Name,Writer,Notes\nA,Ann,short\n")

	out, _, err := execute(t, "validate", path, "--type", "article", "--map", "title=Name,author=Writer,summary=Notes", "--json")
	if err != nil {
		t.Fatalf("validate --json error = %v", err)
	}

	var report validateReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Summary.ValidRows != 1 || report.Summary.InvalidRows != 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if got := report.Mapping["summary"]; got != "Notes" {
		t.Errorf("summary mapped to %q, want Notes", got)
	}
	if len(report.Problems) != 0 {
		t.Errorf("problems = %+v, want none", report.Problems)
	}
}

func TestImportCmd_TargetFlagLeavesEnvironment(t *testing.T) {
	t.Setenv("TARGET_KIND", "")
	t.Setenv("DATABASE_URL", "")
	path := writeFile(t, "mixed.csv", mixedCSV)

	_, _, err := execute(t, "import", path, "--type", "article", "--target", "ftp")
	if err == nil || !strings.Contains(err.Error(), `TARGET_KIND ("ftp")`) {
		t.Errorf("import --target ftp error = %v, want the flag value validated", err)
	}
	if got := os.Getenv("TARGET_KIND"); got != "" {
		t.Errorf("TARGET_KIND = %q after the command, want it untouched", got)
	}
}

func TestRunImport(t *testing.T) {
	reg, err := catalog.NewRegistry(catalog.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu     sync.Mutex
		titles []string
	)
	creator := importer.CreatorFunc(func(ctx context.Context, records []importer.Record) error {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range records {
			titles = append(titles, r.Title)
		}
		return nil
	})
	svc := core.NewService(reg, importer.New(creator, 1), nil, nil, core.Options{MaxConcurrent: 1})

	path := writeFile(t, "mixed.csv", mixedCSV)
	var out, errOut bytes.Buffer
	err = runImport(context.Background(), svc, path, fileOptions{resourceType: "article"}, &out, &errOut)
	if err != nil {
		t.Fatalf("runImport() error = %v\nstderr: %s", err, errOut.String())
	}

	if diff := cmp.Diff([]string{"Good"}, titles); diff != "" {
		t.Errorf("imported titles mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "imported 1 of 1 rows in 1 of 1 batches") {
		t.Errorf("report output = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "2 rows: 1 valid, 1 invalid") {
		t.Errorf("progress output = %q", errOut.String())
	}
}

func TestFormatRows(t *testing.T) {
	tests := []struct {
		rows []int
		want string
	}{
		{nil, ""},
		{[]int{4}, "4"},
		{[]int{2, 3, 4, 5, 9, 11, 12}, "2-5, 9, 11-12"},
	}
	for _, tt := range tests {
		if got := formatRows(tt.rows); got != tt.want {
			t.Errorf("formatRows(%v) = %q, want %q", tt.rows, got, tt.want)
		}
	}
}
