package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

const sampleYAML = `
catalogs:
  - resource_type: podcast
    label: Podcasts
    fields:
      - {name: title, label: Title, type: text, required: true}
      - {name: url, label: URL, type: text, format: url}
      - {name: hosts, label: Hosts, type: multi-select}
      - name: episode_count
        label: Episode Count
        type: number
`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Catalog{{
		ResourceType: "podcast",
		Label:        "Podcasts",
		Fields: []FieldDefinition{
			{Name: "title", Label: "Title", Type: FieldText, Required: true},
			{Name: "url", Label: "URL", Type: FieldText, Format: FormatURL},
			{Name: "hosts", Label: "Hosts", Type: FieldMultiSelect},
			{Name: "episode_count", Label: "Episode Count", Type: FieldNumber},
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "catalogs: []", "no catalogs"},
		{"unknown key", "catalogs:\n  - resource_type: x\n    feilds: []", "feilds"},
		{"bad type", "catalogs:\n  - resource_type: x\n    fields:\n      - {name: a, type: color}", "unknown type"},
		{"not yaml", "catalogs: [", "parse catalog yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(Builtin())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if diff := cmp.Diff(Builtin(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalogs.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	catalogs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	reg, err := NewRegistry(catalogs...)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, reg)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 10 * time.Millisecond
	reloaded := make(chan error, 4)
	w.OnReload(func(err error) { reloaded <- err })

	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	// Broken file keeps the previous table.
	if err := os.WriteFile(path, []byte("catalogs: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := waitReload(t, reloaded); err == nil {
		t.Fatal("reload of broken file should report an error")
	}
	if !reg.Has("podcast") {
		t.Fatal("broken reload replaced the table")
	}

	updated := strings.Replace(sampleYAML, "resource_type: podcast", "resource_type: video", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	for {
		if err := waitReload(t, reloaded); err == nil && reg.Has("video") {
			break
		}
	}
	if reg.Has("podcast") {
		t.Error("podcast should be gone after reload")
	}
}

func waitReload(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for catalog reload")
		return nil
	}
}
