package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/ResourceImport/internal/importer"
)

func TestClient_PostsBatchAsJSON(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]any
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "secret"})
	err := c.Create(context.Background(), []importer.Record{
		{Title: "Guide", URL: "https://example.com", Tags: []string{"a"}, Type: "article", Data: map[string]any{"author": "Ann"}, Row: 2},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	want := []map[string]any{{
		"title": "Guide",
		"url":   "https://example.com",
		"tags":  []any{"a"},
		"type":  "article",
		"data":  map[string]any{"author": "Ann"},
	}}
	if diff := cmp.Diff(want, received); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 2*maxErrorBody), http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(Config{URL: srv.URL}).Create(context.Background(), []importer.Record{{Title: "a"}})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
	if len(se.Body) > maxErrorBody {
		t.Errorf("error body kept %d bytes, want at most %d", len(se.Body), maxErrorBody)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := NewClient(Config{URL: srv.URL, Timeout: 20 * time.Millisecond}).
		Create(context.Background(), []importer.Record{{Title: "a"}})
	if err == nil {
		t.Fatal("Create() should time out")
	}
}

func TestClient_RateLimited(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, RequestsPerSecond: 20, Burst: 1})
	for i := 0; i < 3; i++ {
		if err := c.Create(context.Background(), []importer.Record{{Title: "a"}}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if elapsed := times[2].Sub(times[0]); elapsed < 80*time.Millisecond {
		t.Errorf("3 calls at 20/s took %v, want at least ~100ms", elapsed)
	}
}

func TestClient_WithImporter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	records := make([]importer.Record, 25)
	for i := range records {
		records[i] = importer.Record{Title: "t", Type: "tool", Tags: []string{}, Row: i + 2}
	}

	report, err := importer.New(NewClient(Config{URL: srv.URL}), 10).Run(context.Background(), "tool", records, importer.Options{})
	var te *importer.TransportError
	if !errors.As(err, &te) || te.Batch != 2 {
		t.Fatalf("Run() error = %v, want TransportError on batch 2", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("cause = %v, want 502 StatusError", err)
	}
	if report.CompletedBatches != 1 || calls != 2 {
		t.Errorf("completed %d batches in %d calls, want 1 in 2", report.CompletedBatches, calls)
	}
}
