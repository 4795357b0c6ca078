package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
)

// keepAliveInterval is how often an idle progress stream sends a comment
// line so proxies do not close it.
const keepAliveInterval = 15 * time.Second

// handleStartImport starts the batch import in the background. Progress is
// read from the progress stream or by polling the session.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.StartImport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleRetry resumes a failed import at the batch that failed.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleProgress streams import progress as Server-Sent Events.
//
// Each update is a "progress" event carrying a core.Event. When the import
// finishes (or if none is running) a final "complete" event carries the
// last state and the stream ends.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := s.service.Subscribe(id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	var (
		last    core.Event
		eventID int
	)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				writeEvent(w, "complete", eventID+1, last)
				flusher.Flush()
				return
			}
			last = ev
			eventID++
			writeEvent(w, "progress", eventID, ev)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			logging.FromContext(r.Context()).Debug("progress stream closed by client", "session_id", id)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, id int, ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, name, data)
}
