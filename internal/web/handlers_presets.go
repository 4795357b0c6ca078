package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ResourceImport/internal/mapping"
)

type savePresetRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Name      string `json:"name" validate:"required,max=100"`
}

// handleListPresets returns all saved mappings for a resource type.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	presets, err := s.service.ListPresets(r.Context(), c.ResourceType)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if presets == nil {
		presets = []mapping.Preset{}
	}
	writeJSON(w, http.StatusOK, presets)
}

// handleSavePreset stores a session's current mapping under a name.
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var req savePresetRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.checkSessionType(r, req.SessionID); err != nil {
		respondError(w, r, err)
		return
	}

	preset, err := s.service.SavePreset(r.Context(), req.SessionID, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, preset)
}

// handleMatchPresets ranks saved mappings against the session's file
// headers. Requires ?sessionId= naming a session of the path's type.
func (s *Server) handleMatchPresets(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		respondError(w, r, newBadRequest("missing sessionId parameter"))
		return
	}
	if err := s.checkSessionType(r, sessionID); err != nil {
		respondError(w, r, err)
		return
	}

	matches, err := s.service.MatchPresets(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if matches == nil {
		matches = []mapping.PresetMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleDeletePreset removes a saved mapping.
func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePreset(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkSessionType verifies that the session imports the resource type
// named by the {type} path parameter.
func (s *Server) checkSessionType(r *http.Request, sessionID string) error {
	sess, err := s.service.Session(sessionID)
	if err != nil {
		return err
	}
	if rt := chi.URLParam(r, "type"); sess.ResourceType() != rt {
		return newBadRequest("session imports " + sess.ResourceType() + ", not " + rt)
	}
	return nil
}
