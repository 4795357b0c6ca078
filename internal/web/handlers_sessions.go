package web

import (
	"encoding/csv"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
	"github.com/JonMunkholm/ResourceImport/internal/validate"
)

// multipartMemory is the part of a multipart upload held in memory; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// multipartOverhead allows for form boundaries and other fields on top of
// the file itself.
const multipartOverhead = 1 << 20

// ValidateResponse is returned by the validate endpoint.
type ValidateResponse struct {
	Session core.View               `json:"session"`
	Results []validate.ImportResult `json:"results,omitempty"`
}

type resourceTypeRequest struct {
	ResourceType string `json:"resourceType" validate:"required"`
}

type mappingRequest struct {
	// Field name → file header. An empty header unmaps the field.
	Mapping map[string]string `json:"mapping" validate:"required"`
}

// parseUploadForm reads a multipart body no larger than the upload limit
// plus form overhead. Callers remove the form's temporary files.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return parser.ErrFileTooLarge
		}
		return newBadRequest("invalid multipart form")
	}
	return nil
}

// formFile returns the "file" part of a parsed upload form.
func formFile(r *http.Request) (multipart.File, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", core.ErrNoFile
	}
	return file, header.Filename, nil
}

// handleCreateSession starts a session from a multipart upload with a
// "file" part and a "resourceType" field. A file that cannot be parsed
// still creates the session, left in the upload stage; the error response
// carries its id so the file can be replaced with PUT .../file.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := resourceTypeRequest{ResourceType: r.FormValue("resourceType")}
	if err := s.validateRequest(&req); err != nil {
		respondError(w, r, err)
		return
	}

	file, fileName, err := formFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	sess, err := s.service.CreateSession(r.Context(), req.ResourceType)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	view, err := s.service.Upload(r.Context(), sess.ID, fileName, file)
	if err != nil {
		respondError(w, r, &sessionError{sessionID: sess.ID, err: err})
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleReplaceFile uploads a file into a session in the upload stage,
// either after a rejected file or after stepping back from mapping.
func (s *Server) handleReplaceFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.service.Session(id); err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.parseUploadForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, fileName, err := formFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	view, err := s.service.Upload(r.Context(), id, fileName, file)
	if err != nil {
		respondError(w, r, &sessionError{sessionID: id, err: err})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleGetSession returns the current session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleCancelSession cancels a running import or discards an idle session.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetResourceType switches the session to another catalog.
func (s *Server) handleSetResourceType(w http.ResponseWriter, r *http.Request) {
	var req resourceTypeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	s.respondView(w, r)(s.service.SetResourceType(chi.URLParam(r, "id"), req.ResourceType))
}

// handleUpdateMapping applies mapping edits.
func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	s.respondView(w, r)(s.service.UpdateMapping(chi.URLParam(r, "id"), req.Mapping))
}

// handleResetMapping restores the automatic mapping.
func (s *Server) handleResetMapping(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.service.ResetMapping(chi.URLParam(r, "id")))
}

// handleApplyPreset loads a saved mapping into the session.
func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.service.ApplyPreset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "presetID")))
}

// handleBack steps the session back one stage.
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.service.Back(chi.URLParam(r, "id")))
}

// handleValidate runs row validation. Pass ?results=true to include every
// row result, otherwise only the summary is returned.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	view, results, err := s.service.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := ValidateResponse{Session: view}
	if parseBoolParam(r, "results") {
		resp.Results = results
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResults returns validation results; ?problems=true keeps only rows
// with errors or warnings.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.Results(chi.URLParam(r, "id"), parseBoolParam(r, "problems"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if results == nil {
		results = []validate.ImportResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleExportFailedRows downloads the invalid rows as CSV with the row
// number and reasons prepended, so they can be fixed and uploaded again.
func (s *Server) handleExportFailedRows(w http.ResponseWriter, r *http.Request) {
	headers, rows, err := s.service.FailedRows(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("failed_rows_%s.csv", timestamp)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write(append([]string{"_row", "_error"}, headers...))
	for _, row := range rows {
		csvWriter.Write(append([]string{strconv.Itoa(row.Row), row.Reason}, row.Cells...))
	}
	csvWriter.Flush()

	if err := csvWriter.Error(); err != nil {
		logging.FromContext(r.Context()).Error("failed row export interrupted", "error", err)
	}
}

// respondView adapts a (View, error) service result into a response.
func (s *Server) respondView(w http.ResponseWriter, r *http.Request) func(core.View, error) {
	return func(view core.View, err error) {
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
