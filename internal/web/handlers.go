package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
	"github.com/JonMunkholm/ResourceImport/internal/template"
)

// statusPingTimeout bounds the database check in /api/status.
const statusPingTimeout = 2 * time.Second

// StatusResponse reports server health.
type StatusResponse struct {
	Status         string             `json:"status"` // "ok" or "degraded"
	Uptime         string             `json:"uptime"`
	Sessions       int                `json:"sessions"`
	Imports        core.LimiterStatus `json:"imports"`
	Database       string             `json:"database"` // "ok", "unavailable" or "disabled"
	Target         string             `json:"target,omitempty"`
	CatalogVersion uint64             `json:"catalogVersion"`
	ResourceTypes  []string           `json:"resourceTypes"`
}

// handleStatus reports session counts, import slots and store health.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:         "ok",
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Sessions:       s.service.SessionCount(),
		Imports:        s.service.Limiter().Status(),
		Database:       "disabled",
		Target:         s.opts.TargetKind,
		CatalogVersion: s.service.Registry().Version(),
		ResourceTypes:  s.service.Registry().Types(),
	}

	if s.opts.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusPingTimeout)
		defer cancel()
		if err := s.opts.Database.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
		} else {
			resp.Database = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleListRuns returns the import ledger, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ResourceTypeSummary is one entry in the resource type list.
type ResourceTypeSummary struct {
	ResourceType string   `json:"resourceType"`
	Label        string   `json:"label"`
	FieldCount   int      `json:"fieldCount"`
	Required     []string `json:"required"`
}

// handleListResourceTypes lists every importable resource type.
func (s *Server) handleListResourceTypes(w http.ResponseWriter, r *http.Request) {
	all := s.service.Registry().All()
	out := make([]ResourceTypeSummary, len(all))
	for i, c := range all {
		out[i] = ResourceTypeSummary{
			ResourceType: c.ResourceType,
			Label:        c.Label,
			FieldCount:   len(c.Fields),
			Required:     c.Required(),
		}
		if out[i].Required == nil {
			out[i].Required = []string{}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetResourceType returns the full field catalog for one type.
func (s *Server) handleGetResourceType(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDownloadTemplate serves the example file for a resource type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", template.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, template.FileName(c.ResourceType)))
	w.WriteHeader(http.StatusOK)
	w.Write(template.Generate(c))
}

// catalog resolves the {type} URL parameter.
func (s *Server) catalog(r *http.Request) (catalog.Catalog, error) {
	return s.service.Registry().Get(chi.URLParam(r, "type"))
}
