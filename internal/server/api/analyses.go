// Package api provides HTTP API handlers for analysis runs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/shuttlespeed/internal/analysis"
	"github.com/ayusman/shuttlespeed/internal/app"
	"github.com/ayusman/shuttlespeed/internal/store"
	"github.com/ayusman/shuttlespeed/internal/units"
)

// Runner starts and stops background analyses.
type Runner interface {
	Start(req app.Request) (string, error)
	Cancel(id string) error
	Forget(id string)
}

// AnalysisHandler handles HTTP requests for analysis resources.
type AnalysisHandler struct {
	store  *store.Store
	runner Runner
}

// NewAnalysisHandler creates a new AnalysisHandler. runner may be nil, in
// which case analyses can be read but not started or cancelled.
func NewAnalysisHandler(s *store.Store, runner Runner) *AnalysisHandler {
	return &AnalysisHandler{store: s, runner: runner}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *AnalysisHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/analyses, /api/analyses/{id},
	// /api/analyses/{id}/frames and /api/analyses/{id}/cancel
	path := strings.TrimPrefix(r.URL.Path, "/api/analyses")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "frames":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.frames(w, r, id)

	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.cancel(w, r, id)

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Request and response types

type createAnalysisRequest struct {
	Source         string  `json:"source"`
	MetersPerPixel float64 `json:"meters_per_pixel"`
}

type listAnalysesResponse struct {
	Analyses []*store.Analysis `json:"analyses"`
}

type framesResponse struct {
	AnalysisID string        `json:"analysis_id"`
	Units      string        `json:"units,omitempty"`
	Frames     []frameRecord `json:"frames"`
}

// frameRecord adds the speed converted to the requested units.
type frameRecord struct {
	analysis.FrameRecord
	Speed *float64 `json:"speed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/analyses and returns all analyses, newest first.
func (h *AnalysisHandler) list(w http.ResponseWriter, r *http.Request) {
	analyses, err := h.store.Analyses().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list analyses")
		return
	}

	if analyses == nil {
		analyses = []*store.Analysis{}
	}
	writeJSON(w, http.StatusOK, listAnalysesResponse{Analyses: analyses})
}

// get handles GET /api/analyses/{id} and returns a single analysis.
func (h *AnalysisHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.store.Analyses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get analysis")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// create handles POST /api/analyses and starts a new analysis.
func (h *AnalysisHandler) create(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "Analysis runner not configured")
		return
	}

	var req createAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "Source is required")
		return
	}

	id, err := h.runner.Start(app.Request{Source: req.Source, MetersPerPixel: req.MetersPerPixel})
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	a, err := h.store.Analyses().GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusAccepted, a)
}

// delete handles DELETE /api/analyses/{id}, stopping the run if needed.
func (h *AnalysisHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if h.runner != nil {
		h.runner.Forget(id)
	}

	err := h.store.Analyses().Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete analysis")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// frames handles GET /api/analyses/{id}/frames and returns the track records.
// An optional ?units= query adds each speed converted to those units.
func (h *AnalysisHandler) frames(w http.ResponseWriter, r *http.Request, id string) {
	unit := r.URL.Query().Get("units")
	if unit != "" && !units.IsValid(unit) {
		writeError(w, http.StatusBadRequest, "Invalid units, must be one of: "+units.GetValidUnitsString())
		return
	}

	if _, err := h.store.Analyses().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get analysis")
		return
	}

	records, err := h.store.Frames().GetByAnalysisID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get frames")
		return
	}

	frames := make([]frameRecord, len(records))
	for i, rec := range records {
		frames[i].FrameRecord = rec
		if unit != "" && rec.SpeedKmh != nil {
			speed := units.FromKMPH(*rec.SpeedKmh, unit)
			frames[i].Speed = &speed
		}
	}
	writeJSON(w, http.StatusOK, framesResponse{AnalysisID: id, Units: unit, Frames: frames})
}

// cancel handles POST /api/analyses/{id}/cancel.
func (h *AnalysisHandler) cancel(w http.ResponseWriter, r *http.Request, id string) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "Analysis runner not configured")
		return
	}

	a, err := h.store.Analyses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get analysis")
		return
	}

	if a.Status.Done() {
		writeError(w, http.StatusConflict, "Analysis is not running")
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		if errors.Is(err, app.ErrUnknownAnalysis) {
			writeError(w, http.StatusConflict, "Analysis is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to cancel analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}
