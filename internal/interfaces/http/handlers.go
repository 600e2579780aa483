package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantlab/walkforward/internal/persistence"
	"github.com/quantlab/walkforward/internal/registry"
)

// Handlers serves the registry and run-history endpoints. The runs repo
// is optional; without it the run endpoints answer 503.
type Handlers struct {
	reg  registry.Registry
	runs persistence.RunsRepo
}

// NewHandlers creates the handler set
func NewHandlers(reg registry.Registry, runs persistence.RunsRepo) *Handlers {
	return &Handlers{reg: reg, runs: runs}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// writeRegistryError maps registry sentinels onto HTTP statuses
func (h *Handlers) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "artifact_not_found", err.Error())
	case errors.Is(err, registry.ErrConflict):
		h.writeError(w, r, http.StatusConflict, "version_conflict", err.Error())
	default:
		h.writeError(w, r, http.StatusInternalServerError, "registry_error", err.Error())
	}
}

// Health handles liveness checks
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// ListArtifacts handles GET /v1/registry/{family}/artifacts
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	metas, err := h.reg.List(r.Context(), family)
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ArtifactListResponse{
		Family:    family,
		Count:     len(metas),
		Artifacts: metas,
	})
}

// GetArtifact handles GET /v1/registry/{family}/artifacts/{version}.
// The version "latest" resolves to the highest version; ?blob=true
// includes the serialized model state base64-encoded.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	family := vars["family"]
	versionStr := vars["version"]

	var artifact *registry.Artifact
	var err error
	if versionStr == "latest" {
		artifact, err = h.reg.Latest(r.Context(), family)
	} else {
		version, convErr := strconv.Atoi(versionStr)
		if convErr != nil || version < 1 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_version",
				"version must be a positive integer or \"latest\"")
			return
		}
		artifact, err = h.reg.Get(r.Context(), family, version)
	}
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}

	resp := ArtifactResponse{Meta: artifact.Meta}
	if r.URL.Query().Get("blob") == "true" {
		resp.Blob = base64.StdEncoding.EncodeToString(artifact.Blob)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListRunRecords handles GET /v1/runs/{run_id}
func (h *Handlers) ListRunRecords(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled",
			"run history requires database persistence")
		return
	}

	runID := mux.Vars(r)["run_id"]
	records, err := h.runs.ListByRun(r.Context(), runID)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "run_query_failed", err.Error())
		return
	}
	if len(records) == 0 {
		h.writeError(w, r, http.StatusNotFound, "run_not_found", "no records for run "+runID)
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
