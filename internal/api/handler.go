// Package api provides the HTTP handlers and routing for the simulation service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"simcontroller/internal/apperrors"
	"simcontroller/internal/health"
	"simcontroller/internal/mapping"
	"simcontroller/internal/simulation"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// SemanticMappingsHeader names the mapping that annotates a result.
const SemanticMappingsHeader = "x-semantic-mappings"

// HeartbeatMessage is the body of GET /heartbeat.
const HeartbeatMessage = "SimPARTIX app up and running"

// Simulations is the registry surface the handlers need.
type Simulations interface {
	Create(ctx context.Context, params simulation.Parameters, cb *simulation.Callback) (string, error)
	Run(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	State(ctx context.Context, id string) (simulation.Status, error)
	Get(ctx context.Context, id string) (simulation.Info, error)
	Output(ctx context.Context, id string) (*simulation.Result, error)
	List(ctx context.Context) []simulation.Summary
}

// Handler contains HTTP handlers for the simulation API
type Handler struct {
	sims   Simulations
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(sims Simulations, healthChecker *health.Checker) *Handler {
	return &Handler{
		sims:   sims,
		health: healthChecker,
	}
}

// createRequest is the body of POST /transformations. Omitted parameters
// take their defaults.
type createRequest struct {
	LaserPower        *float64             `json:"laserPower"`
	LaserSpeed        *float64             `json:"laserSpeed"`
	SphereDiameter    *float64             `json:"sphereDiameter"`
	Phi               *float64             `json:"phi"`
	PowderLayerHeight *float64             `json:"powderLayerHeight"`
	Callback          *simulation.Callback `json:"callback,omitempty"`
}

func (req *createRequest) parameters() simulation.Parameters {
	p := simulation.DefaultParameters()
	override(&p.LaserPower, req.LaserPower)
	override(&p.LaserSpeed, req.LaserSpeed)
	override(&p.SphereDiameter, req.SphereDiameter)
	override(&p.Phi, req.Phi)
	override(&p.PowderLayerHeight, req.PowderLayerHeight)
	return p
}

func override(dst, src *float64) {
	if src != nil {
		*dst = *src
	}
}

type updateRequest struct {
	State string `json:"state"`
}

type stateResponse struct {
	ID    string            `json:"id"`
	State simulation.Status `json:"state"`
}

// Heartbeat handles GET /heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HeartbeatMessage)
}

// CreateSimulation handles POST /transformations
func (h *Handler) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req createRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := h.sims.Create(r.Context(), req.parameters(), req.Callback)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ListSimulations handles GET /transformations
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"items": h.sims.List(r.Context())})
}

// GetSimulation handles GET /transformations/{id}
func (h *Handler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	info, err := h.sims.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// GetState handles GET /transformations/{id}/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := h.sims.State(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stateResponse{ID: id, State: state})
}

// UpdateState handles PATCH /transformations/{id}. RUNNING starts a run,
// STOPPED stops it; any other state is rejected.
func (h *Handler) UpdateState(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	state, err := simulation.ParseStatus(req.State)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a supported state", req.State))
		return
	}

	switch state {
	case simulation.StatusRunning:
		err = h.sims.Run(r.Context(), id)
	case simulation.StatusStopped:
		err = h.sims.Stop(r.Context(), id)
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a supported state", req.State))
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stateResponse{ID: id, State: state})
}

// DeleteSimulation handles DELETE /transformations/{id}
func (h *Handler) DeleteSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sims.Delete(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": fmt.Sprintf("Simulation '%s' deleted successfully!", id),
	})
}

// GetResult handles GET /results?collection_name=...&dataset_name=<id>.
// The dataset name is the simulation id; the collection name is accepted
// for compatibility and not used.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("collection_name") == "" || query.Get("dataset_name") == "" {
		h.writeError(w, http.StatusBadRequest, "collection_name and dataset_name are required")
		return
	}

	result, err := h.sims.Output(r.Context(), query.Get("dataset_name"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set(SemanticMappingsHeader, mapping.SimpartixOutput)
	h.writeJSON(w, http.StatusOK, result)
}

// ListMappings handles GET /mappings
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	ids, err := mapping.IDs()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ids)
}

// GetMapping handles GET /mappings/{mappingId}
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("mappingId")
	m, ok, err := mapping.Get(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !ok {
		h.handleError(w, r, apperrors.NotFound("mapping", id))
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while shutting down or when a required dependency is down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps registry errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if errors.Is(err, simulation.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
