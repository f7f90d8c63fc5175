package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/domain"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	diagnoser *catalog.Diagnoser
	catalogs  *catalog.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, diagnoser *catalog.Diagnoser, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     c,
		bus:       bus,
		diagnoser: diagnoser,
		catalogs:  diagnoser.Catalogues(),
		version:   version,
	}
}

// DiagnoseBody is the request body for POST /catalogues/{catalogue}/diagnose.
type DiagnoseBody struct {
	Answers      map[string]any     `json:"answers"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// ExplainBody is the request body for POST /catalogues/{catalogue}/explain.
type ExplainBody struct {
	DiagnoseBody
	Condition string `json:"condition"`
}

// CatalogueBody is the request body for PUT /catalogues/{catalogue}.
type CatalogueBody struct {
	Conditions []domain.Condition `json:"conditions"`
}

// HealthResponse is returned by /health. Cache is set when the cache
// exposes LRU statistics.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Cache   *cache.LRUStats `json:"cache,omitempty"`
}

// AcceptedResponse is returned for asynchronous diagnose requests.
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
	TraceID   string `json:"traceId"`
	Topic     string `json:"topic"`
}

// Diagnose handles POST /catalogues/{catalogue}/diagnose. With ?async=true
// and an event bus the request is handed to the worker and 202 is returned.
func (h *Handler) Diagnose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body DiagnoseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req := &domain.DiagnoseRequest{
		CatalogueID:  GetCatalogueID(ctx),
		Answers:      body.Answers,
		Measurements: body.Measurements,
		TraceID:      GetTraceID(ctx),
	}

	if r.URL.Query().Get("async") == "true" {
		h.diagnoseAsync(w, r, req)
		return
	}

	diag, err := h.diagnoser.Diagnose(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, diag)
}

func (h *Handler) diagnoseAsync(w http.ResponseWriter, r *http.Request, req *domain.DiagnoseRequest) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	// Fail fast on catalogues the worker cannot resolve either.
	if _, err := h.catalogs.RuleBase(r.Context(), req.CatalogueID); err != nil {
		writeError(w, err)
		return
	}

	req.RequestID = uuid.New().String()
	if req.TraceID == "" {
		req.TraceID = req.RequestID
	}

	payload, _ := json.Marshal(req)
	if err := h.bus.Publish(r.Context(), domain.ScopeGlobal, domain.TopicDiagnosisRequest, payload); err != nil {
		slog.Error("failed to publish diagnose request",
			"catalogue_id", req.CatalogueID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue diagnose request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: req.RequestID,
		TraceID:   req.TraceID,
		Topic:     domain.TopicDiagnosisCompleted,
	})
}

// Explain handles POST /catalogues/{catalogue}/explain.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ExplainBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if body.Condition == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "condition is required",
		})
		return
	}

	expl, err := h.diagnoser.Explain(ctx, &domain.ExplainRequest{
		DiagnoseRequest: domain.DiagnoseRequest{
			CatalogueID:  GetCatalogueID(ctx),
			Answers:      body.Answers,
			Measurements: body.Measurements,
			TraceID:      GetTraceID(ctx),
		},
		Condition: body.Condition,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, expl)
}

// Symptoms returns the sorted symptom universe of a catalogue.
func (h *Handler) Symptoms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalogueID := GetCatalogueID(ctx)

	rb, err := h.catalogs.RuleBase(ctx, catalogueID)
	if err != nil {
		writeError(w, err)
		return
	}

	symptoms := rb.Symptoms()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"catalogueId": catalogueID,
		"symptoms":    symptoms,
		"count":       len(symptoms),
	})
}

// ListCatalogues returns the stored catalogues without their conditions.
func (h *Handler) ListCatalogues(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalogs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type summary struct {
		ID         string    `json:"id"`
		Version    int       `json:"version"`
		Conditions int       `json:"conditions"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	out := make([]summary, 0, len(cats))
	for _, c := range cats {
		out = append(out, summary{
			ID:         c.ID,
			Version:    c.Version,
			Conditions: len(c.Conditions),
			UpdatedAt:  c.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"catalogues": out,
		"count":      len(out),
	})
}

// GetCatalogue returns the authored conditions of a catalogue.
func (h *Handler) GetCatalogue(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalogs.Catalogue(r.Context(), GetCatalogueID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// PutCatalogue replaces the conditions of a catalogue. Rejected rule bases
// are never stored.
func (h *Handler) PutCatalogue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalogueID := GetCatalogueID(ctx)

	var body CatalogueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cat, err := h.catalogs.Put(ctx, catalogueID, body.Conditions)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cat)
}

// DeleteCatalogue removes a catalogue.
func (h *Handler) DeleteCatalogue(w http.ResponseWriter, r *http.Request) {
	catalogueID := GetCatalogueID(r.Context())

	if err := h.catalogs.Delete(r.Context(), catalogueID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "catalogue deleted",
	})
}

// Reload drops the built rule base so the next request rebuilds it from
// the repository.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalogueID := GetCatalogueID(ctx)

	h.catalogs.Invalidate(ctx, catalogueID)

	rb, err := h.catalogs.RuleBase(ctx, catalogueID)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("catalogue reloaded",
		"catalogue_id", catalogueID,
		"conditions", rb.Len(),
		"rule_bases_loaded", h.catalogs.Loaded(),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "catalogue reloaded successfully",
		"conditions": rb.Len(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: h.version}

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
		}
		if sc, ok := h.cache.(interface{ Stats() cache.LRUStats }); ok {
			stats := sc.Stats()
			resp.Cache = &stats
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		ioe *domain.InvalidObservationError
		ire *domain.InvalidRuleError
	)

	switch {
	case errors.As(err, &ioe):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":           "unknown symptoms",
			"unknownSymptoms": ioe.Symptoms,
		})
	case errors.As(err, &ire):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid rule",
			"details": ire,
		})
	case errors.Is(err, domain.ErrInvalidObservation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrCatalogueNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "catalogue not found",
		})
	case errors.Is(err, domain.ErrUnknownCondition):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
