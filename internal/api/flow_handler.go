package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
)

// ListFlows возвращает список flows.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
			offset = n
		}
	}

	flows, err := h.flows.List(r.Context(), limit, offset)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, flow := range flows {
		result[i] = FlowFromDomain(flow)
	}
	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	// Схема проверяется на парсинг сразу, а не на первом триггере.
	if err := parseSchema(req.ParameterSchema); err != nil {
		BadRequest(w, "invalid parameter schema")
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	flow := &domain.Flow{
		ID:              uuid.New(),
		Name:            req.Name,
		ParameterSchema: req.ParameterSchema,
		Tags:            req.Tags,
		MaxAttempts:     maxAttempts,
		IsActive:        true,
		CreatedAt:       time.Now(),
	}

	if err := h.flows.Create(r.Context(), flow); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	flow, err := h.flows.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// SetFlowActive включает/выключает flow.
// PUT /api/v1/flows/{id}/active
func (h *Handler) SetFlowActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.flows.SetActive(r.Context(), id, req.IsActive); err != nil {
		if HandleStoreError(w, h.logger, err, "flow not found") {
			return
		}
	}

	NoContent(w)
}
