package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/repo"
)

// TriggerRun — trigger surface: создаёт и планирует run для flow.
// POST /run/{id}
//
// Контракт: 201 при принятом запуске, 400 при параметрах,
// не проходящих схему flow.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	flow, err := h.flows.GetByID(r.Context(), flowID)
	if HandleStoreError(w, h.logger, err, "flow not found") {
		return
	}
	if !flow.IsActive {
		BadRequest(w, "flow is not active")
		return
	}

	if err := validateParameters(flow.ParameterSchema, req.Parameters); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := flow.NewRun(req.Parameters)
	run.Tags = append(run.Tags, req.Tags...)
	if req.CacheKey != "" {
		run.CacheKey = req.CacheKey
	}

	initial := domain.NewState(run.ID, domain.StateTypePending, "run created via trigger")
	if err := h.runs.Create(r.Context(), run, initial); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result, err := h.engine.Propose(r.Context(), engine.Proposal{
		RunID: run.ID,
		State: domain.NewState(run.ID, domain.StateTypeScheduled, "scheduled by trigger"),
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	if h.publisher != nil && result.Status == engine.StatusCommitted {
		if err := h.publisher.PublishRunScheduled(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.scheduled", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run, result.State))
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?flow_id=...&state=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if flowIDStr := r.URL.Query().Get("flow_id"); flowIDStr != "" {
		flowID, err := uuid.Parse(flowIDStr)
		if err != nil {
			BadRequest(w, "invalid flow_id")
			return
		}
		filter.FlowID = &flowID
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filter.State = domain.StateType(state)
		if !filter.State.Valid() {
			BadRequest(w, "invalid state")
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run, nil)
	}
	List(w, result, len(result))
}

// GetRun возвращает run с текущим состоянием.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, state, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run, state))
}

// GetRunHistory возвращает историю состояний run.
// GET /api/v1/runs/{id}/history
func (h *Handler) GetRunHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	history, err := h.runs.History(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	result := make([]StateResponse, len(history))
	for i := range history {
		result[i] = StateFromDomain(&history[i])
	}
	List(w, result, len(result))
}

// ProposeTransition — proposal surface: предлагает переход состояния.
// POST /api/v1/runs/{id}/transition
func (h *Handler) ProposeTransition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	stateType := domain.StateType(req.Type)
	if !stateType.Valid() {
		BadRequest(w, "invalid state type")
		return
	}

	result, err := h.engine.Propose(r.Context(), engine.Proposal{
		RunID: id,
		State: domain.NewState(id, stateType, req.Message),
		Force: req.Force,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, TransitionFromResult(result))
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
//
// Выполняющийся run сперва переводится в CANCELLING: worker увидит
// событие, прервёт инфраструктуру и зафиксирует CANCELLED сам.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	_, current, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	target := domain.StateTypeCancelled
	if current.Type == domain.StateTypeRunning {
		target = domain.StateTypeCancelling
	}

	result, err := h.engine.Propose(r.Context(), engine.Proposal{
		RunID: id,
		State: domain.NewState(id, target, "cancelled via API"),
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, TransitionFromResult(result))
}

// PauseRun выставляет флаг паузы: следующий переход в RUNNING
// будет переписан в PAUSED.
// POST /api/v1/runs/{id}/pause
func (h *Handler) PauseRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, state, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}
	if state.Type.IsTerminal() {
		Error(w, http.StatusConflict, ErrCodeTerminal, "run is in a terminal state")
		return
	}

	run.Paused = true
	if err := h.runs.UpdateRun(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, RunFromDomain(*run, state))
}

// ResumeRun снимает флаг паузы и возвращает PAUSED run в планирование.
// POST /api/v1/runs/{id}/resume
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, state, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	run.Paused = false
	if err := h.runs.UpdateRun(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if state.Type != domain.StateTypePaused {
		Success(w, RunFromDomain(*run, state))
		return
	}

	result, err := h.engine.Propose(r.Context(), engine.Proposal{
		RunID: id,
		State: domain.NewState(id, domain.StateTypeScheduled, "resumed via API"),
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	if h.publisher != nil && result.Status == engine.StatusCommitted {
		if err := h.publisher.PublishRunScheduled(r.Context(), id); err != nil {
			h.logger.Warn("failed to publish run.scheduled", "run_id", id, "error", err)
		}
	}

	if result.State != nil {
		state = result.State
	}
	Success(w, RunFromDomain(*run, state))
}
