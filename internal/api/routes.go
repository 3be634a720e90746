package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		RequestID(),
		Metrics(),
		Logging(h.logger),
	)

	// Trigger surface
	mux.Handle("POST /run/{id}", chain(http.HandlerFunc(h.TriggerRun)))

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows", chain(http.HandlerFunc(h.CreateFlow)))
	mux.Handle("GET /api/v1/flows/{id}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("PUT /api/v1/flows/{id}/active", chain(http.HandlerFunc(h.SetFlowActive)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/history", chain(http.HandlerFunc(h.GetRunHistory)))
	mux.Handle("POST /api/v1/runs/{id}/transition", chain(http.HandlerFunc(h.ProposeTransition)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("POST /api/v1/runs/{id}/pause", chain(http.HandlerFunc(h.PauseRun)))
	mux.Handle("POST /api/v1/runs/{id}/resume", chain(http.HandlerFunc(h.ResumeRun)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/flows/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))

	// Concurrency limits
	mux.Handle("GET /api/v1/limits", chain(http.HandlerFunc(h.ListLimits)))
	mux.Handle("PUT /api/v1/limits/{key}", chain(http.HandlerFunc(h.UpsertLimit)))
	mux.Handle("DELETE /api/v1/limits/{key}", chain(http.HandlerFunc(h.DeleteLimit)))
}
