package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
)

// Flow DTOs

// CreateFlowRequest — запрос на создание flow.
type CreateFlowRequest struct {
	Name            string         `json:"name"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	MaxAttempts     int            `json:"max_attempts,omitempty"`
}

// SetActiveRequest — запрос на включение/выключение flow.
type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	MaxAttempts     int            `json:"max_attempts"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:              f.ID,
		Name:            f.Name,
		ParameterSchema: f.ParameterSchema,
		Tags:            f.Tags,
		MaxAttempts:     f.MaxAttempts,
		IsActive:        f.IsActive,
		CreatedAt:       f.CreatedAt,
	}
}

// Run DTOs

// TriggerRequest — запрос trigger surface POST /run/{id}.
type TriggerRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CacheKey   string         `json:"cache_key,omitempty"`
}

// TransitionRequest — предложение перехода состояния.
type TransitionRequest struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// StateResponse — ответ с состоянием.
type StateResponse struct {
	ID           uuid.UUID      `json:"id"`
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Message      string         `json:"message,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	ResultRef    string         `json:"result_ref,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
}

// StateFromDomain конвертирует domain.State в StateResponse.
func StateFromDomain(s *domain.State) StateResponse {
	if s == nil {
		return StateResponse{}
	}
	return StateResponse{
		ID:           s.ID,
		Type:         string(s.Type),
		Timestamp:    s.Timestamp,
		Message:      s.Message,
		Data:         s.Data,
		ResultRef:    s.ResultRef,
		ScheduledFor: s.ScheduledFor,
	}
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID      `json:"id"`
	FlowID      uuid.UUID      `json:"flow_id"`
	Kind        string         `json:"kind"`
	ParentID    *uuid.UUID     `json:"parent_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Paused      bool           `json:"paused"`
	State       *StateResponse `json:"state,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run и его текущее состояние.
func RunFromDomain(r domain.Run, state *domain.State) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		FlowID:      r.FlowID,
		Kind:        string(r.Kind),
		ParentID:    r.ParentID,
		Tags:        r.Tags,
		Parameters:  r.Parameters,
		Attempt:     r.Attempt,
		MaxAttempts: r.MaxAttempts,
		Paused:      r.Paused,
		CreatedAt:   r.CreatedAt,
	}
	if state != nil {
		s := StateFromDomain(state)
		resp.State = &s
	}
	return resp
}

// TransitionResponse — результат обработки proposal.
type TransitionResponse struct {
	Status     string         `json:"status"`
	State      *StateResponse `json:"state,omitempty"`
	RetryAfter string         `json:"retry_after,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// TransitionFromResult конвертирует engine.Result.
func TransitionFromResult(result *engine.Result) TransitionResponse {
	resp := TransitionResponse{
		Status: string(result.Status),
		Rule:   result.RuleName,
		Reason: result.Reason,
	}
	if result.State != nil {
		s := StateFromDomain(result.State)
		resp.State = &s
	}
	if result.RetryAfter > 0 {
		resp.RetryAfter = result.RetryAfter.String()
	}
	return resp
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID      `json:"id"`
	FlowID      uuid.UUID      `json:"flow_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID     `json:"last_run_id,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		FlowID:      s.FlowID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		Parameters:  s.Parameters,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Limit DTOs

// UpsertLimitRequest — запрос на установку лимита.
type UpsertLimitRequest struct {
	Slots int `json:"slots"`
}

// LimitResponse — ответ с лимитом.
type LimitResponse struct {
	Key   string `json:"key"`
	Slots int    `json:"slots"`
	Held  int    `json:"held"`
}
