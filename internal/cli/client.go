package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// FlowResponse — flow из API.
type FlowResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	MaxAttempts     int            `json:"max_attempts"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       string         `json:"created_at"`
}

// StateResponse — состояние run из API.
type StateResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Timestamp    string         `json:"timestamp"`
	Message      string         `json:"message,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	ResultRef    string         `json:"result_ref,omitempty"`
	ScheduledFor string         `json:"scheduled_for,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID          string         `json:"id"`
	FlowID      string         `json:"flow_id"`
	Kind        string         `json:"kind"`
	Tags        []string       `json:"tags,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Paused      bool           `json:"paused"`
	State       *StateResponse `json:"state,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// TransitionResponse — результат предложения перехода.
type TransitionResponse struct {
	Status     string         `json:"status"`
	State      *StateResponse `json:"state,omitempty"`
	RetryAfter string         `json:"retry_after,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string         `json:"id"`
	FlowID      string         `json:"flow_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   string         `json:"next_due_at,omitempty"`
	LastRunAt   string         `json:"last_run_at,omitempty"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// LimitResponse — лимит конкурентности из API.
type LimitResponse struct {
	Key   string `json:"key"`
	Slots int    `json:"slots"`
	Held  int    `json:"held"`
}

// --- Request types ---

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	Name            string         `json:"name"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	MaxAttempts     int            `json:"max_attempts,omitempty"`
}

// TriggerRequest — запуск flow через trigger surface.
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

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	FlowID string
	State  string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Maestro API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает все flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// CreateFlow создаёт новый flow.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+id, &flow)
	return &flow, err
}

// SetFlowActive включает/выключает flow.
func (c *Client) SetFlowActive(id string, active bool) error {
	body := map[string]bool{"is_active": active}
	return c.put("/api/v1/flows/"+id+"/active", body, nil)
}

// --- Runs ---

// TriggerRun запускает flow через trigger surface POST /run/{id}.
func (c *Client) TriggerRun(flowID string, req TriggerRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/run/"+flowID, req, &run)
	return &run, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.FlowID != "" {
		params.Set("flow_id", opts.FlowID)
	}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// GetRunHistory возвращает историю состояний run.
func (c *Client) GetRunHistory(id string) ([]StateResponse, error) {
	var states []StateResponse
	err := c.list("/api/v1/runs/"+id+"/history", nil, &states)
	return states, err
}

// ProposeTransition предлагает переход состояния для run.
func (c *Client) ProposeTransition(id string, req TransitionRequest) (*TransitionResponse, error) {
	var result TransitionResponse
	err := c.post("/api/v1/runs/"+id+"/transition", req, &result)
	return &result, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*TransitionResponse, error) {
	var result TransitionResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &result)
	return &result, err
}

// PauseRun ставит run на паузу.
func (c *Client) PauseRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/pause", nil, &run)
	return &run, err
}

// ResumeRun снимает run с паузы.
func (c *Client) ResumeRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/resume", nil, &run)
	return &run, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если flowID не пустой — фильтрует.
func (c *Client) ListSchedules(flowID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if flowID != "" {
		params.Set("flow_id", flowID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для flow.
func (c *Client) CreateSchedule(flowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/flows/"+flowID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) error {
	body := map[string]bool{"enabled": true}
	return c.put("/api/v1/schedules/"+id+"/enabled", body, nil)
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) error {
	body := map[string]bool{"enabled": false}
	return c.put("/api/v1/schedules/"+id+"/enabled", body, nil)
}

// --- Limits ---

// ListLimits возвращает лимиты конкурентности.
func (c *Client) ListLimits() ([]LimitResponse, error) {
	var limits []LimitResponse
	err := c.list("/api/v1/limits", nil, &limits)
	return limits, err
}

// UpsertLimit устанавливает лимит конкурентности.
func (c *Client) UpsertLimit(key string, slots int) (*LimitResponse, error) {
	body := map[string]int{"slots": slots}
	var limit LimitResponse
	err := c.put("/api/v1/limits/"+key, body, &limit)
	return &limit, err
}

// DeleteLimit удаляет лимит конкурентности.
func (c *Client) DeleteLimit(key string) error {
	return c.delete("/api/v1/limits/" + key)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
