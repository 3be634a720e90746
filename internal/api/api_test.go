package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/repo"
	"github.com/shaiso/Maestro/internal/slots"
)

// --- Fakes ---

type fakeFlowStore struct {
	mu    sync.Mutex
	flows map[uuid.UUID]*domain.Flow
}

func newFakeFlowStore() *fakeFlowStore {
	return &fakeFlowStore{flows: make(map[uuid.UUID]*domain.Flow)}
}

func (s *fakeFlowStore) Create(ctx context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow
	return nil
}

func (s *fakeFlowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *flow
	return &out, nil
}

func (s *fakeFlowStore) List(ctx context.Context, limit, offset int) ([]domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Flow
	for _, flow := range s.flows {
		out = append(out, *flow)
	}
	return out, nil
}

func (s *fakeFlowStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return repo.ErrNotFound
	}
	flow.IsActive = active
	return nil
}

// fakeRunStore реализует и api.RunStore, и engine.Store, так что
// handlers в тестах работают через настоящий движок.
type fakeRunStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*domain.Run
	history map[uuid.UUID][]*domain.State
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:    make(map[uuid.UUID]*domain.Run),
		history: make(map[uuid.UUID][]*domain.State),
	}
}

func (s *fakeRunStore) Create(ctx context.Context, run *domain.Run, initial *domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.history[run.ID] = []*domain.State{initial}
	return nil
}

func (s *fakeRunStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil, engine.ErrRunNotFound
	}
	history := s.history[id]
	out := *run
	return &out, history[len(history)-1], nil
}

func (s *fakeRunStore) AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.history[runID]
	if !ok {
		return engine.ErrRunNotFound
	}
	if history[len(history)-1].ID != expectedCurrentID {
		return engine.ErrConflict
	}
	s.history[runID] = append(history, state)
	return nil
}

func (s *fakeRunStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return engine.ErrRunNotFound
	}
	out := *run
	s.runs[run.ID] = &out
	return nil
}

func (s *fakeRunStore) History(ctx context.Context, runID uuid.UUID) ([]domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.history[runID]
	if !ok {
		return nil, engine.ErrRunNotFound
	}
	out := make([]domain.State, len(history))
	for i, state := range history {
		out[i] = *state
	}
	return out, nil
}

func (s *fakeRunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		if filter.FlowID != nil && run.FlowID != *filter.FlowID {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

// --- Test harness ---

type testAPI struct {
	mux   *http.ServeMux
	flows *fakeFlowStore
	runs  *fakeRunStore
	slots *slots.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	flows := newFakeFlowStore()
	runs := newFakeRunStore()
	slotMgr := slots.NewManager(nil)

	eng := engine.New(engine.Config{Store: runs, Slots: slotMgr})
	handler := NewHandler(Config{
		Flows:  flows,
		Runs:   runs,
		Engine: eng,
		Slots:  slotMgr,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testAPI{mux: mux, flows: flows, runs: runs, slots: slotMgr}
}

func (a *testAPI) addFlow(t *testing.T, schema map[string]any) *domain.Flow {
	t.Helper()
	flow := &domain.Flow{
		ID:              uuid.New(),
		Name:            "etl-daily",
		ParameterSchema: schema,
		MaxAttempts:     3,
		IsActive:        true,
		CreatedAt:       time.Now(),
	}
	if err := a.flows.Create(context.Background(), flow); err != nil {
		t.Fatalf("create flow: %v", err)
	}
	return flow
}

func (a *testAPI) addRun(t *testing.T, initial domain.StateType) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:          uuid.New(),
		FlowID:      uuid.New(),
		Kind:        domain.RunKindFlow,
		Attempt:     1,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
	if err := a.runs.Create(context.Background(), run, domain.NewState(run.ID, initial, "")); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

// --- Trigger surface ---

func TestTriggerRun_Created(t *testing.T) {
	a := newTestAPI(t)
	flow := a.addFlow(t, map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})

	rec := a.do(t, http.MethodPost, "/run/"+flow.ID.String(), TriggerRequest{
		Parameters: map[string]any{"name": "nightly"},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	run := decodeData[RunResponse](t, rec)
	if run.State == nil || run.State.Type != string(domain.StateTypeScheduled) {
		t.Errorf("triggered run should be SCHEDULED, got %+v", run.State)
	}
}

func TestTriggerRun_SchemaViolation(t *testing.T) {
	a := newTestAPI(t)
	flow := a.addFlow(t, map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})

	rec := a.do(t, http.MethodPost, "/run/"+flow.ID.String(), TriggerRequest{
		Parameters: map[string]any{"name": 42},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(a.runs.runs) != 0 {
		t.Error("no run should be created on schema failure")
	}
}

func TestTriggerRun_MissingRequiredParameter(t *testing.T) {
	a := newTestAPI(t)
	flow := a.addFlow(t, map[string]any{
		"type":     "object",
		"required": []any{"name"},
	})

	rec := a.do(t, http.MethodPost, "/run/"+flow.ID.String(), TriggerRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTriggerRun_UnknownFlow(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/run/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerRun_InactiveFlow(t *testing.T) {
	a := newTestAPI(t)
	flow := a.addFlow(t, nil)
	_ = a.flows.SetActive(context.Background(), flow.ID, false)

	rec := a.do(t, http.MethodPost, "/run/"+flow.ID.String(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- Transition surface ---

func TestProposeTransition_Committed(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePending)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
		TransitionRequest{Type: "RUNNING"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeData[TransitionResponse](t, rec)
	if resp.Status != string(engine.StatusCommitted) {
		t.Errorf("status = %s, want COMMITTED", resp.Status)
	}
}

func TestProposeTransition_AlreadyTerminal(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypeCompleted)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
		TransitionRequest{Type: "RUNNING"})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var envelope ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != ErrCodeTerminal {
		t.Errorf("code = %s, want ALREADY_TERMINAL", envelope.Error.Code)
	}
}

func TestProposeTransition_ForceOverridesTerminal(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypeFailed)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
		TransitionRequest{Type: "SCHEDULED", Force: true})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
}

func TestProposeTransition_InvalidType(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePending)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
		TransitionRequest{Type: "LIMBO"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- Cancel / pause / resume ---

func TestCancelRun_RunningGoesThroughCancelling(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypeRunning)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeData[TransitionResponse](t, rec)
	if resp.State == nil || resp.State.Type != string(domain.StateTypeCancelling) {
		t.Errorf("running run should pass through CANCELLING, got %+v", resp.State)
	}
}

func TestCancelRun_IdleGoesStraightToCancelled(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePending)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeData[TransitionResponse](t, rec)
	if resp.State == nil || resp.State.Type != string(domain.StateTypeCancelled) {
		t.Errorf("idle run should go straight to CANCELLED, got %+v", resp.State)
	}
}

func TestPauseThenRunningIsRewrittenToPaused(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePending)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
		TransitionRequest{Type: "RUNNING"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d, want 200", rec.Code)
	}
	resp := decodeData[TransitionResponse](t, rec)
	if resp.State == nil || resp.State.Type != string(domain.StateTypePaused) {
		t.Errorf("paused run should be rewritten to PAUSED, got %+v", resp.State)
	}
}

func TestResume_PausedRunBackToScheduled(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePaused)
	run.Paused = true
	_ = a.runs.UpdateRun(context.Background(), run)

	rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeData[RunResponse](t, rec)
	if resp.State == nil || resp.State.Type != string(domain.StateTypeScheduled) {
		t.Errorf("resumed run should be SCHEDULED, got %+v", resp.State)
	}
	if resp.Paused {
		t.Error("resumed run should not be paused")
	}
}

// --- History ---

func TestGetRunHistory(t *testing.T) {
	a := newTestAPI(t)
	run := a.addRun(t, domain.StateTypePending)

	for _, to := range []string{"RUNNING", "COMPLETED"} {
		rec := a.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/transition",
			TransitionRequest{Type: to})
		if rec.Code != http.StatusOK {
			t.Fatalf("transition to %s: status = %d", to, rec.Code)
		}
	}

	rec := a.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var envelope struct {
		Data []StateResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 3 {
		t.Fatalf("history length = %d, want 3", len(envelope.Data))
	}
	if envelope.Data[2].Type != string(domain.StateTypeCompleted) {
		t.Errorf("last state = %s, want COMPLETED", envelope.Data[2].Type)
	}
}

// --- Limits ---

func TestLimits_UpsertAndList(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPut, "/api/v1/limits/db", UpsertLimitRequest{Slots: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/limits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var envelope struct {
		Data []LimitResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].Key != "db" || envelope.Data[0].Slots != 3 {
		t.Errorf("unexpected limits: %+v", envelope.Data)
	}
}
