package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/rules"
	"github.com/shaiso/Maestro/internal/slots"
)

// --- In-memory Store ---

type memStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*domain.Run
	history map[uuid.UUID][]*domain.State
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[uuid.UUID]*domain.Run),
		history: make(map[uuid.UUID][]*domain.State),
	}
}

func (s *memStore) addRun(run *domain.Run, initial domain.StateType) *domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := domain.NewState(run.ID, initial, "")
	s.runs[run.ID] = run
	s.history[run.ID] = []*domain.State{state}
	return state
}

func (s *memStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	history := s.history[id]
	runCopy := *run
	return &runCopy, history[len(history)-1], nil
}

func (s *memStore) AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.history[runID]
	if !ok {
		return ErrRunNotFound
	}
	if history[len(history)-1].ID != expectedCurrentID {
		return ErrConflict
	}
	s.history[runID] = append(history, state)
	return nil
}

func (s *memStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

func (s *memStore) historyOf(runID uuid.UUID) []*domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.State(nil), s.history[runID]...)
}

type memCache struct {
	mu     sync.Mutex
	states map[string]*domain.State
}

func (c *memCache) Lookup(ctx context.Context, key string) (*domain.State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	return st, ok, nil
}

func (c *memCache) Store(ctx context.Context, key string, state *domain.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states == nil {
		c.states = make(map[string]*domain.State)
	}
	c.states[key] = state
	return nil
}

func testRun(tags ...string) *domain.Run {
	return &domain.Run{
		ID:          uuid.New(),
		FlowID:      uuid.New(),
		Kind:        domain.RunKindFlow,
		Tags:        tags,
		Attempt:     1,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

func propose(t *testing.T, e *Engine, runID uuid.UUID, to domain.StateType) (*Result, error) {
	t.Helper()
	return e.Propose(context.Background(), Proposal{
		RunID: runID,
		State: domain.NewState(runID, to, ""),
	})
}

// --- Basic transitions ---

func TestEngine_CommitsSimpleTransition(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypePending)

	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	result, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCommitted {
		t.Fatalf("status = %s, want COMMITTED", result.Status)
	}
	if result.State.Type != domain.StateTypeRunning {
		t.Errorf("committed type = %s, want RUNNING", result.State.Type)
	}
}

func TestEngine_TerminalRunRejectsProposals(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	if _, err := propose(t, e, run.ID, domain.StateTypeCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestEngine_ForceOverridesTerminalGuard(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	if _, err := propose(t, e, run.ID, domain.StateTypeFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Административный override может перезапустить завершённый run.
	result, err := e.Propose(context.Background(), Proposal{
		RunID: run.ID,
		State: domain.NewState(run.ID, domain.StateTypeScheduled, "manual restart"),
		Force: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCommitted {
		t.Fatalf("status = %s, want COMMITTED", result.Status)
	}
}

func TestEngine_UnknownRunFails(t *testing.T) {
	e := New(Config{Store: newMemStore(), Slots: slots.NewManager(nil)})
	_, err := propose(t, e, uuid.New(), domain.StateTypeRunning)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEngine_InvalidStateTypeFails(t *testing.T) {
	e := New(Config{Store: newMemStore(), Slots: slots.NewManager(nil)})
	runID := uuid.New()
	_, err := e.Propose(context.Background(), Proposal{
		RunID: runID,
		State: &domain.State{ID: uuid.New(), RunID: runID, Type: "BOGUS"},
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// --- Scenario A: retry ---

func TestEngine_RetryRewritesFailureToScheduled(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypeRunning)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	result, err := propose(t, e, run.ID, domain.StateTypeFailed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCommitted {
		t.Fatalf("status = %s, want COMMITTED", result.Status)
	}
	if result.State.Type != domain.StateTypeScheduled {
		t.Fatalf("committed type = %s, want SCHEDULED", result.State.Type)
	}
	if result.State.ScheduledFor == nil || !result.State.ScheduledFor.After(time.Now()) {
		t.Error("retry should have a positive backoff delay")
	}

	stored, _, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Attempt != 2 {
		t.Errorf("persisted attempt = %d, want 2", stored.Attempt)
	}
}

// --- Scenario B: concurrency limit ---

func TestEngine_ConcurrencyLimitWaitsAndRecovers(t *testing.T) {
	store := newMemStore()
	slotMgr := slots.NewManager(nil)
	slotMgr.SetLimit("db", 1)
	e := New(Config{Store: store, Slots: slotMgr})

	r1 := testRun("db")
	r2 := testRun("db")
	store.addRun(r1, domain.StateTypePending)
	store.addRun(r2, domain.StateTypePending)

	result, err := propose(t, e, r1.ID, domain.StateTypeRunning)
	if err != nil || result.Status != StatusCommitted {
		t.Fatalf("first run should commit to RUNNING, got %v / %v", result, err)
	}

	result, err = propose(t, e, r2.ID, domain.StateTypeRunning)
	if err != nil {
		t.Fatalf("WAIT is not an error, got %v", err)
	}
	if result.Status != StatusWait {
		t.Fatalf("status = %s, want WAIT", result.Status)
	}
	if result.RetryAfter <= 0 {
		t.Error("WAIT should carry a retry-after hint")
	}

	// R1 завершился — слот освобождён, повторное предложение R2 проходит.
	if _, err := propose(t, e, r1.ID, domain.StateTypeCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err = propose(t, e, r2.ID, domain.StateTypeRunning)
	if err != nil || result.Status != StatusCommitted {
		t.Fatalf("after release R2 should commit, got %v / %v", result, err)
	}
}

// --- Scenario C: caching bypasses concurrency ---

// countingRule оборачивает правило и считает вызовы Apply.
type countingRule struct {
	rules.Rule
	calls int
}

func (c *countingRule) Apply(ctx context.Context, oc *rules.Context) rules.Decision {
	c.calls++
	return c.Rule.Apply(ctx, oc)
}

func TestEngine_CacheHitShortCircuitsAndSkipsSlots(t *testing.T) {
	store := newMemStore()
	slotMgr := slots.NewManager(nil)
	slotMgr.SetLimit("db", 1)
	cache := &memCache{}

	cachedState := domain.NewState(uuid.New(), domain.StateTypeCompleted, "")
	cachedState.ResultRef = "result://cached"
	_ = cache.Store(context.Background(), "K", cachedState)

	concurrency := &countingRule{Rule: &rules.ConcurrencyLimitRule{Slots: slotMgr}}
	e := New(Config{
		Store: store,
		Slots: slotMgr,
		Cache: cache,
		Rules: []rules.Rule{
			&rules.PauseRule{},
			&rules.CachingRule{Cache: cache},
			concurrency,
			&rules.RetryRule{},
		},
	})

	run := testRun("db")
	run.CacheKey = "K"
	store.addRun(run, domain.StateTypePending)

	result, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCommitted {
		t.Fatalf("status = %s, want COMMITTED", result.Status)
	}
	if result.State.Type != domain.StateTypeCompleted {
		t.Fatalf("committed type = %s, want COMPLETED", result.State.Type)
	}
	if result.State.ResultRef != "result://cached" {
		t.Errorf("result ref = %q, want cached ref", result.State.ResultRef)
	}
	if concurrency.calls != 0 {
		t.Errorf("ConcurrencyLimitRule was consulted %d times, want 0", concurrency.calls)
	}
	if slotMgr.Held("db") != 0 {
		t.Errorf("held slots = %d, want 0 on cache hit", slotMgr.Held("db"))
	}
}

func TestEngine_CompletedRunPopulatesCache(t *testing.T) {
	store := newMemStore()
	cache := &memCache{}
	e := New(Config{Store: store, Slots: slots.NewManager(nil), Cache: cache})

	run := testRun()
	run.CacheKey = "fresh"
	store.addRun(run, domain.StateTypeRunning)

	if _, err := propose(t, e, run.ID, domain.StateTypeCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, hit, _ := cache.Lookup(context.Background(), "fresh"); !hit {
		t.Error("completed run with a cache key should populate the cache")
	}
}

// --- Pause ---

func TestEngine_PauseFlagRewritesToPaused(t *testing.T) {
	store := newMemStore()
	run := testRun()
	run.Paused = true
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	result, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State.Type != domain.StateTypePaused {
		t.Fatalf("committed type = %s, want PAUSED", result.State.Type)
	}
}

// --- Rule panic containment ---

type panickingRule struct{}

func (panickingRule) Name() string { return "broken" }
func (panickingRule) AppliesTo() []rules.Transition {
	return []rules.Transition{{From: rules.AnyState, To: rules.AnyState}}
}
func (panickingRule) Apply(ctx context.Context, oc *rules.Context) rules.Decision {
	panic("rule bug")
}

func TestEngine_RulePanicBecomesVeto(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Rules: []rules.Rule{panickingRule{}}})

	result, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if !errors.Is(err, ErrRuleVeto) {
		t.Fatalf("expected ErrRuleVeto, got %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("status = %s, want REJECTED", result.Status)
	}

	// Состояние run не испорчено.
	if history := store.historyOf(run.ID); len(history) != 1 {
		t.Errorf("history length = %d, want 1 (nothing committed)", len(history))
	}
}

// --- Conflict ---

type conflictingStore struct {
	*memStore
	failNext bool
}

func (s *conflictingStore) AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error {
	if s.failNext {
		s.failNext = false
		return ErrConflict
	}
	return s.memStore.AppendState(ctx, runID, expectedCurrentID, state)
}

func TestEngine_ConflictSurfacesToProposer(t *testing.T) {
	store := &conflictingStore{memStore: newMemStore(), failNext: true}
	run := testRun()
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	_, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Conflict безопасно повторить после reload.
	result, err := propose(t, e, run.ID, domain.StateTypeRunning)
	if err != nil || result.Status != StatusCommitted {
		t.Fatalf("retry after conflict should commit, got %v / %v", result, err)
	}
}

// --- History ordering under concurrency ---

func TestEngine_ConcurrentProposalsKeepHistoryContiguous(t *testing.T) {
	store := newMemStore()
	run := testRun()
	store.addRun(run, domain.StateTypePending)
	e := New(Config{Store: store, Slots: slots.NewManager(nil)})

	// Конкурирующие proposers гонят run по циклу:
	// PENDING → RUNNING → FAILED(→SCHEDULED) → PENDING → ...
	// Не каждое предложение валидно в момент обработки; важно, что
	// зафиксированная история остаётся связной и монотонной.
	next := map[domain.StateType]domain.StateType{
		domain.StateTypePending:   domain.StateTypeRunning,
		domain.StateTypeRunning:   domain.StateTypeFailed,
		domain.StateTypeScheduled: domain.StateTypePending,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, current, err := store.GetRun(context.Background(), run.ID)
				if err != nil {
					return
				}
				to, ok := next[current.Type]
				if !ok {
					return
				}
				_, _ = propose(t, e, run.ID, to)
			}
		}()
	}
	wg.Wait()

	history := store.historyOf(run.ID)
	seen := make(map[uuid.UUID]bool, len(history))
	for i, state := range history {
		if seen[state.ID] {
			t.Fatalf("duplicate state %s in history", state.ID)
		}
		seen[state.ID] = true
		if i > 0 && !state.Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("history not monotonic at %d: %v >= %v",
				i, history[i-1].Timestamp, state.Timestamp)
		}
		if state.Type.IsTerminal() && i != len(history)-1 {
			t.Fatalf("terminal state %s at %d is not last of %d", state.Type, i, len(history))
		}
	}
}
