package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/repo"
)

// fakeStore реализует scheduler.RunStore и engine.Store, чтобы тики
// планировщика проходили через настоящий движок.
type fakeStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*domain.Run
	history map[uuid.UUID][]*domain.State
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:    make(map[uuid.UUID]*domain.Run),
		history: make(map[uuid.UUID][]*domain.State),
	}
}

func (s *fakeStore) Create(ctx context.Context, run *domain.Run, initial *domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.history[run.ID] = []*domain.State{initial}
	return nil
}

func (s *fakeStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil, engine.ErrRunNotFound
	}
	history := s.history[id]
	runCopy := *run
	return &runCopy, history[len(history)-1], nil
}

func (s *fakeStore) AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error {
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

func (s *fakeStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

func (s *fakeStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *fakeStore) lastStateOfAny() *domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, history := range s.history {
		return history[len(history)-1]
	}
	return nil
}

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules []domain.Schedule
	updated   []*domain.Schedule
}

func (s *fakeScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *fakeScheduleStore) Update(ctx context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *schedule
	s.updated = append(s.updated, &copied)
	for i := range s.schedules {
		if s.schedules[i].ID == schedule.ID {
			s.schedules[i] = copied
		}
	}
	return nil
}

type fakeFlowStore struct {
	flows map[uuid.UUID]*domain.Flow
}

func (s *fakeFlowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	flow, ok := s.flows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return flow, nil
}

func testFixture(t *testing.T, flow *domain.Flow, schedules ...domain.Schedule) (*Scheduler, *fakeStore, *fakeScheduleStore) {
	t.Helper()

	store := newFakeStore()
	scheduleStore := &fakeScheduleStore{schedules: schedules}
	flowStore := &fakeFlowStore{flows: map[uuid.UUID]*domain.Flow{}}
	if flow != nil {
		flowStore.flows[flow.ID] = flow
	}

	eng := engine.New(engine.Config{Store: store, Logger: slog.Default()})

	sched := New(Config{
		Schedules: scheduleStore,
		Flows:     flowStore,
		Runs:      store,
		Engine:    eng,
		Logger:    slog.Default(),
	})
	return sched, store, scheduleStore
}

func dueSchedule(flowID uuid.UUID) domain.Schedule {
	past := time.Now().Add(-time.Minute)
	return domain.Schedule{
		ID:          uuid.New(),
		FlowID:      flowID,
		Name:        "nightly-sync",
		IntervalSec: 3600,
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   &past,
	}
}

func TestTick_CreatesRunAndSchedulesIt(t *testing.T) {
	flow := &domain.Flow{ID: uuid.New(), Name: "sync-orders", MaxAttempts: 2, IsActive: true}
	sched := dueSchedule(flow.ID)
	s, store, scheduleStore := testFixture(t, flow, sched)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if store.runCount() != 1 {
		t.Fatalf("expected 1 run, got %d", store.runCount())
	}
	if got := store.lastStateOfAny(); got.Type != domain.StateTypeScheduled {
		t.Errorf("expected run in SCHEDULED, got %s", got.Type)
	}

	if len(scheduleStore.updated) != 1 {
		t.Fatalf("expected schedule update, got %d", len(scheduleStore.updated))
	}
	updated := scheduleStore.updated[0]
	if updated.NextDueAt == nil || !updated.NextDueAt.After(time.Now()) {
		t.Error("expected next_due_at advanced into the future")
	}
	if updated.LastRunID == nil {
		t.Error("expected last_run_id recorded")
	}
}

func TestTick_InactiveFlowSkipsRunButAdvancesSchedule(t *testing.T) {
	flow := &domain.Flow{ID: uuid.New(), Name: "sync-orders", IsActive: false}
	sched := dueSchedule(flow.ID)
	s, store, scheduleStore := testFixture(t, flow, sched)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if store.runCount() != 0 {
		t.Errorf("expected no runs for inactive flow, got %d", store.runCount())
	}
	if len(scheduleStore.updated) != 1 {
		t.Fatalf("expected schedule update, got %d", len(scheduleStore.updated))
	}
	if scheduleStore.updated[0].NextDueAt == nil || !scheduleStore.updated[0].NextDueAt.After(time.Now()) {
		t.Error("expected next_due_at advanced despite inactive flow")
	}
}

func TestTick_MissingFlowIsSkipped(t *testing.T) {
	sched := dueSchedule(uuid.New())
	s, store, scheduleStore := testFixture(t, nil, sched)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if store.runCount() != 0 {
		t.Errorf("expected no runs, got %d", store.runCount())
	}
	if len(scheduleStore.updated) != 0 {
		t.Errorf("expected no schedule updates, got %d", len(scheduleStore.updated))
	}
}

func TestTick_NotDueScheduleIgnored(t *testing.T) {
	flow := &domain.Flow{ID: uuid.New(), Name: "sync-orders", IsActive: true}
	sched := dueSchedule(flow.ID)
	future := time.Now().Add(time.Hour)
	sched.NextDueAt = &future
	s, store, _ := testFixture(t, flow, sched)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if store.runCount() != 0 {
		t.Errorf("expected no runs for future schedule, got %d", store.runCount())
	}
}

func TestCalculateNextDue_Cron(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "UTC"}
	from := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}

	want := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 300, Timezone: "UTC"}
	from := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}

	if want := from.Add(5 * time.Minute); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 60, Timezone: "Mars/Olympus"}

	if _, err := CalculateNextDue(sched, time.Now()); err != nil {
		t.Fatalf("expected UTC fallback, got error: %v", err)
	}
}

func TestCalculateNextDue_EmptyScheduleFails(t *testing.T) {
	sched := &domain.Schedule{Timezone: "UTC"}

	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Fatal("expected error for schedule without cron or interval")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
}
